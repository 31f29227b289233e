package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervault/peervault/internal/backup"
	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/filex"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/provider"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/snapshot"
	"github.com/peervault/peervault/internal/status"
	"github.com/peervault/peervault/internal/transport/inproc"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var sourceFiles = map[string]string{
	"logbook.adi":             "0123456789",
	"messages/2025/june.json": "01234567890123456789",
	"notes.txt":               "01234",
}

type noopClientHandler struct{}

func (noopClientHandler) HandleInviteResponse(context.Context, string, *protocol.BackupInviteResponse) error {
	return nil
}

func (noopClientHandler) HandleDiscoveryResponse(context.Context, string, *protocol.DiscoveryResponse) error {
	return nil
}

// roundTripEnv is a backed-up client plus a restore executor pointed at
// an empty directory, talking to a live in-process provider.
type roundTripEnv struct {
	restorer   *Executor
	providerID *identity.NostrIdentity
	snapshots  *snapshot.Store
	relations  *relationship.Store
	id         *identity.NostrIdentity
	restoreDir string
	snapshotID string
}

func newRoundTripEnv(t *testing.T) *roundTripEnv {
	t.Helper()
	clk := clock.NewFake(testNow)
	fabric := inproc.NewFabric()

	providerDir := t.TempDir()
	providerRelations, err := relationship.NewStore(providerDir)
	require.NoError(t, err)
	snapshots := snapshot.NewStore(providerDir, snapshot.NewFSBlobStore(providerDir))
	providerID, err := identity.NewNostrIdentity("BASE1", identity.GenerateSecretKey())
	require.NoError(t, err)
	providerPeer := fabric.Join("BASE1")
	svc := provider.NewService(providerID, providerRelations, snapshots, providerPeer, providerPeer, clk, logging.Noop())
	statusHandler := protocol.StatusHandlerFunc(func(_ context.Context, from string, msg *protocol.StatusChange) error {
		return providerRelations.ApplyPeerStatus(from, msg.Status)
	})
	providerPeer.Attach(protocol.NewRouter(noopClientHandler{}, svc, statusHandler, clk, logging.Noop()), svc)

	id, err := identity.NewNostrIdentity("ALFA", identity.GenerateSecretKey())
	require.NoError(t, err)
	relations, err := relationship.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, relations.PutProvider(relationship.ProviderRelationship{
		ProviderPublicKey:  providerID.PublicKey(),
		ProviderCallsign:   "BASE1",
		BackupIntervalDays: 3,
		Status:             relationship.StatusActive,
	}))
	require.NoError(t, providerRelations.PutClient(relationship.ClientRelationship{
		ClientPublicKey: id.PublicKey(),
		ClientCallsign:  "ALFA",
		MaxStorageBytes: 1073741824,
		MaxSnapshots:    10,
		Status:          relationship.StatusActive,
	}))

	srcDir := t.TempDir()
	for rel, content := range sourceFiles {
		path := filepath.Join(srcDir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	}

	peer := fabric.Join("ALFA")
	backupExec := backup.NewExecutor(id, relations, filex.NewTree(srcDir), peer, clk, logging.Noop())
	snapshotID, err := backupExec.Start(context.Background(), "BASE1")
	require.NoError(t, err)
	final := waitTransfer(t, backupExec.Subscribe)
	require.Equal(t, status.StateComplete, final.State, "seed backup failed: %s", final.Error)

	restoreDir := t.TempDir()
	restorer := NewExecutor(id, relations, filex.NewTree(restoreDir), peer, clk, logging.Noop())

	return &roundTripEnv{
		restorer:   restorer,
		providerID: providerID,
		snapshots:  snapshots,
		relations:  relations,
		id:         id,
		restoreDir: restoreDir,
		snapshotID: snapshotID,
	}
}

func waitTransfer(t *testing.T, subscribe func() (<-chan status.Transfer, func())) status.Transfer {
	t.Helper()
	ch, cancel := subscribe()
	defer cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr := <-ch:
			if tr.State == status.StateComplete || tr.State == status.StateFailed {
				return tr
			}
		case <-deadline:
			t.Fatal("transfer did not reach a terminal state")
		}
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	e := newRoundTripEnv(t)

	require.NoError(t, e.restorer.Start(context.Background(), "BASE1", e.snapshotID))
	final := waitTransfer(t, e.restorer.Subscribe)
	require.Equal(t, status.StateComplete, final.State, "error: %s", final.Error)
	assert.Equal(t, 3, final.FilesTransferred)
	assert.Equal(t, int64(35), final.BytesTransferred)
	assert.Equal(t, 100, final.ProgressPercent)

	for rel, want := range sourceFiles {
		got, err := os.ReadFile(filepath.Join(e.restoreDir, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(got), rel)
	}
}

// corruptEntry replaces the stored blob for one manifest entry with a
// validly encrypted blob holding the wrong content.
func corruptEntry(t *testing.T, e *roundTripEnv, relPath string) {
	t.Helper()
	sealed, err := e.snapshots.GetManifest("ALFA", e.snapshotID)
	require.NoError(t, err)
	opened, err := e.id.Decrypt(sealed, e.id.PublicKey())
	require.NoError(t, err)
	manifest, err := snapshot.DecodeManifest(opened)
	require.NoError(t, err)

	for _, entry := range manifest.Files {
		if entry.RelativePath != relPath {
			continue
		}
		forged, err := e.id.Encrypt([]byte("forged content"), e.providerID.PublicKey())
		require.NoError(t, err)
		require.NoError(t, e.snapshots.PutBlob(context.Background(), "ALFA", e.snapshotID, entry.EncryptedBlobName, forged))
		return
	}
	t.Fatalf("no manifest entry for %s", relPath)
}

func TestRestore_HashMismatchAborts(t *testing.T) {
	e := newRoundTripEnv(t)
	corruptEntry(t, e, "messages/2025/june.json")

	require.NoError(t, e.restorer.Start(context.Background(), "BASE1", e.snapshotID))
	final := waitTransfer(t, e.restorer.Subscribe)
	require.Equal(t, status.StateFailed, final.State)
	assert.Contains(t, final.Error, common.ErrHashMismatch.Error())
	assert.Contains(t, final.Error, "messages/2025/june.json")

	// Entries before the bad one stay restored, later ones never arrive.
	got, err := os.ReadFile(filepath.Join(e.restoreDir, "logbook.adi"))
	require.NoError(t, err)
	assert.Equal(t, sourceFiles["logbook.adi"], string(got))
	_, err = os.Stat(filepath.Join(e.restoreDir, "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRestore_MissingSnapshotFails(t *testing.T) {
	e := newRoundTripEnv(t)

	require.NoError(t, e.restorer.Start(context.Background(), "BASE1", "2024-01-01"))
	final := waitTransfer(t, e.restorer.Subscribe)
	require.Equal(t, status.StateFailed, final.State)
	assert.Contains(t, final.Error, common.ErrManifestDownload.Error())
}

type blockingMessenger struct {
	release   chan struct{}
	downloads atomic.Int32
}

func (m *blockingMessenger) SendMessage(context.Context, string, []byte) error { return nil }

func (m *blockingMessenger) Upload(context.Context, string, string, []byte) error { return nil }

func (m *blockingMessenger) Download(context.Context, string, string) ([]byte, error) {
	m.downloads.Add(1)
	<-m.release
	return nil, errors.New("released without data")
}

func newStubExecutor(t *testing.T, m *blockingMessenger, providerStatus relationship.Status) *Executor {
	t.Helper()
	relations, err := relationship.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, relations.PutProvider(relationship.ProviderRelationship{
		ProviderPublicKey: "pk-BASE1",
		ProviderCallsign:  "BASE1",
		Status:            providerStatus,
	}))
	id, err := identity.NewNostrIdentity("ALFA", identity.GenerateSecretKey())
	require.NoError(t, err)
	return NewExecutor(id, relations, filex.NewTree(t.TempDir()), m, clock.NewFake(testNow), logging.Noop())
}

func TestRestore_UnknownProvider(t *testing.T) {
	exec := newStubExecutor(t, &blockingMessenger{release: make(chan struct{})}, relationship.StatusActive)
	err := exec.Start(context.Background(), "NOBODY", "2025-06-01")
	assert.True(t, errors.Is(err, common.ErrProviderNotFound))
}

func TestRestore_TerminatedProviderStillAdmitted(t *testing.T) {
	m := &blockingMessenger{release: make(chan struct{})}
	exec := newStubExecutor(t, m, relationship.StatusTerminated)

	require.NoError(t, exec.Start(context.Background(), "BASE1", "2025-06-01"))
	close(m.release)
	final := waitTransfer(t, exec.Subscribe)
	assert.Equal(t, status.StateFailed, final.State)
}

func TestRestore_SingleFlight(t *testing.T) {
	m := &blockingMessenger{release: make(chan struct{})}
	exec := newStubExecutor(t, m, relationship.StatusActive)
	ctx := context.Background()

	require.NoError(t, exec.Start(ctx, "BASE1", "2025-06-01"))
	require.Eventually(t, func() bool { return m.downloads.Load() > 0 },
		2*time.Second, 10*time.Millisecond)

	err := exec.Start(ctx, "BASE1", "2025-06-01")
	assert.True(t, errors.Is(err, common.ErrAlreadyInProgress))

	close(m.release)
	final := waitTransfer(t, exec.Subscribe)
	assert.Equal(t, status.StateFailed, final.State)

	require.NoError(t, exec.Start(ctx, "BASE1", "2025-06-01"))
	waitTransfer(t, exec.Subscribe)
}
