package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervault/peervault/internal/backup"
	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/discovery"
	"github.com/peervault/peervault/internal/filex"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/provider"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/restore"
	"github.com/peervault/peervault/internal/snapshot"
	"github.com/peervault/peervault/internal/status"
	"github.com/peervault/peervault/internal/transport/inproc"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type providerNode struct {
	svc       *provider.Service
	relations *relationship.Store
	snapshots *snapshot.Store
	id        *identity.NostrIdentity
	peer      *inproc.Peer
}

func newProviderNode(t *testing.T, fabric *inproc.Fabric, callsign string, clk clock.Clock) *providerNode {
	t.Helper()
	dir := t.TempDir()
	relations, err := relationship.NewStore(dir)
	require.NoError(t, err)
	snapshots := snapshot.NewStore(dir, snapshot.NewFSBlobStore(dir))
	id, err := identity.NewNostrIdentity(callsign, identity.GenerateSecretKey())
	require.NoError(t, err)

	peer := fabric.Join(callsign)
	svc := provider.NewService(id, relations, snapshots, peer, peer, clk, logging.Noop())
	statusHandler := protocol.StatusHandlerFunc(func(_ context.Context, from string, msg *protocol.StatusChange) error {
		return relations.ApplyPeerStatus(from, msg.Status)
	})
	peer.Attach(protocol.NewRouter(noopClientHandler{}, svc, statusHandler, clk, logging.Noop()), svc)

	return &providerNode{svc: svc, relations: relations, snapshots: snapshots, id: id, peer: peer}
}

type noopClientHandler struct{}

func (noopClientHandler) HandleInviteResponse(context.Context, string, *protocol.BackupInviteResponse) error {
	return nil
}

func (noopClientHandler) HandleDiscoveryResponse(context.Context, string, *protocol.DiscoveryResponse) error {
	return nil
}

type noopProviderHandler struct{}

func (noopProviderHandler) HandleInvite(context.Context, string, *protocol.BackupInvite) error {
	return nil
}

func (noopProviderHandler) HandleBackupStart(context.Context, string, *protocol.BackupStart) error {
	return nil
}

func (noopProviderHandler) HandleBackupComplete(context.Context, string, *protocol.BackupComplete) error {
	return nil
}

func (noopProviderHandler) HandleDiscoveryChallenge(context.Context, string, *protocol.DiscoveryChallenge) error {
	return nil
}

type clientEnv struct {
	svc       *Service
	relations *relationship.Store
	provider  *providerNode
	clk       *clock.Fake
	id        *identity.NostrIdentity
	srcDir    string
}

func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()
	clk := clock.NewFake(testNow)
	fabric := inproc.NewFabric()
	node := newProviderNode(t, fabric, "BASE1", clk)

	id, err := identity.NewNostrIdentity("ALFA", identity.GenerateSecretKey())
	require.NoError(t, err)
	relations, err := relationship.NewStore(t.TempDir())
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "logbook.adi"), []byte("0123456789"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notes.txt"), []byte("01234"), 0o640))
	tree := filex.NewTree(srcDir)

	peer := fabric.Join("ALFA")
	backupExec := backup.NewExecutor(id, relations, tree, peer, clk, logging.Noop())
	restoreExec := restore.NewExecutor(id, relations, tree, peer, clk, logging.Noop())
	coord := discovery.NewCoordinator(id, peer, peer, clk, logging.Noop())
	svc := NewService(id, relations, backupExec, restoreExec, coord, peer, clk, logging.Noop())

	statusHandler := protocol.StatusHandlerFunc(func(_ context.Context, from string, msg *protocol.StatusChange) error {
		return relations.ApplyPeerStatus(from, msg.Status)
	})
	peer.Attach(protocol.NewRouter(svc, noopProviderHandler{}, statusHandler, clk, logging.Noop()), nil)

	return &clientEnv{svc: svc, relations: relations, provider: node, clk: clk, id: id, srcDir: srcDir}
}

func TestSendInvite_AutoAccepted(t *testing.T) {
	e := newClientEnv(t)
	settings := e.provider.relations.Settings()
	settings.AutoAcceptFromContacts = true
	require.NoError(t, e.provider.svc.UpdateSettings(settings))
	e.provider.peer.AddContact("ALFA")

	rel, err := e.svc.SendInvite(context.Background(), "BASE1", 3)
	require.NoError(t, err)
	assert.Equal(t, relationship.StatusActive, rel.Status)
	assert.Equal(t, e.provider.id.PublicKey(), rel.ProviderPublicKey)
	assert.Equal(t, int64(1073741824), rel.MaxStorageBytes)
	assert.Equal(t, 10, rel.MaxSnapshots)
	assert.Equal(t, 3, rel.BackupIntervalDays)

	// Both sides persisted the relationship.
	stored, ok := e.relations.Provider("BASE1")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusActive, stored.Status)
	clientRel, ok := e.provider.relations.Client("ALFA")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusActive, clientRel.Status)
	assert.Equal(t, e.id.PublicKey(), clientRel.ClientPublicKey)
}

func TestSendInvite_DeclinedByDisabledProvider(t *testing.T) {
	e := newClientEnv(t)
	settings := e.provider.relations.Settings()
	settings.Enabled = false
	require.NoError(t, e.provider.svc.UpdateSettings(settings))

	rel, err := e.svc.SendInvite(context.Background(), "BASE1", 7)
	require.NoError(t, err)
	assert.Equal(t, relationship.StatusDeclined, rel.Status)

	stored, ok := e.relations.Provider("BASE1")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusDeclined, stored.Status)
	assert.Empty(t, e.provider.svc.PendingInvites(), "disabled provider keeps no record")
}

type inviteResult struct {
	rel relationship.ProviderRelationship
	err error
}

// advanceUntil drives the fake clock forward in small steps until the
// invite call returns, however late its timeout channel was registered.
func advanceUntil(t *testing.T, clk *clock.Fake, done <-chan inviteResult) inviteResult {
	t.Helper()
	var result inviteResult
	require.Eventually(t, func() bool {
		select {
		case result = <-done:
			return true
		default:
			clk.Advance(10 * time.Second)
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	return result
}

func TestSendInvite_TimeoutKeepsPendingAndLateAcceptanceLands(t *testing.T) {
	e := newClientEnv(t)
	ctx := context.Background()

	// Manual-decision provider: the invite queues and nobody answers.
	done := make(chan inviteResult, 1)
	go func() {
		rel, err := e.svc.SendInvite(ctx, "BASE1", 3)
		done <- inviteResult{rel: rel, err: err}
	}()

	result := advanceUntil(t, e.clk, done)
	require.True(t, errors.Is(result.err, common.ErrTimeout))

	stored, ok := e.relations.Provider("BASE1")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusPending, stored.Status)
	require.Len(t, e.provider.svc.PendingInvites(), 1)

	// The operator answers after the window. The decision still lands.
	require.NoError(t, e.provider.svc.AcceptInvite(ctx, "ALFA"))
	stored, _ = e.relations.Provider("BASE1")
	assert.Equal(t, relationship.StatusActive, stored.Status)
	assert.Equal(t, e.provider.id.PublicKey(), stored.ProviderPublicKey)
}

func TestSendInvite_Validation(t *testing.T) {
	e := newClientEnv(t)
	ctx := context.Background()

	_, err := e.svc.SendInvite(ctx, "BASE1", 0)
	assert.Error(t, err)

	require.NoError(t, e.relations.PutProvider(relationship.ProviderRelationship{
		ProviderCallsign: "BASE2",
		Status:           relationship.StatusActive,
	}))
	_, err = e.svc.SendInvite(ctx, "BASE2", 3)
	assert.True(t, errors.Is(err, common.ErrAlreadyExists))
}

func TestSendInvite_UnreachablePeer(t *testing.T) {
	e := newClientEnv(t)

	_, err := e.svc.SendInvite(context.Background(), "NOWHERE", 3)
	require.Error(t, err)

	// The attempt is still on record.
	stored, ok := e.relations.Provider("NOWHERE")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusPending, stored.Status)
}

func TestRemoveProvider(t *testing.T) {
	e := newClientEnv(t)
	ctx := context.Background()
	settings := e.provider.relations.Settings()
	settings.AutoAcceptFromContacts = true
	require.NoError(t, e.provider.svc.UpdateSettings(settings))
	e.provider.peer.AddContact("ALFA")

	_, err := e.svc.SendInvite(ctx, "BASE1", 3)
	require.NoError(t, err)

	require.NoError(t, e.svc.RemoveProvider(ctx, "BASE1"))

	stored, ok := e.relations.Provider("BASE1")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusTerminated, stored.Status)

	// The provider heard about it and flagged its side too.
	clientRel, ok := e.provider.relations.Client("ALFA")
	require.True(t, ok)
	assert.Equal(t, relationship.StatusTerminated, clientRel.Status)

	t.Run("pending record is deleted outright", func(t *testing.T) {
		require.NoError(t, e.relations.PutProvider(relationship.ProviderRelationship{
			ProviderCallsign: "BASE3",
			Status:           relationship.StatusPending,
		}))
		require.NoError(t, e.svc.RemoveProvider(ctx, "BASE3"))
		_, ok := e.relations.Provider("BASE3")
		assert.False(t, ok)
	})

	t.Run("unknown provider", func(t *testing.T) {
		err := e.svc.RemoveProvider(ctx, "NOBODY")
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})
}

func TestProviderTerminatesUs(t *testing.T) {
	e := newClientEnv(t)
	ctx := context.Background()
	settings := e.provider.relations.Settings()
	settings.AutoAcceptFromContacts = true
	require.NoError(t, e.provider.svc.UpdateSettings(settings))
	e.provider.peer.AddContact("ALFA")

	_, err := e.svc.SendInvite(ctx, "BASE1", 3)
	require.NoError(t, err)

	require.NoError(t, e.provider.svc.RemoveClient(ctx, "ALFA", false))

	stored, _ := e.relations.Provider("BASE1")
	assert.Equal(t, relationship.StatusTerminated, stored.Status)
}

func activateProvider(t *testing.T, e *clientEnv) {
	t.Helper()
	settings := e.provider.relations.Settings()
	settings.AutoAcceptFromContacts = true
	require.NoError(t, e.provider.svc.UpdateSettings(settings))
	e.provider.peer.AddContact("ALFA")
	_, err := e.svc.SendInvite(context.Background(), "BASE1", 3)
	require.NoError(t, err)
}

func waitBackupDone(t *testing.T, svc *Service) status.Transfer {
	t.Helper()
	var tr status.Transfer
	require.Eventually(t, func() bool {
		var ok bool
		tr, ok = svc.BackupStatus()
		return ok && (tr.State == status.StateComplete || tr.State == status.StateFailed)
	}, 5*time.Second, 10*time.Millisecond)
	return tr
}

func TestScheduler_StartsDueBackup(t *testing.T) {
	e := newClientEnv(t)
	activateProvider(t, e)

	// Freshly activated, never backed up: due immediately.
	sched := NewScheduler(e.svc, e.relations, e.clk, logging.Noop(), time.Minute)
	sched.tick(context.Background())

	tr := waitBackupDone(t, e.svc)
	assert.Equal(t, status.StateComplete, tr.State, "error: %s", tr.Error)
	assert.Equal(t, "2025-06-01", tr.SnapshotID)

	rel, _ := e.relations.Provider("BASE1")
	assert.True(t, rel.NextScheduledBackup.Equal(testNow.AddDate(0, 0, 3)))
}

func TestScheduler_SkipsNotDue(t *testing.T) {
	e := newClientEnv(t)
	activateProvider(t, e)
	require.NoError(t, e.relations.UpdateProvider("BASE1", func(r *relationship.ProviderRelationship) {
		r.NextScheduledBackup = testNow.AddDate(0, 0, 2)
	}))

	sched := NewScheduler(e.svc, e.relations, e.clk, logging.Noop(), time.Minute)
	sched.tick(context.Background())

	_, ok := e.svc.BackupStatus()
	assert.False(t, ok, "no run should have started")
}

func TestScheduler_RunLoop(t *testing.T) {
	e := newClientEnv(t)
	activateProvider(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	sched := NewScheduler(e.svc, e.relations, e.clk, logging.Noop(), time.Minute)
	go func() {
		sched.Run(ctx)
		close(stopped)
	}()

	// Advance per poll: the first ticks may land before the scheduler's
	// ticker exists, later ones drive it.
	require.Eventually(t, func() bool {
		e.clk.Advance(time.Minute)
		_, ok := e.svc.BackupStatus()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	tr := waitBackupDone(t, e.svc)
	assert.Equal(t, status.StateComplete, tr.State, "error: %s", tr.Error)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestDiscoveryDelegation(t *testing.T) {
	e := newClientEnv(t)
	activateProvider(t, e)

	// Seed one complete snapshot so BASE1 answers with has_backups.
	_, err := e.svc.StartBackup(context.Background(), "BASE1")
	require.NoError(t, err)
	waitBackupDone(t, e.svc)

	id, err := e.svc.StartDiscovery(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, ok := e.svc.DiscoveryStatus(id)
		return ok && st.DevicesResponded == 1
	}, 5*time.Second, 10*time.Millisecond)

	e.clk.Advance(2 * time.Minute)
	st, ok := e.svc.DiscoveryStatus(id)
	require.True(t, ok)
	assert.Equal(t, status.StateComplete, st.State)
	require.Len(t, st.ProvidersFound, 1)
	assert.Equal(t, "BASE1", st.ProvidersFound[0].Callsign)
	assert.Equal(t, "2025-06-01", st.ProvidersFound[0].LatestSnapshotID)

	latest, ok := e.svc.LatestDiscovery()
	require.True(t, ok)
	assert.Equal(t, id, latest.DiscoveryID)
}
