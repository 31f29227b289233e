// Package backup runs snapshot uploads: it reads the source tree,
// encrypts every file toward the provider, uploads blobs under random
// names and finishes with an encrypted manifest only the client itself
// can read.
package backup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/filex"
	"github.com/peervault/peervault/internal/hashx"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/snapshot"
	"github.com/peervault/peervault/internal/status"
	"github.com/peervault/peervault/internal/transport"
)

// Executor uploads snapshots. At most one backup runs per process;
// starting a second one fails with ErrAlreadyInProgress.
type Executor struct {
	id        identity.Identity
	relations *relationship.Store
	tree      *filex.Tree
	messenger transport.Messenger
	clock     clock.Clock
	logger    logging.Logger
	broker    *status.Broker[status.Transfer]
	running   atomic.Bool
}

func NewExecutor(
	id identity.Identity,
	relations *relationship.Store,
	tree *filex.Tree,
	messenger transport.Messenger,
	clk clock.Clock,
	logger logging.Logger,
) *Executor {
	return &Executor{
		id:        id,
		relations: relations,
		tree:      tree,
		messenger: messenger,
		clock:     clk,
		logger:    logger,
		broker:    status.NewBroker[status.Transfer](),
	}
}

// Status returns the latest published progress.
func (e *Executor) Status() (status.Transfer, bool) {
	return e.broker.Latest()
}

// Subscribe follows progress updates.
func (e *Executor) Subscribe() (<-chan status.Transfer, func()) {
	return e.broker.Subscribe()
}

// Start begins a backup to the named provider and returns the snapshot
// id once the run is admitted. The snapshot id is the current date, so a
// second run on the same day overwrites that day's snapshot. The run
// itself is detached: cancelling ctx does not stop it, and there is no
// cancellation API.
func (e *Executor) Start(ctx context.Context, providerCallsign string) (string, error) {
	rel, ok := e.relations.Provider(providerCallsign)
	if !ok {
		return "", fmt.Errorf("provider %s: %w", providerCallsign, common.ErrProviderNotFound)
	}
	if rel.Status != relationship.StatusActive {
		return "", fmt.Errorf("provider %s: %w", providerCallsign, common.ErrProviderNotActive)
	}
	if !e.running.CompareAndSwap(false, true) {
		return "", fmt.Errorf("backup: %w", common.ErrAlreadyInProgress)
	}

	startedAt := e.clock.Now()
	snapshotID := startedAt.UTC().Format(common.SnapshotIDLayout)
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer e.running.Store(false)
		if err := e.run(runCtx, rel, snapshotID, startedAt); err != nil {
			e.logger.Error("backup failed",
				"provider", providerCallsign, "snapshot", snapshotID, "error", err.Error())
		} else {
			e.logger.Info("backup complete",
				"provider", providerCallsign, "snapshot", snapshotID)
		}
	}()
	return snapshotID, nil
}

func (e *Executor) run(ctx context.Context, rel relationship.ProviderRelationship, snapshotID string, startedAt time.Time) error {
	prog := status.Transfer{
		PeerCallsign: rel.ProviderCallsign,
		SnapshotID:   snapshotID,
		State:        status.StateInProgress,
		StartedAt:    startedAt,
	}
	fail := func(err error) error {
		prog.State = status.StateFailed
		prog.Error = err.Error()
		e.broker.Publish(prog)
		return err
	}

	files, err := e.tree.List()
	if err != nil {
		return fail(fmt.Errorf("listing source files: %w", err))
	}
	for _, f := range files {
		prog.BytesTotal += f.Size
	}
	prog.FilesTotal = len(files)
	e.broker.Publish(prog)

	startMsg, err := protocol.Encode(&protocol.BackupStart{SnapshotID: snapshotID})
	if err != nil {
		return fail(err)
	}
	if err := e.messenger.SendMessage(ctx, rel.ProviderCallsign, startMsg); err != nil {
		return fail(fmt.Errorf("announcing backup: %w", err))
	}

	manifest := snapshot.Manifest{
		SnapshotID:      snapshotID,
		ClientPublicKey: e.id.PublicKey(),
		ClientCallsign:  e.id.Callsign(),
		StartedAt:       startedAt,
	}
	for _, f := range files {
		data, err := e.tree.Read(f.RelativePath)
		if err != nil {
			return fail(fmt.Errorf("reading %s: %w", f.RelativePath, err))
		}
		sealed, err := e.id.Encrypt(data, rel.ProviderPublicKey)
		if err != nil {
			return fail(fmt.Errorf("encrypting %s: %w", f.RelativePath, err))
		}
		blobName := uuid.NewString()
		path := transport.BlobPath(e.id.Callsign(), snapshotID, blobName)
		if err := e.messenger.Upload(ctx, rel.ProviderCallsign, path, sealed); err != nil {
			// Already uploaded blobs stay on the provider; the next
			// completed run supersedes them.
			return fail(fmt.Errorf("%w: %s: %w", common.ErrUploadFailed, f.RelativePath, err))
		}

		manifest.Files = append(manifest.Files, snapshot.FileEntry{
			RelativePath:      f.RelativePath,
			ContentHash:       hashx.SumHex(data),
			PlaintextSize:     int64(len(data)),
			EncryptedSize:     int64(len(sealed)),
			EncryptedBlobName: blobName,
			ModifiedAt:        f.ModifiedAt,
		})
		manifest.TotalBytes += int64(len(data))

		prog.FilesTransferred++
		prog.BytesTransferred += int64(len(data))
		prog.ProgressPercent = percent(prog.BytesTransferred, prog.BytesTotal)
		e.broker.Publish(prog)
	}
	manifest.TotalFiles = len(manifest.Files)
	manifest.CompletedAt = e.clock.Now()

	encoded, err := snapshot.EncodeManifest(&manifest)
	if err != nil {
		return fail(err)
	}
	// The manifest is sealed to the client's own key: the provider stores
	// it but can never read it.
	sealedManifest, err := e.id.Encrypt(encoded, e.id.PublicKey())
	if err != nil {
		return fail(fmt.Errorf("encrypting manifest: %w", err))
	}
	manifestPath := transport.ManifestPath(e.id.Callsign(), snapshotID)
	if err := e.messenger.Upload(ctx, rel.ProviderCallsign, manifestPath, sealedManifest); err != nil {
		return fail(fmt.Errorf("%w: manifest: %w", common.ErrUploadFailed, err))
	}

	completeMsg, err := protocol.Encode(&protocol.BackupComplete{
		SnapshotID: snapshotID,
		TotalFiles: manifest.TotalFiles,
		TotalBytes: manifest.TotalBytes,
	})
	if err != nil {
		return fail(err)
	}
	if err := e.messenger.SendMessage(ctx, rel.ProviderCallsign, completeMsg); err != nil {
		return fail(fmt.Errorf("announcing completion: %w", err))
	}

	completedAt := e.clock.Now()
	if err := e.relations.UpdateProvider(rel.ProviderCallsign, func(r *relationship.ProviderRelationship) {
		r.LastSuccessfulBackup = completedAt
		r.NextScheduledBackup = completedAt.AddDate(0, 0, r.BackupIntervalDays)
	}); err != nil {
		return fail(err)
	}

	prog.State = status.StateComplete
	prog.ProgressPercent = 100
	e.broker.Publish(prog)
	return nil
}

func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(done * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
