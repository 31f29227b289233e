// Package restore brings a stored snapshot back onto the local disk.
// The run mirrors backup in reverse: download the sealed manifest, open
// it with the client's own key, then fetch, decrypt and verify every
// blob before writing it into the file tree.
package restore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/filex"
	"github.com/peervault/peervault/internal/hashx"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/snapshot"
	"github.com/peervault/peervault/internal/status"
	"github.com/peervault/peervault/internal/transport"
)

// Executor downloads snapshots. At most one restore runs per process;
// starting a second one fails with ErrAlreadyInProgress. A restore and
// a backup may run at the same time.
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

// Start begins restoring the named snapshot from the named provider. Any
// recorded relationship qualifies, whatever its status: data stored with
// a provider stays retrievable after the relationship ends. The run is
// detached and cannot be cancelled.
func (e *Executor) Start(ctx context.Context, providerCallsign, snapshotID string) error {
	rel, ok := e.relations.Provider(providerCallsign)
	if !ok {
		return fmt.Errorf("provider %s: %w", providerCallsign, common.ErrProviderNotFound)
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("restore: %w", common.ErrAlreadyInProgress)
	}

	startedAt := e.clock.Now()
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer e.running.Store(false)
		if err := e.run(runCtx, rel, snapshotID, startedAt); err != nil {
			e.logger.Error("restore failed",
				"provider", providerCallsign, "snapshot", snapshotID, "error", err.Error())
		} else {
			e.logger.Info("restore complete",
				"provider", providerCallsign, "snapshot", snapshotID)
		}
	}()
	return nil
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
	e.broker.Publish(prog)

	manifestPath := transport.ManifestPath(e.id.Callsign(), snapshotID)
	sealedManifest, err := e.messenger.Download(ctx, rel.ProviderCallsign, manifestPath)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", common.ErrManifestDownload, err))
	}
	opened, err := e.id.Decrypt(sealedManifest, e.id.PublicKey())
	if err != nil {
		return fail(fmt.Errorf("%w: opening manifest: %w", common.ErrManifestDownload, err))
	}
	manifest, err := snapshot.DecodeManifest(opened)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", common.ErrManifestDownload, err))
	}

	prog.FilesTotal = len(manifest.Files)
	for _, entry := range manifest.Files {
		prog.BytesTotal += entry.PlaintextSize
	}
	e.broker.Publish(prog)

	for _, entry := range manifest.Files {
		path := transport.BlobPath(e.id.Callsign(), snapshotID, entry.EncryptedBlobName)
		sealed, err := e.messenger.Download(ctx, rel.ProviderCallsign, path)
		if err != nil {
			// Files already written stay in place; the operator can rerun
			// the restore once the provider is reachable again.
			return fail(fmt.Errorf("downloading %s: %w", entry.RelativePath, err))
		}
		data, err := e.id.Decrypt(sealed, rel.ProviderPublicKey)
		if err != nil {
			return fail(fmt.Errorf("decrypting %s: %w", entry.RelativePath, err))
		}
		if err := hashx.Verify(data, entry.ContentHash); err != nil {
			return fail(fmt.Errorf("%w: %s: %w", common.ErrHashMismatch, entry.RelativePath, err))
		}
		if err := e.tree.Write(entry.RelativePath, data); err != nil {
			return fail(fmt.Errorf("writing %s: %w", entry.RelativePath, err))
		}

		prog.FilesTransferred++
		prog.BytesTransferred += int64(len(data))
		prog.ProgressPercent = percent(prog.BytesTransferred, prog.BytesTotal)
		e.broker.Publish(prog)
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
