// Package client glues the client role together: establishing provider
// relationships, delegating to the backup and restore executors and the
// discovery coordinator, and folding inbound responses. It implements
// the router's ClientHandler.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/peervault/peervault/internal/backup"
	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/discovery"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/restore"
	"github.com/peervault/peervault/internal/status"
	"github.com/peervault/peervault/internal/transport"
)

type Service struct {
	id        identity.Identity
	relations *relationship.Store
	backup    *backup.Executor
	restore   *restore.Executor
	discovery *discovery.Coordinator
	messenger transport.Messenger
	clock     clock.Clock
	logger    logging.Logger

	mu      sync.Mutex
	waiters map[string]chan protocol.BackupInviteResponse
}

func NewService(
	id identity.Identity,
	relations *relationship.Store,
	backupExec *backup.Executor,
	restoreExec *restore.Executor,
	disc *discovery.Coordinator,
	messenger transport.Messenger,
	clk clock.Clock,
	logger logging.Logger,
) *Service {
	return &Service{
		id:        id,
		relations: relations,
		backup:    backupExec,
		restore:   restoreExec,
		discovery: disc,
		messenger: messenger,
		clock:     clk,
		logger:    logger,
		waiters:   make(map[string]chan protocol.BackupInviteResponse),
	}
}

// SendInvite asks a peer to become this station's backup provider and
// waits for the answer. The pending relationship is persisted before the
// invite goes out, so a station that crashes mid-invite still knows it
// asked. The returned record reflects the provider's decision; on
// timeout the record stays pending and a late acceptance is still
// applied when it eventually arrives.
func (s *Service) SendInvite(ctx context.Context, providerCallsign string, intervalDays int) (relationship.ProviderRelationship, error) {
	var none relationship.ProviderRelationship
	if intervalDays < 1 {
		return none, fmt.Errorf("backup interval must be at least one day, got %d", intervalDays)
	}
	if existing, ok := s.relations.Provider(providerCallsign); ok && existing.Status == relationship.StatusActive {
		return none, fmt.Errorf("provider %s: %w", providerCallsign, common.ErrAlreadyExists)
	}

	ch := make(chan protocol.BackupInviteResponse, 1)
	s.mu.Lock()
	if _, busy := s.waiters[providerCallsign]; busy {
		s.mu.Unlock()
		return none, fmt.Errorf("invite to %s: %w", providerCallsign, common.ErrAlreadyInProgress)
	}
	s.waiters[providerCallsign] = ch
	s.mu.Unlock()
	defer s.dropWaiter(providerCallsign, ch)

	rel := relationship.ProviderRelationship{
		ProviderCallsign:   providerCallsign,
		BackupIntervalDays: intervalDays,
		Status:             relationship.StatusPending,
	}
	if existing, ok := s.relations.Provider(providerCallsign); ok {
		// Re-inviting a peer that declined or was removed starts a fresh
		// relationship, but a pubkey learned earlier is worth keeping.
		rel.ProviderPublicKey = existing.ProviderPublicKey
	}
	if err := s.relations.PutProvider(rel); err != nil {
		return none, err
	}

	payload, err := s.buildInvite(rel)
	if err != nil {
		return none, err
	}
	if err := s.messenger.SendMessage(ctx, providerCallsign, payload); err != nil {
		return none, fmt.Errorf("sending invite to %s: %w", providerCallsign, err)
	}
	s.logger.Info("invite sent", "provider", providerCallsign, "interval_days", intervalDays)

	select {
	case resp := <-ch:
		updated, _ := s.relations.Provider(providerCallsign)
		if !resp.Accepted {
			s.logger.Info("invite declined", "provider", providerCallsign)
		}
		return updated, nil
	case <-s.clock.After(common.InviteResponseTimeout):
		return none, fmt.Errorf("invite to %s: %w", providerCallsign, common.ErrTimeout)
	case <-ctx.Done():
		return none, ctx.Err()
	}
}

func (s *Service) buildInvite(rel relationship.ProviderRelationship) ([]byte, error) {
	content, err := json.Marshal(protocol.InviteContent{IntervalDays: rel.BackupIntervalDays})
	if err != nil {
		return nil, err
	}
	ev := identity.Event{
		CreatedAt: s.clock.Now().Unix(),
		Kind:      protocol.KindBackupInvite,
		Content:   string(content),
	}
	if rel.ProviderPublicKey != "" {
		ev.Tags = [][]string{{"p", rel.ProviderPublicKey}}
	}
	if err := s.id.SignEvent(&ev); err != nil {
		return nil, err
	}
	return protocol.Encode(&protocol.BackupInvite{Event: ev})
}

// dropWaiter removes the waiter if it is still the registered one; the
// response handler may already have claimed and removed it.
func (s *Service) dropWaiter(providerCallsign string, ch chan protocol.BackupInviteResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters[providerCallsign] == ch {
		delete(s.waiters, providerCallsign)
	}
}

// HandleInviteResponse applies a provider's decision to the stored
// relationship and then wakes any invite call still waiting on it. The
// store update comes first: even with no waiter left, the decision
// lands.
func (s *Service) HandleInviteResponse(_ context.Context, from string, msg *protocol.BackupInviteResponse) error {
	rel, ok := s.relations.Provider(from)
	if !ok {
		s.logger.Debug("invite response from peer never invited", "from", from)
		return nil
	}

	next := relationship.StatusActive
	if !msg.Accepted {
		next = relationship.StatusDeclined
	}
	if !rel.Status.CanTransitionTo(next) {
		s.logger.Debug("invite response ignored",
			"from", from, "status", string(rel.Status), "accepted", msg.Accepted)
		s.resolveWaiter(from, msg)
		return nil
	}

	providerKey := rel.ProviderPublicKey
	if msg.ProviderNpub != "" {
		key, err := identity.NpubToHex(msg.ProviderNpub)
		if err != nil {
			s.logger.Warn("invite response with bad npub", "from", from, "error", err.Error())
		} else {
			providerKey = key
		}
	}

	err := s.relations.UpdateProvider(from, func(r *relationship.ProviderRelationship) {
		r.Status = next
		if msg.Accepted {
			r.ProviderPublicKey = providerKey
			r.MaxStorageBytes = msg.MaxStorageBytes
			r.MaxSnapshots = msg.MaxSnapshots
		}
	})
	if err != nil {
		return err
	}
	s.logger.Info("invite answered", "provider", from, "accepted", msg.Accepted)

	s.resolveWaiter(from, msg)
	return nil
}

func (s *Service) resolveWaiter(from string, msg *protocol.BackupInviteResponse) {
	s.mu.Lock()
	ch := s.waiters[from]
	delete(s.waiters, from)
	s.mu.Unlock()
	if ch != nil {
		ch <- *msg
	}
}

// HandleDiscoveryResponse forwards to the discovery coordinator.
func (s *Service) HandleDiscoveryResponse(ctx context.Context, from string, msg *protocol.DiscoveryResponse) error {
	return s.discovery.HandleDiscoveryResponse(ctx, from, msg)
}

// RemoveProvider ends the relationship. An active provider is marked
// terminated and told so; it keeps the stored snapshots until it cleans
// them up itself. A pending or declined record is simply deleted.
func (s *Service) RemoveProvider(ctx context.Context, providerCallsign string) error {
	rel, ok := s.relations.Provider(providerCallsign)
	if !ok {
		return fmt.Errorf("provider %s: %w", providerCallsign, common.ErrNotFound)
	}

	if rel.Status != relationship.StatusActive {
		return s.relations.DeleteProvider(providerCallsign)
	}
	if err := s.relations.UpdateProviderStatus(providerCallsign, relationship.StatusTerminated); err != nil {
		return err
	}
	payload, err := protocol.Encode(&protocol.StatusChange{Status: string(relationship.StatusTerminated)})
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, providerCallsign, payload); err != nil {
		// The record is already terminated locally; the provider finds
		// out the next time it hears from us.
		s.logger.Warn("termination notice not delivered",
			"provider", providerCallsign, "error", err.Error())
	}
	return nil
}

// Providers lists all provider relationships.
func (s *Service) Providers() []relationship.ProviderRelationship {
	return s.relations.Providers()
}

// Provider returns one provider relationship.
func (s *Service) Provider(callsign string) (relationship.ProviderRelationship, bool) {
	return s.relations.Provider(callsign)
}

// StartBackup launches a backup run to the named provider.
func (s *Service) StartBackup(ctx context.Context, providerCallsign string) (string, error) {
	return s.backup.Start(ctx, providerCallsign)
}

// StartRestore launches a restore of the named snapshot.
func (s *Service) StartRestore(ctx context.Context, providerCallsign, snapshotID string) error {
	return s.restore.Start(ctx, providerCallsign, snapshotID)
}

// StartDiscovery launches a discovery run with the given window.
func (s *Service) StartDiscovery(ctx context.Context, window time.Duration) (string, error) {
	return s.discovery.Start(ctx, window)
}

// BackupStatus returns the latest backup progress, if any run happened.
func (s *Service) BackupStatus() (status.Transfer, bool) {
	return s.backup.Status()
}

// RestoreStatus returns the latest restore progress.
func (s *Service) RestoreStatus() (status.Transfer, bool) {
	return s.restore.Status()
}

// DiscoveryStatus returns the folded state of one discovery run.
func (s *Service) DiscoveryStatus(discoveryID string) (status.Discovery, bool) {
	return s.discovery.Status(discoveryID)
}

// LatestDiscovery returns the most recently updated discovery run.
func (s *Service) LatestDiscovery() (status.Discovery, bool) {
	return s.discovery.Latest()
}
