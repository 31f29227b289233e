// Package provider implements the provider role: deciding invites,
// storing snapshots for clients, keeping per-client bookkeeping and
// answering discovery challenges.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/snapshot"
	"github.com/peervault/peervault/internal/transport"
)

// Service is the provider-side engine. It implements the router's
// ProviderHandler and the transport's StorageHandler.
type Service struct {
	id        identity.Identity
	relations *relationship.Store
	snapshots *snapshot.Store
	messenger transport.Messenger
	directory transport.PeerDirectory
	clock     clock.Clock
	logger    logging.Logger
}

func NewService(
	id identity.Identity,
	relations *relationship.Store,
	snapshots *snapshot.Store,
	messenger transport.Messenger,
	directory transport.PeerDirectory,
	clk clock.Clock,
	logger logging.Logger,
) *Service {
	return &Service{
		id:        id,
		relations: relations,
		snapshots: snapshots,
		messenger: messenger,
		directory: directory,
		clock:     clk,
		logger:    logger,
	}
}

// HandleInvite applies the invite policy. A decision is only sent after
// the relationship record that justifies it is on disk; a client that
// hears nothing within its wait window keeps the invite pending and the
// operator can still answer later.
func (s *Service) HandleInvite(ctx context.Context, from string, msg *protocol.BackupInvite) error {
	settings := s.relations.Settings()

	if rel, ok := s.relations.Client(from); ok {
		switch rel.Status {
		case relationship.StatusActive:
			// Re-invite from an active client: repeat the acceptance.
			return s.sendInviteResponse(ctx, from, true, rel.MaxStorageBytes, rel.MaxSnapshots)
		case relationship.StatusDeclined, relationship.StatusTerminated:
			return s.sendInviteResponse(ctx, from, false, 0, 0)
		case relationship.StatusPending:
			// Refresh the pending record; the client may have rotated keys.
			if err := s.relations.UpdateClient(from, func(r *relationship.ClientRelationship) {
				r.ClientPublicKey = msg.Event.PubKey
			}); err != nil {
				return err
			}
		}
	} else {
		if !settings.Enabled {
			s.logger.Info("declining invite, provider disabled", "from", from)
			return s.sendInviteResponse(ctx, from, false, 0, 0)
		}
		if err := s.relations.PutClient(relationship.ClientRelationship{
			ClientPublicKey: msg.Event.PubKey,
			ClientCallsign:  from,
			Status:          relationship.StatusPending,
		}); err != nil {
			return err
		}
	}

	if settings.Enabled && settings.AutoAcceptFromContacts && s.directory.IsContact(from) {
		s.logger.Info("auto-accepting invite from contact", "from", from)
		return s.AcceptInvite(ctx, from)
	}

	s.logger.Info("invite queued for operator decision", "from", from)
	return nil
}

// AcceptInvite activates a pending client with the default quotas and
// notifies it.
func (s *Service) AcceptInvite(ctx context.Context, callsign string) error {
	rel, ok := s.relations.Client(callsign)
	if !ok {
		return fmt.Errorf("client %s: %w", callsign, common.ErrNotFound)
	}
	if !rel.Status.CanTransitionTo(relationship.StatusActive) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rel.Status, relationship.StatusActive)
	}

	settings := s.relations.Settings()
	maxBytes := settings.DefaultMaxClientStorageBytes
	maxSnapshots := settings.DefaultMaxSnapshots
	if err := s.relations.UpdateClient(callsign, func(r *relationship.ClientRelationship) {
		r.Status = relationship.StatusActive
		r.MaxStorageBytes = maxBytes
		r.MaxSnapshots = maxSnapshots
	}); err != nil {
		return err
	}
	return s.sendInviteResponse(ctx, callsign, true, maxBytes, maxSnapshots)
}

// DeclineInvite declines a pending client and notifies it.
func (s *Service) DeclineInvite(ctx context.Context, callsign string) error {
	if err := s.relations.UpdateClientStatus(callsign, relationship.StatusDeclined); err != nil {
		return err
	}
	return s.sendInviteResponse(ctx, callsign, false, 0, 0)
}

// RemoveClient ends the relationship. With erase, every stored snapshot
// and the relationship record are deleted; otherwise the relationship is
// terminated and the data kept so the client can still restore. Either
// way the client is told afterwards.
func (s *Service) RemoveClient(ctx context.Context, callsign string, erase bool) error {
	if _, ok := s.relations.Client(callsign); !ok {
		return fmt.Errorf("client %s: %w", callsign, common.ErrNotFound)
	}
	if erase {
		if err := s.snapshots.DeleteAll(ctx, callsign); err != nil {
			return err
		}
		if err := s.relations.DeleteClient(callsign); err != nil {
			return err
		}
	} else {
		if err := s.relations.UpdateClientStatus(callsign, relationship.StatusTerminated); err != nil {
			return err
		}
	}

	payload, err := protocol.Encode(&protocol.StatusChange{Status: string(relationship.StatusTerminated)})
	if err != nil {
		return err
	}
	if err := s.messenger.SendMessage(ctx, callsign, payload); err != nil {
		// The local decision stands even if the peer is unreachable.
		s.logger.Warn("could not notify removed client", "client", callsign, "error", err.Error())
	}
	return nil
}

// PendingInvites lists clients awaiting an operator decision.
func (s *Service) PendingInvites() []relationship.ClientRelationship {
	var out []relationship.ClientRelationship
	for _, rel := range s.relations.Clients() {
		if rel.Status == relationship.StatusPending {
			out = append(out, rel)
		}
	}
	return out
}

// Clients lists every client relationship.
func (s *Service) Clients() []relationship.ClientRelationship {
	return s.relations.Clients()
}

// Settings returns the current provider settings.
func (s *Service) Settings() relationship.ProviderSettings {
	return s.relations.Settings()
}

// UpdateSettings persists new provider settings. Existing relationships
// keep the quotas they were granted.
func (s *Service) UpdateSettings(settings relationship.ProviderSettings) error {
	return s.relations.SaveSettings(settings)
}

// HandleBackupStart opens a snapshot for an active client.
func (s *Service) HandleBackupStart(ctx context.Context, from string, msg *protocol.BackupStart) error {
	if err := s.requireActiveClient(from); err != nil {
		return err
	}
	return s.snapshots.Begin(ctx, from, msg.SnapshotID, s.clock.Now())
}

// HandleBackupComplete closes the snapshot and refreshes the client's
// bookkeeping from what is actually stored.
func (s *Service) HandleBackupComplete(ctx context.Context, from string, msg *protocol.BackupComplete) error {
	if err := s.requireActiveClient(from); err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.snapshots.Complete(from, msg.SnapshotID, msg.TotalFiles, msg.TotalBytes, now); err != nil {
		return err
	}

	storedBytes, snapshotCount, err := s.snapshots.ClientUsage(ctx, from)
	if err != nil {
		return err
	}
	return s.relations.UpdateClient(from, func(r *relationship.ClientRelationship) {
		r.CurrentStorageBytes = storedBytes
		r.SnapshotCount = snapshotCount
		r.LastBackupAt = now
		r.LastBackupStatus = string(snapshot.StatusComplete)
	})
}

// HandleDiscoveryChallenge answers every challenge, whether or not this
// provider holds anything for the target key. Refusing to answer would
// itself reveal a relationship.
func (s *Service) HandleDiscoveryChallenge(ctx context.Context, from string, msg *protocol.DiscoveryChallenge) error {
	var challenge protocol.ChallengeContent
	if err := json.Unmarshal([]byte(msg.Event.Content), &challenge); err != nil {
		return fmt.Errorf("parsing challenge: %w", err)
	}
	targetKey, _ := msg.Event.TagValue("p")

	resp := &protocol.DiscoveryResponse{DiscoveryID: msg.DiscoveryID}
	if rel, ok := s.relations.ClientByPublicKey(targetKey); ok && rel.Status == relationship.StatusActive {
		if latest, found, err := s.snapshots.LatestComplete(rel.ClientCallsign); err == nil && found {
			resp.HasBackups = true
			resp.MaxStorageBytes = rel.MaxStorageBytes
			resp.SnapshotCount = rel.SnapshotCount
			resp.LatestSnapshotID = latest.SnapshotID
		}
	}

	content, err := json.Marshal(protocol.ResponseContent{
		Challenge:  challenge.Challenge,
		HasBackups: resp.HasBackups,
	})
	if err != nil {
		return err
	}
	ev := identity.Event{
		CreatedAt: s.clock.Now().Unix(),
		Kind:      protocol.KindDiscoveryResponse,
		Tags:      [][]string{{"p", msg.Event.PubKey}},
		Content:   string(content),
	}
	if err := s.id.SignEvent(&ev); err != nil {
		return err
	}
	resp.Event = ev

	payload, err := protocol.Encode(resp)
	if err != nil {
		return err
	}
	return s.messenger.SendMessage(ctx, from, payload)
}

// PutManifest stores a client's manifest. Uploads require an active
// relationship; quota is bookkeeping, not admission control.
func (s *Service) PutManifest(ctx context.Context, fromCallsign, snapshotID string, data []byte) error {
	if err := s.requireActiveClient(fromCallsign); err != nil {
		return err
	}
	return s.snapshots.PutManifest(fromCallsign, snapshotID, data)
}

// GetManifest serves a client's manifest back. Any known client may
// read, including a terminated one restoring its files.
func (s *Service) GetManifest(ctx context.Context, fromCallsign, snapshotID string) ([]byte, error) {
	if err := s.requireKnownClient(fromCallsign); err != nil {
		return nil, err
	}
	return s.snapshots.GetManifest(fromCallsign, snapshotID)
}

func (s *Service) PutBlob(ctx context.Context, fromCallsign, snapshotID, name string, data []byte) error {
	if err := s.requireActiveClient(fromCallsign); err != nil {
		return err
	}
	return s.snapshots.PutBlob(ctx, fromCallsign, snapshotID, name, data)
}

func (s *Service) GetBlob(ctx context.Context, fromCallsign, snapshotID, name string) ([]byte, error) {
	if err := s.requireKnownClient(fromCallsign); err != nil {
		return nil, err
	}
	return s.snapshots.GetBlob(ctx, fromCallsign, snapshotID, name)
}

func (s *Service) requireActiveClient(callsign string) error {
	rel, ok := s.relations.Client(callsign)
	if !ok || rel.Status != relationship.StatusActive {
		return fmt.Errorf("client %s: %w", callsign, common.ErrClientNotActive)
	}
	return nil
}

func (s *Service) requireKnownClient(callsign string) error {
	if _, ok := s.relations.Client(callsign); !ok {
		return fmt.Errorf("client %s: %w", callsign, common.ErrClientNotActive)
	}
	return nil
}

func (s *Service) sendInviteResponse(ctx context.Context, to string, accepted bool, maxBytes int64, maxSnapshots int) error {
	resp := &protocol.BackupInviteResponse{Accepted: accepted}
	if accepted {
		resp.ProviderNpub = s.id.Npub()
		resp.MaxStorageBytes = maxBytes
		resp.MaxSnapshots = maxSnapshots
	}
	payload, err := protocol.Encode(resp)
	if err != nil {
		return err
	}
	return s.messenger.SendMessage(ctx, to, payload)
}
