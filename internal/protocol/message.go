// Package protocol defines the control messages peers exchange over the
// messaging fabric and the router that validates and dispatches them.
//
// Every message is a JSON object carrying a "type" discriminator.
// Relationship-establishing and discovery messages embed a signed event so
// the receiver can authenticate the sender's key, not just its callsign.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/peervault/peervault/internal/identity"
)

// Message type discriminators.
const (
	TypeBackupInvite         = "backup_invite"
	TypeBackupInviteResponse = "backup_invite_response"
	TypeBackupStart          = "backup_start"
	TypeBackupComplete       = "backup_complete"
	TypeDiscoveryChallenge   = "backup_discovery_challenge"
	TypeDiscoveryResponse    = "backup_discovery_response"
	TypeStatusChange         = "backup_status_change"
)

// Event kinds used for signed protocol events. KindAuth follows the
// NIP-98 convention for ephemeral HTTP auth events.
const (
	KindBackupInvite       = 14001
	KindDiscoveryChallenge = 14002
	KindDiscoveryResponse  = 14003
	KindAuth               = 27235
)

// Message is a decoded control message.
type Message interface {
	Type() string
}

// BackupInvite asks a peer to become a backup provider. The embedded
// event is signed by the prospective client; its content is an
// InviteContent and its "p" tag names the provider's public key when the
// client already knows it.
type BackupInvite struct {
	Event identity.Event `json:"event"`
}

func (BackupInvite) Type() string { return TypeBackupInvite }

// InviteContent is the JSON carried in an invite event's content field.
type InviteContent struct {
	IntervalDays int `json:"interval_days"`
}

// BackupInviteResponse answers an invite. On acceptance it carries the
// provider's npub and the quota granted to the client.
type BackupInviteResponse struct {
	Accepted        bool   `json:"accepted"`
	ProviderNpub    string `json:"provider_npub,omitempty"`
	MaxStorageBytes int64  `json:"max_storage_bytes,omitempty"`
	MaxSnapshots    int    `json:"max_snapshots,omitempty"`
}

func (BackupInviteResponse) Type() string { return TypeBackupInviteResponse }

// BackupStart announces that the client is about to upload a snapshot.
type BackupStart struct {
	SnapshotID string `json:"snapshot_id"`
}

func (BackupStart) Type() string { return TypeBackupStart }

// BackupComplete announces that every file of the snapshot has been
// uploaded and the manifest is in place.
type BackupComplete struct {
	SnapshotID string `json:"snapshot_id"`
	TotalFiles int    `json:"total_files"`
	TotalBytes int64  `json:"total_bytes"`
}

func (BackupComplete) Type() string { return TypeBackupComplete }

// DiscoveryChallenge asks a peer whether it holds backups for the key
// named in the event's "p" tag. The content is a ChallengeContent the
// responder must echo, binding the response to this challenge.
type DiscoveryChallenge struct {
	Event       identity.Event `json:"event"`
	DiscoveryID string         `json:"discovery_id"`
}

func (DiscoveryChallenge) Type() string { return TypeDiscoveryChallenge }

// ChallengeContent is the JSON carried in a discovery challenge event.
type ChallengeContent struct {
	Challenge string `json:"challenge"`
}

// DiscoveryResponse answers a challenge. Peers answer whether or not they
// hold anything, so a response by itself reveals nothing about the
// relationship. Quota fields are only present when has_backups is true.
type DiscoveryResponse struct {
	Event            identity.Event `json:"event"`
	DiscoveryID      string         `json:"discovery_id"`
	HasBackups       bool           `json:"has_backups"`
	MaxStorageBytes  int64          `json:"max_storage_bytes,omitempty"`
	SnapshotCount    int            `json:"snapshot_count,omitempty"`
	LatestSnapshotID string         `json:"latest_snapshot_id,omitempty"`
}

func (DiscoveryResponse) Type() string { return TypeDiscoveryResponse }

// ResponseContent is the JSON carried in a discovery response event.
type ResponseContent struct {
	Challenge  string `json:"challenge"`
	HasBackups bool   `json:"has_backups"`
}

// StatusChange tells the other side of a relationship that its status
// changed, e.g. a provider terminating a client.
type StatusChange struct {
	Status string `json:"status"`
}

func (StatusChange) Type() string { return TypeStatusChange }

// Encode serializes msg with its type discriminator injected.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}
	fields["type"] = json.RawMessage(strconv.Quote(msg.Type()))
	return json.Marshal(fields)
}

// Decode parses the envelope and returns the concrete message for its
// type discriminator.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding message envelope: %w", err)
	}

	var msg Message
	switch head.Type {
	case TypeBackupInvite:
		msg = &BackupInvite{}
	case TypeBackupInviteResponse:
		msg = &BackupInviteResponse{}
	case TypeBackupStart:
		msg = &BackupStart{}
	case TypeBackupComplete:
		msg = &BackupComplete{}
	case TypeDiscoveryChallenge:
		msg = &DiscoveryChallenge{}
	case TypeDiscoveryResponse:
		msg = &DiscoveryResponse{}
	case TypeStatusChange:
		msg = &StatusChange{}
	default:
		return nil, fmt.Errorf("unknown message type %q", head.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", head.Type, err)
	}
	return msg, nil
}
