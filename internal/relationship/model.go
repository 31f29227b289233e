// Package relationship persists the client/provider relationships of a
// peer and the provider-side settings. Records live as JSON files under
// the data directory; an in-memory index guarded by a mutex serves reads,
// and every mutation is written to disk before the index updates.
package relationship

import "time"

// Status is the lifecycle state of a relationship.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusDeclined   Status = "declined"
	StatusTerminated Status = "terminated"
)

// CanTransitionTo reports whether next is a legal successor state.
// pending may become active or declined; active may become terminated.
// declined and terminated are terminal, and nothing ever returns to
// pending.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusDeclined
	case StatusActive:
		return next == StatusTerminated
	default:
		return false
	}
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusDeclined, StatusTerminated:
		return true
	}
	return false
}

// ProviderSettings controls how this peer behaves as a backup provider.
type ProviderSettings struct {
	Enabled                      bool  `json:"enabled"`
	MaxTotalStorageBytes         int64 `json:"max_total_storage_bytes"`
	DefaultMaxClientStorageBytes int64 `json:"default_max_client_storage_bytes"`
	DefaultMaxSnapshots          int   `json:"default_max_snapshots"`
	AutoAcceptFromContacts       bool  `json:"auto_accept_from_contacts"`
}

// DefaultSettings returns the provider settings used until the operator
// changes them.
func DefaultSettings() ProviderSettings {
	return ProviderSettings{
		Enabled:                      true,
		MaxTotalStorageBytes:         10 * 1024 * 1024 * 1024,
		DefaultMaxClientStorageBytes: 1024 * 1024 * 1024,
		DefaultMaxSnapshots:          10,
		AutoAcceptFromContacts:       false,
	}
}

// ClientRelationship is this peer's record of one client it stores
// backups for. CurrentStorageBytes and SnapshotCount are bookkeeping
// updated after uploads complete; they are advisory and not enforced in
// the upload path.
type ClientRelationship struct {
	ClientPublicKey     string    `json:"client_public_key"`
	ClientCallsign      string    `json:"client_callsign"`
	MaxStorageBytes     int64     `json:"max_storage_bytes"`
	MaxSnapshots        int       `json:"max_snapshots"`
	CurrentStorageBytes int64     `json:"current_storage_bytes"`
	SnapshotCount       int       `json:"snapshot_count"`
	Status              Status    `json:"status"`
	LastBackupAt        time.Time `json:"last_backup_at"`
	LastBackupStatus    string    `json:"last_backup_status"`
}

// ProviderRelationship is this peer's record of one provider that stores
// its backups. Zero time values mean "never" / "not scheduled".
type ProviderRelationship struct {
	ProviderPublicKey    string    `json:"provider_public_key"`
	ProviderCallsign     string    `json:"provider_callsign"`
	BackupIntervalDays   int       `json:"backup_interval_days"`
	Status               Status    `json:"status"`
	MaxStorageBytes      int64     `json:"max_storage_bytes"`
	MaxSnapshots         int       `json:"max_snapshots"`
	LastSuccessfulBackup time.Time `json:"last_successful_backup"`
	NextScheduledBackup  time.Time `json:"next_scheduled_backup"`
}
