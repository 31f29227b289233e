package status

import "time"

// State is the lifecycle of one tracked operation.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Transfer is the progress of one snapshot transfer, backup or restore.
// ProgressPercent is byte-driven, so it reflects data moved rather than
// file count.
type Transfer struct {
	PeerCallsign     string    `json:"peer_callsign"`
	SnapshotID       string    `json:"snapshot_id"`
	State            State     `json:"status"`
	FilesTotal       int       `json:"files_total"`
	FilesTransferred int       `json:"files_transferred"`
	BytesTotal       int64     `json:"bytes_total"`
	BytesTransferred int64     `json:"bytes_transferred"`
	ProgressPercent  int       `json:"progress_percent"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

// DiscoveredProvider is one peer that answered a discovery run holding
// backups for the searched key.
type DiscoveredProvider struct {
	Callsign         string `json:"callsign"`
	PublicKey        string `json:"public_key"`
	MaxStorageBytes  int64  `json:"max_storage_bytes"`
	SnapshotCount    int    `json:"snapshot_count"`
	LatestSnapshotID string `json:"latest_snapshot_id"`
}

// Discovery is the folded state of one discovery run.
type Discovery struct {
	DiscoveryID      string               `json:"discovery_id"`
	State            State                `json:"status"`
	DevicesToQuery   int                  `json:"devices_to_query"`
	DevicesQueried   int                  `json:"devices_queried"`
	DevicesResponded int                  `json:"devices_responded"`
	ProvidersFound   []DiscoveredProvider `json:"providers_found"`
	StartedAt        time.Time            `json:"started_at"`
}
