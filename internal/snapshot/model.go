// Package snapshot holds the manifest and snapshot records of the backup
// protocol and the provider-side store that persists them. Blob bytes go
// through a BlobStore so providers can keep them on the local tree or
// offload them to S3; manifests and status records always stay local.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Status is the provider's view of one snapshot's lifecycle.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Snapshot is the provider-side record of one backup run. SnapshotID is
// the client's backup date (YYYY-MM-DD); a rerun on the same day
// overwrites the record.
type Snapshot struct {
	SnapshotID  string    `json:"snapshot_id"`
	Status      Status    `json:"status"`
	TotalFiles  int       `json:"total_files"`
	TotalBytes  int64     `json:"total_bytes"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// FileEntry describes one backed-up file. ContentHash is the hex BLAKE3
// of the plaintext; EncryptedBlobName is the random name the blob is
// stored under, carrying no hint of the original path.
type FileEntry struct {
	RelativePath      string    `json:"relative_path"`
	ContentHash       string    `json:"content_hash"`
	PlaintextSize     int64     `json:"plaintext_size"`
	EncryptedSize     int64     `json:"encrypted_size"`
	EncryptedBlobName string    `json:"encrypted_blob_name"`
	ModifiedAt        time.Time `json:"modified_at"`
}

// Manifest is the client's index of one snapshot. It is compressed,
// encrypted to the client's own key and stored on the provider as opaque
// bytes; the provider can never read it.
type Manifest struct {
	SnapshotID      string      `json:"snapshot_id"`
	ClientPublicKey string      `json:"client_public_key"`
	ClientCallsign  string      `json:"client_callsign"`
	Files           []FileEntry `json:"files"`
	TotalFiles      int         `json:"total_files"`
	TotalBytes      int64       `json:"total_bytes"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     time.Time   `json:"completed_at"`
}

// Shared stateless coders. EncodeAll/DecodeAll on these are safe for
// concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeManifest serializes and compresses m. The caller encrypts the
// result before it leaves the machine.
func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

// DecodeManifest reverses EncodeManifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
