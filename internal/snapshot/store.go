package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/peervault/peervault/internal/common"
)

const (
	backupsDir   = "backups"
	statusFile   = "status.json"
	manifestFile = "manifest.json"
)

// Store is the provider-side snapshot store: status records and opaque
// manifests on the local tree, blob bytes delegated to a BlobStore.
type Store struct {
	mu      sync.Mutex
	dataDir string
	blobs   BlobStore
}

func NewStore(dataDir string, blobs BlobStore) *Store {
	return &Store{dataDir: dataDir, blobs: blobs}
}

// Begin records that a snapshot upload started. Any blobs left from an
// earlier run of the same snapshot id are wiped first, so a same-day
// rerun starts clean instead of accumulating orphans.
func (s *Store) Begin(ctx context.Context, client, id string, startedAt time.Time) error {
	if err := validateParts(client, id); err != nil {
		return err
	}
	if err := s.blobs.DeleteSnapshot(ctx, client, id); err != nil {
		return fmt.Errorf("clearing snapshot %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeStatus(client, id, Snapshot{
		SnapshotID: id,
		Status:     StatusInProgress,
		StartedAt:  startedAt,
	})
}

// Complete marks the snapshot finished with the totals the client
// announced. A record is created even if Begin was never seen; messages
// can arrive out of order on a lossy fabric.
func (s *Store) Complete(client, id string, totalFiles int, totalBytes int64, completedAt time.Time) error {
	if err := validateParts(client, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _, err := s.readStatus(client, id)
	if err != nil {
		return err
	}
	snap.SnapshotID = id
	snap.Status = StatusComplete
	snap.TotalFiles = totalFiles
	snap.TotalBytes = totalBytes
	snap.CompletedAt = completedAt
	return s.writeStatus(client, id, snap)
}

// Snapshot returns the record for one snapshot id.
func (s *Store) Snapshot(client, id string) (Snapshot, bool, error) {
	if err := validateParts(client, id); err != nil {
		return Snapshot{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStatus(client, id)
}

// Snapshots lists the client's snapshots ordered by id. Snapshot ids are
// dates, so the order is chronological.
func (s *Store) Snapshots(client string) ([]Snapshot, error) {
	if err := validateParts(client); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.dataDir, backupsDir, client))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, ok, err := s.readStatus(client, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotID < out[j].SnapshotID })
	return out, nil
}

// LatestComplete returns the most recent completed snapshot, if any.
func (s *Store) LatestComplete(client string) (Snapshot, bool, error) {
	snaps, err := s.Snapshots(client)
	if err != nil {
		return Snapshot{}, false, err
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Status == StatusComplete {
			return snaps[i], true, nil
		}
	}
	return Snapshot{}, false, nil
}

// PutManifest stores the client's encrypted manifest bytes verbatim.
func (s *Store) PutManifest(client, id string, data []byte) error {
	if err := validateParts(client, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.dataDir, backupsDir, client, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// GetManifest returns the stored manifest bytes.
func (s *Store) GetManifest(client, id string) ([]byte, error) {
	if err := validateParts(client, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dataDir, backupsDir, client, id, manifestFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("manifest %s/%s: %w", client, id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return data, nil
}

// PutBlob stores one encrypted file blob.
func (s *Store) PutBlob(ctx context.Context, client, id, name string, data []byte) error {
	if err := validateParts(client, id, name); err != nil {
		return err
	}
	return s.blobs.Put(ctx, client, id, name, data)
}

// GetBlob returns one encrypted file blob.
func (s *Store) GetBlob(ctx context.Context, client, id, name string) ([]byte, error) {
	if err := validateParts(client, id, name); err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, client, id, name)
}

// DeleteAll erases every snapshot the client has stored here: blobs
// first, then the local records. The relationship config file is not
// touched; that record belongs to the relationship store.
func (s *Store) DeleteAll(ctx context.Context, client string) error {
	if err := validateParts(client); err != nil {
		return err
	}
	if err := s.blobs.DeleteClient(ctx, client); err != nil {
		return fmt.Errorf("erasing blobs for %s: %w", client, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clientDir := filepath.Join(s.dataDir, backupsDir, client)
	entries, err := os.ReadDir(clientDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(clientDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ClientUsage recounts what the client has stored: total blob bytes and
// the number of completed snapshots. This feeds relationship bookkeeping
// after each backup.
func (s *Store) ClientUsage(ctx context.Context, client string) (int64, int, error) {
	bytes, err := s.blobs.ClientBytes(ctx, client)
	if err != nil {
		return 0, 0, err
	}
	snaps, err := s.Snapshots(client)
	if err != nil {
		return 0, 0, err
	}
	count := 0
	for _, snap := range snaps {
		if snap.Status == StatusComplete {
			count++
		}
	}
	return bytes, count, nil
}

func (s *Store) readStatus(client, id string) (Snapshot, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, backupsDir, client, id, statusFile))
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("reading snapshot status: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("parsing snapshot status: %w", err)
	}
	return snap, true, nil
}

func (s *Store) writeStatus(client, id string, snap Snapshot) error {
	dir := filepath.Join(s.dataDir, backupsDir, client, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot status: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, statusFile), data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot status: %w", err)
	}
	return nil
}

// validateParts rejects path elements that could escape the data
// directory. Every part arrives from the fabric and is untrusted.
func validateParts(parts ...string) error {
	for _, p := range parts {
		if p == "" || !filepath.IsLocal(p) || p != filepath.Base(p) {
			return fmt.Errorf("%w: %q", common.ErrInvalidPath, p)
		}
	}
	return nil
}
