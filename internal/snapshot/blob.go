package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/peervault/peervault/internal/common"
)

// BlobStore persists encrypted file blobs on behalf of clients. Keys are
// always the triple (clientCallsign, snapshotID, blobName); callers
// validate the parts before they reach the store.
type BlobStore interface {
	Put(ctx context.Context, clientCallsign, snapshotID, name string, data []byte) error
	Get(ctx context.Context, clientCallsign, snapshotID, name string) ([]byte, error)
	// DeleteSnapshot removes every blob of one snapshot.
	DeleteSnapshot(ctx context.Context, clientCallsign, snapshotID string) error
	// DeleteClient removes every blob stored for the client.
	DeleteClient(ctx context.Context, clientCallsign string) error
	// ClientBytes sums the stored size of all the client's blobs. The
	// provider recounts after each completed backup instead of keeping a
	// running total, so same-day overwrites cannot skew the bookkeeping.
	ClientBytes(ctx context.Context, clientCallsign string) (int64, error)
}

const blobDirName = "files"

// FSBlobStore keeps blobs on the local filesystem under
// backups/{client}/{snapshotId}/files/{name}.
type FSBlobStore struct {
	dataDir string
}

func NewFSBlobStore(dataDir string) *FSBlobStore {
	return &FSBlobStore{dataDir: dataDir}
}

func (f *FSBlobStore) blobDir(client, snapshotID string) string {
	return filepath.Join(f.dataDir, backupsDir, client, snapshotID, blobDirName)
}

func (f *FSBlobStore) Put(_ context.Context, client, snapshotID, name string, data []byte) error {
	dir := f.blobDir(client, snapshotID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating blob dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("writing blob %s: %w", name, err)
	}
	return nil
}

func (f *FSBlobStore) Get(_ context.Context, client, snapshotID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.blobDir(client, snapshotID), name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", name, err)
	}
	return data, nil
}

func (f *FSBlobStore) DeleteSnapshot(_ context.Context, client, snapshotID string) error {
	return os.RemoveAll(f.blobDir(client, snapshotID))
}

func (f *FSBlobStore) DeleteClient(_ context.Context, client string) error {
	clientDir := filepath.Join(f.dataDir, backupsDir, client)
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
		if err := os.RemoveAll(filepath.Join(clientDir, e.Name(), blobDirName)); err != nil {
			return err
		}
	}
	return nil
}

func (f *FSBlobStore) ClientBytes(_ context.Context, client string) (int64, error) {
	clientDir := filepath.Join(f.dataDir, backupsDir, client)
	var total int64
	err := filepath.WalkDir(clientDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(filepath.Dir(path)) != blobDirName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}
