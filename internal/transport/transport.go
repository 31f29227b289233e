// Package transport defines how the engine reaches other peers: a
// Messenger for control messages and snapshot data, a PeerDirectory for
// presence, and the handler contracts the receiving side implements.
// Peer identity, addressing and online status live outside the engine;
// adapters bridge to whatever fabric actually carries the bytes.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/peervault/peervault/internal/common"
)

// InboundHandler receives control messages addressed to this peer.
type InboundHandler interface {
	HandleMessage(ctx context.Context, from string, payload []byte)
}

// Messenger sends to other peers. SendMessage delivers a control message
// envelope; Upload and Download move snapshot data under the logical
// storage paths built by ManifestPath and BlobPath.
type Messenger interface {
	SendMessage(ctx context.Context, toCallsign string, payload []byte) error
	Upload(ctx context.Context, toCallsign, path string, data []byte) error
	Download(ctx context.Context, toCallsign, path string) ([]byte, error)
}

// PeerDirectory answers which known peers are reachable right now and
// whether a peer is in the operator's contact list.
type PeerDirectory interface {
	OnlinePeers(ctx context.Context) ([]string, error)
	IsContact(callsign string) bool
}

// StorageHandler serves inbound snapshot data requests. The transport
// adapter has already authenticated fromCallsign and checked that it
// matches the path's client segment.
type StorageHandler interface {
	PutManifest(ctx context.Context, fromCallsign, snapshotID string, data []byte) error
	GetManifest(ctx context.Context, fromCallsign, snapshotID string) ([]byte, error)
	PutBlob(ctx context.Context, fromCallsign, snapshotID, name string, data []byte) error
	GetBlob(ctx context.Context, fromCallsign, snapshotID, name string) ([]byte, error)
}

const storagePrefix = "/api/backup/clients/"

// ManifestPath builds the logical path a client uploads its manifest to.
func ManifestPath(clientCallsign, snapshotID string) string {
	return fmt.Sprintf("%s%s/snapshots/%s", storagePrefix, clientCallsign, snapshotID)
}

// BlobPath builds the logical path for one encrypted blob.
func BlobPath(clientCallsign, snapshotID, name string) string {
	return fmt.Sprintf("%s%s/snapshots/%s/files/%s", storagePrefix, clientCallsign, snapshotID, name)
}

// ParseStoragePath splits a logical storage path into its parts. An empty
// blob name means the path addresses the manifest.
func ParseStoragePath(path string) (clientCallsign, snapshotID, name string, err error) {
	rest, ok := strings.CutPrefix(path, storagePrefix)
	if !ok {
		return "", "", "", fmt.Errorf("%w: %q", common.ErrInvalidPath, path)
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[1] == "snapshots":
		return parts[0], parts[2], "", nil
	case len(parts) == 5 && parts[1] == "snapshots" && parts[3] == "files":
		return parts[0], parts[2], parts[4], nil
	default:
		return "", "", "", fmt.Errorf("%w: %q", common.ErrInvalidPath, path)
	}
}
