package httppeer

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Directory is a PeerDirectory over a static address map. Presence is
// probed live: a peer is online if its ping endpoint answers within the
// probe timeout. Probe failures mean offline, never an error.
type Directory struct {
	peers    map[string]string
	contacts map[string]bool
	httpc    *http.Client
}

func NewDirectory(peers map[string]string, contacts []string) *Directory {
	d := &Directory{
		peers:    peers,
		contacts: make(map[string]bool, len(contacts)),
		httpc:    &http.Client{Timeout: 2 * time.Second},
	}
	for _, callsign := range contacts {
		d.contacts[callsign] = true
	}
	return d
}

func (d *Directory) OnlinePeers(ctx context.Context) ([]string, error) {
	var (
		mu     sync.Mutex
		online []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for callsign, base := range d.peers {
		callsign, base := callsign, base
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/backup/ping", nil)
			if err != nil {
				return nil
			}
			resp, err := d.httpc.Do(req)
			if err != nil {
				return nil
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				online = append(online, callsign)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(online)
	return online, nil
}

func (d *Directory) IsContact(callsign string) bool {
	return d.contacts[callsign]
}
