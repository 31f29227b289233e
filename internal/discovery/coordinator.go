// Package discovery finds which online peers hold backups for this
// station. A run broadcasts a signed challenge carrying a random nonce,
// collects signed responses until its window closes, and folds them
// into a status snapshot. Runs are independent and may overlap.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/status"
	"github.com/peervault/peervault/internal/transport"
)

const fanoutLimit = 8

type run struct {
	challenge string
	responded map[string]bool
	state     status.Discovery
}

// Coordinator drives discovery runs and folds inbound responses.
type Coordinator struct {
	id        identity.Identity
	messenger transport.Messenger
	directory transport.PeerDirectory
	clock     clock.Clock
	logger    logging.Logger
	broker    *status.Broker[status.Discovery]

	mu   sync.Mutex
	runs map[string]*run
}

func NewCoordinator(
	id identity.Identity,
	messenger transport.Messenger,
	directory transport.PeerDirectory,
	clk clock.Clock,
	logger logging.Logger,
) *Coordinator {
	return &Coordinator{
		id:        id,
		messenger: messenger,
		directory: directory,
		clock:     clk,
		logger:    logger,
		broker:    status.NewBroker[status.Discovery](),
		runs:      make(map[string]*run),
	}
}

// Status returns the folded state of one run.
func (c *Coordinator) Status(discoveryID string) (status.Discovery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[discoveryID]
	if !ok {
		return status.Discovery{}, false
	}
	return cloneState(r.state), true
}

// Latest returns the most recently updated run, if any.
func (c *Coordinator) Latest() (status.Discovery, bool) {
	return c.broker.Latest()
}

// Subscribe follows state updates across all runs; the payload carries
// the run id.
func (c *Coordinator) Subscribe() (<-chan status.Discovery, func()) {
	return c.broker.Subscribe()
}

// Start begins a discovery run over every online peer and returns its
// id right away. The run collects responses for the given window and
// then freezes. Peers that cannot be reached are simply counted as
// queried; silence is an expected answer here.
func (c *Coordinator) Start(ctx context.Context, window time.Duration) (string, error) {
	challenge, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}
	peers, err := c.directory.OnlinePeers(ctx)
	if err != nil {
		return "", fmt.Errorf("listing online peers: %w", err)
	}

	content, err := json.Marshal(protocol.ChallengeContent{Challenge: challenge})
	if err != nil {
		return "", err
	}
	ev := identity.Event{
		CreatedAt: c.clock.Now().Unix(),
		Kind:      protocol.KindDiscoveryChallenge,
		Tags:      [][]string{{"p", c.id.PublicKey()}},
		Content:   string(content),
	}
	if err := c.id.SignEvent(&ev); err != nil {
		return "", err
	}
	discoveryID := uuid.NewString()
	payload, err := protocol.Encode(&protocol.DiscoveryChallenge{Event: ev, DiscoveryID: discoveryID})
	if err != nil {
		return "", err
	}

	r := &run{
		challenge: challenge,
		responded: make(map[string]bool),
		state: status.Discovery{
			DiscoveryID:    discoveryID,
			State:          status.StateInProgress,
			DevicesToQuery: len(peers),
			StartedAt:      c.clock.Now(),
		},
	}
	c.mu.Lock()
	c.runs[discoveryID] = r
	c.mu.Unlock()
	c.broker.Publish(cloneState(r.state))

	c.clock.AfterFunc(window, func() { c.finish(discoveryID) })

	runCtx := context.WithoutCancel(ctx)
	go c.fanout(runCtx, discoveryID, peers, payload)

	return discoveryID, nil
}

func (c *Coordinator) fanout(ctx context.Context, discoveryID string, peers []string, payload []byte) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutLimit)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			if err := c.messenger.SendMessage(gctx, peer, payload); err != nil {
				c.logger.Warn("discovery challenge not delivered",
					"peer", peer, "discovery", discoveryID, "error", err.Error())
			}
			c.mu.Lock()
			if r, ok := c.runs[discoveryID]; ok {
				r.state.DevicesQueried++
				c.broker.Publish(cloneState(r.state))
			}
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
}

func (c *Coordinator) finish(discoveryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[discoveryID]
	if !ok || r.state.State != status.StateInProgress {
		return
	}
	r.state.State = status.StateComplete
	c.broker.Publish(cloneState(r.state))
	c.logger.Info("discovery complete",
		"discovery", discoveryID,
		"responded", r.state.DevicesResponded,
		"providers", len(r.state.ProvidersFound))
}

// HandleDiscoveryResponse folds one response into its run. The router
// has already verified the event signature and freshness; everything
// else that can be wrong here is a silent drop, because slow or
// malformed answers are normal on a mesh.
func (c *Coordinator) HandleDiscoveryResponse(_ context.Context, from string, msg *protocol.DiscoveryResponse) error {
	var content protocol.ResponseContent
	if err := json.Unmarshal([]byte(msg.Event.Content), &content); err != nil {
		c.logger.Debug("discovery response with unreadable content", "from", from)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[msg.DiscoveryID]
	if !ok {
		c.logger.Debug("response for unknown discovery run", "from", from, "discovery", msg.DiscoveryID)
		return nil
	}
	if r.state.State != status.StateInProgress {
		c.logger.Debug("response after discovery window closed", "from", from, "discovery", msg.DiscoveryID)
		return nil
	}
	// The signed content must echo our nonce, or the response was built
	// for some other run.
	if content.Challenge != r.challenge {
		c.logger.Debug("discovery response with wrong challenge", "from", from)
		return nil
	}
	if r.responded[from] {
		return nil
	}
	r.responded[from] = true
	r.state.DevicesResponded++

	if content.HasBackups {
		r.state.ProvidersFound = append(r.state.ProvidersFound, status.DiscoveredProvider{
			Callsign:         from,
			PublicKey:        msg.Event.PubKey,
			MaxStorageBytes:  msg.MaxStorageBytes,
			SnapshotCount:    msg.SnapshotCount,
			LatestSnapshotID: msg.LatestSnapshotID,
		})
	}
	c.broker.Publish(cloneState(r.state))
	return nil
}

// cloneState copies the providers slice so published snapshots stay
// stable while the run keeps appending.
func cloneState(s status.Discovery) status.Discovery {
	out := s
	out.ProvidersFound = make([]status.DiscoveredProvider, len(s.ProvidersFound))
	copy(out.ProvidersFound, s.ProvidersFound)
	return out
}
