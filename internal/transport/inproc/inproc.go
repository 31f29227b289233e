// Package inproc wires peers together in memory. It exists for tests and
// single-machine development: delivery is synchronous, presence is a
// flag, and nothing crosses a socket.
package inproc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/peervault/peervault/internal/transport"
)

// Fabric is the shared in-memory network.
type Fabric struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func NewFabric() *Fabric {
	return &Fabric{peers: make(map[string]*Peer)}
}

// Join adds a peer to the fabric. The returned Peer is the node's
// Messenger and PeerDirectory; handlers are attached once the node's
// services exist.
func (f *Fabric) Join(callsign string) *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Peer{
		fabric:   f,
		callsign: callsign,
		online:   true,
		contacts: make(map[string]bool),
	}
	f.peers[callsign] = p
	return p
}

// SetOnline flips a peer's presence.
func (f *Fabric) SetOnline(callsign string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.peers[callsign]; ok {
		p.online = online
	}
}

func (f *Fabric) lookup(callsign string) (*Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peers[callsign]
	if !ok || !p.online {
		return nil, fmt.Errorf("peer %s unreachable", callsign)
	}
	return p, nil
}

// Peer is one node's endpoint on the fabric.
type Peer struct {
	fabric   *Fabric
	callsign string
	online   bool
	contacts map[string]bool

	inbound transport.InboundHandler
	storage transport.StorageHandler
}

// Attach wires the node's inbound message handler and storage handler.
func (p *Peer) Attach(inbound transport.InboundHandler, storage transport.StorageHandler) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	p.inbound = inbound
	p.storage = storage
}

// AddContact marks another callsign as a known contact of this peer.
func (p *Peer) AddContact(callsign string) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	p.contacts[callsign] = true
}

func (p *Peer) SendMessage(ctx context.Context, toCallsign string, payload []byte) error {
	target, err := p.fabric.lookup(toCallsign)
	if err != nil {
		return err
	}
	if target.inbound == nil {
		return fmt.Errorf("peer %s has no message handler", toCallsign)
	}
	target.inbound.HandleMessage(ctx, p.callsign, payload)
	return nil
}

func (p *Peer) Upload(ctx context.Context, toCallsign, path string, data []byte) error {
	target, err := p.fabric.lookup(toCallsign)
	if err != nil {
		return err
	}
	client, snapshotID, name, err := transport.ParseStoragePath(path)
	if err != nil {
		return err
	}
	if client != p.callsign {
		return fmt.Errorf("storage path names %s, sender is %s", client, p.callsign)
	}
	if target.storage == nil {
		return fmt.Errorf("peer %s has no storage handler", toCallsign)
	}
	if name == "" {
		return target.storage.PutManifest(ctx, p.callsign, snapshotID, data)
	}
	return target.storage.PutBlob(ctx, p.callsign, snapshotID, name, data)
}

func (p *Peer) Download(ctx context.Context, toCallsign, path string) ([]byte, error) {
	target, err := p.fabric.lookup(toCallsign)
	if err != nil {
		return nil, err
	}
	client, snapshotID, name, err := transport.ParseStoragePath(path)
	if err != nil {
		return nil, err
	}
	if client != p.callsign {
		return nil, fmt.Errorf("storage path names %s, sender is %s", client, p.callsign)
	}
	if target.storage == nil {
		return nil, fmt.Errorf("peer %s has no storage handler", toCallsign)
	}
	if name == "" {
		return target.storage.GetManifest(ctx, p.callsign, snapshotID)
	}
	return target.storage.GetBlob(ctx, p.callsign, snapshotID, name)
}

// OnlinePeers lists every other online peer on the fabric.
func (p *Peer) OnlinePeers(_ context.Context) ([]string, error) {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	var out []string
	for callsign, peer := range p.fabric.peers {
		if callsign == p.callsign || !peer.online {
			continue
		}
		out = append(out, callsign)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Peer) IsContact(callsign string) bool {
	p.fabric.mu.Lock()
	defer p.fabric.mu.Unlock()
	return p.contacts[callsign]
}
