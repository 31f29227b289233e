package relationship

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/filex"
)

const (
	backupsDir      = "backups"
	providersDir    = "backup-config/providers"
	settingsFile    = "settings.json"
	relationshipCfg = "config.json"
)

// Store holds both sides of this peer's relationships: the clients it
// provides storage to and the providers it backs up to. All records are
// persisted before the in-memory index is updated, so a read never
// observes state newer than disk.
type Store struct {
	mu        sync.Mutex
	dataDir   string
	settings  ProviderSettings
	clients   map[string]*ClientRelationship
	providers map[string]*ProviderRelationship
}

// NewStore opens the relationship store rooted at dataDir, creating the
// layout and loading any existing records. An unwritable data directory
// fails here rather than on the first mutation.
func NewStore(dataDir string) (*Store, error) {
	for _, sub := range []string{backupsDir, providersDir} {
		if _, err := filex.EnsureSubDir(dataDir, sub); err != nil {
			return nil, fmt.Errorf("opening relationship store: %w", err)
		}
	}
	s := &Store{
		dataDir:   dataDir,
		settings:  DefaultSettings(),
		clients:   make(map[string]*ClientRelationship),
		providers: make(map[string]*ProviderRelationship),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading relationship store: %w", err)
	}
	return s, nil
}

func (s *Store) load() error {
	if err := readJSON(s.settingsPath(), &s.settings); err != nil && !os.IsNotExist(err) {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(s.dataDir, backupsDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var rel ClientRelationship
		err := readJSON(s.clientConfigPath(e.Name()), &rel)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		s.clients[rel.ClientCallsign] = &rel
	}

	entries, err = os.ReadDir(filepath.Join(s.dataDir, providersDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var rel ProviderRelationship
		err := readJSON(s.providerConfigPath(e.Name()), &rel)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		s.providers[rel.ProviderCallsign] = &rel
	}
	return nil
}

// Settings returns the current provider settings.
func (s *Store) Settings() ProviderSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SaveSettings persists new provider settings.
func (s *Store) SaveSettings(settings ProviderSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.settingsPath(), settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

// Client returns the relationship with the named client, if any.
func (s *Store) Client(callsign string) (ClientRelationship, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.clients[callsign]
	if !ok {
		return ClientRelationship{}, false
	}
	return *rel, true
}

// ClientByPublicKey returns the relationship whose client signs with the
// given key. Discovery challenges identify the target by key, not callsign.
func (s *Store) ClientByPublicKey(publicKey string) (ClientRelationship, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rel := range s.clients {
		if rel.ClientPublicKey == publicKey {
			return *rel, true
		}
	}
	return ClientRelationship{}, false
}

// Clients lists all client relationships sorted by callsign.
func (s *Store) Clients() []ClientRelationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClientRelationship, 0, len(s.clients))
	for _, rel := range s.clients {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientCallsign < out[j].ClientCallsign })
	return out
}

// PutClient creates or replaces a client relationship record.
func (s *Store) PutClient(rel ClientRelationship) error {
	if !validCallsign(rel.ClientCallsign) {
		return fmt.Errorf("%w: %q", common.ErrInvalidCallsign, rel.ClientCallsign)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.clientConfigPath(rel.ClientCallsign), rel); err != nil {
		return err
	}
	s.clients[rel.ClientCallsign] = &rel
	return nil
}

// UpdateClient applies mutate to the named client record and persists the
// result.
func (s *Store) UpdateClient(callsign string, mutate func(*ClientRelationship)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.clients[callsign]
	if !ok {
		return fmt.Errorf("client %s: %w", callsign, common.ErrNotFound)
	}
	next := *rel
	mutate(&next)
	if err := writeJSON(s.clientConfigPath(callsign), next); err != nil {
		return err
	}
	*rel = next
	return nil
}

// UpdateClientStatus moves the client relationship to next, enforcing the
// lifecycle transitions.
func (s *Store) UpdateClientStatus(callsign string, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.clients[callsign]
	if !ok {
		return fmt.Errorf("client %s: %w", callsign, common.ErrNotFound)
	}
	if !rel.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rel.Status, next)
	}
	updated := *rel
	updated.Status = next
	if err := writeJSON(s.clientConfigPath(callsign), updated); err != nil {
		return err
	}
	*rel = updated
	return nil
}

// DeleteClient removes the client relationship record. Snapshot data is
// the snapshot store's concern and must be erased before the record.
func (s *Store) DeleteClient(callsign string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[callsign]; !ok {
		return fmt.Errorf("client %s: %w", callsign, common.ErrNotFound)
	}
	if err := os.Remove(s.clientConfigPath(callsign)); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Drop the directory too if nothing else is left in it.
	_ = os.Remove(filepath.Join(s.dataDir, backupsDir, callsign))
	delete(s.clients, callsign)
	return nil
}

// Provider returns the relationship with the named provider, if any.
func (s *Store) Provider(callsign string) (ProviderRelationship, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.providers[callsign]
	if !ok {
		return ProviderRelationship{}, false
	}
	return *rel, true
}

// Providers lists all provider relationships sorted by callsign.
func (s *Store) Providers() []ProviderRelationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProviderRelationship, 0, len(s.providers))
	for _, rel := range s.providers {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderCallsign < out[j].ProviderCallsign })
	return out
}

// PutProvider creates or replaces a provider relationship record.
func (s *Store) PutProvider(rel ProviderRelationship) error {
	if !validCallsign(rel.ProviderCallsign) {
		return fmt.Errorf("%w: %q", common.ErrInvalidCallsign, rel.ProviderCallsign)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.providerConfigPath(rel.ProviderCallsign), rel); err != nil {
		return err
	}
	s.providers[rel.ProviderCallsign] = &rel
	return nil
}

// UpdateProvider applies mutate to the named provider record and persists
// the result.
func (s *Store) UpdateProvider(callsign string, mutate func(*ProviderRelationship)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.providers[callsign]
	if !ok {
		return fmt.Errorf("provider %s: %w", callsign, common.ErrNotFound)
	}
	next := *rel
	mutate(&next)
	if err := writeJSON(s.providerConfigPath(callsign), next); err != nil {
		return err
	}
	*rel = next
	return nil
}

// UpdateProviderStatus moves the provider relationship to next, enforcing
// the lifecycle transitions.
func (s *Store) UpdateProviderStatus(callsign string, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.providers[callsign]
	if !ok {
		return fmt.Errorf("provider %s: %w", callsign, common.ErrNotFound)
	}
	if !rel.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rel.Status, next)
	}
	updated := *rel
	updated.Status = next
	if err := writeJSON(s.providerConfigPath(callsign), updated); err != nil {
		return err
	}
	*rel = updated
	return nil
}

// DeleteProvider removes the provider relationship record.
func (s *Store) DeleteProvider(callsign string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[callsign]; !ok {
		return fmt.Errorf("provider %s: %w", callsign, common.ErrNotFound)
	}
	if err := os.RemoveAll(filepath.Join(s.dataDir, providersDir, callsign)); err != nil {
		return err
	}
	delete(s.providers, callsign)
	return nil
}

// HasQuotaAvailable reports whether the named client could store
// additionalBytes more without exceeding its quota. This is a pure read;
// nothing in the upload path calls it.
func (s *Store) HasQuotaAvailable(callsign string, additionalBytes int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.clients[callsign]
	if !ok {
		return false, fmt.Errorf("client %s: %w", callsign, common.ErrNotFound)
	}
	return rel.CurrentStorageBytes+additionalBytes <= rel.MaxStorageBytes, nil
}

// ApplyPeerStatus applies a status change announced by the peer with the
// given callsign to whichever relationship exists with it. An unknown
// callsign is a no-op; a repeated announcement of the current status is
// too.
func (s *Store) ApplyPeerStatus(from string, status string) error {
	next := Status(status)
	if !next.Valid() {
		return fmt.Errorf("peer %s announced unknown status %q", from, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rel, ok := s.providers[from]; ok {
		if rel.Status == next {
			return nil
		}
		if !rel.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rel.Status, next)
		}
		updated := *rel
		updated.Status = next
		if err := writeJSON(s.providerConfigPath(from), updated); err != nil {
			return err
		}
		*rel = updated
		return nil
	}
	if rel, ok := s.clients[from]; ok {
		if rel.Status == next {
			return nil
		}
		if !rel.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, rel.Status, next)
		}
		updated := *rel
		updated.Status = next
		if err := writeJSON(s.clientConfigPath(from), updated); err != nil {
			return err
		}
		*rel = updated
		return nil
	}
	return nil
}

func (s *Store) settingsPath() string {
	return filepath.Join(s.dataDir, backupsDir, settingsFile)
}

func (s *Store) clientConfigPath(callsign string) string {
	return filepath.Join(s.dataDir, backupsDir, callsign, relationshipCfg)
}

func (s *Store) providerConfigPath(callsign string) string {
	return filepath.Join(s.dataDir, providersDir, callsign, relationshipCfg)
}

// validCallsign rejects names that would escape the data directory when
// used as a path element. Callsigns arrive from the fabric and are not
// trusted.
func validCallsign(callsign string) bool {
	return callsign != "" && filepath.IsLocal(callsign) && callsign == filepath.Base(callsign)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return nil
}
