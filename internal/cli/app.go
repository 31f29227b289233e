// Package cli implements the interactive PeerVault console. It runs a
// full node in the background and exposes the client and provider
// operations as REPL commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/config"
	"github.com/peervault/peervault/internal/daemon"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/status"
)

// clientOps is the client-role surface the console drives.
// *client.Service satisfies it; tests provide a fake.
type clientOps interface {
	SendInvite(ctx context.Context, providerCallsign string, intervalDays int) (relationship.ProviderRelationship, error)
	RemoveProvider(ctx context.Context, providerCallsign string) error
	Providers() []relationship.ProviderRelationship
	Provider(callsign string) (relationship.ProviderRelationship, bool)
	StartBackup(ctx context.Context, providerCallsign string) (string, error)
	StartRestore(ctx context.Context, providerCallsign, snapshotID string) error
	StartDiscovery(ctx context.Context, window time.Duration) (string, error)
	BackupStatus() (status.Transfer, bool)
	RestoreStatus() (status.Transfer, bool)
	DiscoveryStatus(discoveryID string) (status.Discovery, bool)
	LatestDiscovery() (status.Discovery, bool)
}

// providerOps is the provider-role surface.
// *provider.Service satisfies it; tests provide a fake.
type providerOps interface {
	AcceptInvite(ctx context.Context, callsign string) error
	DeclineInvite(ctx context.Context, callsign string) error
	RemoveClient(ctx context.Context, callsign string, erase bool) error
	PendingInvites() []relationship.ClientRelationship
	Clients() []relationship.ClientRelationship
	Settings() relationship.ProviderSettings
	UpdateSettings(settings relationship.ProviderSettings) error
}

type App struct {
	config   *config.Config
	node     *daemon.App
	client   clientOps
	provider providerOps
	callsign string
	npub     string
	reader   *bufio.Reader
}

// NewApp unlocks the identity keyfile with a passphrase read from the
// terminal and builds the node. A missing keyfile is created on the
// spot, so the first run doubles as registration.
func NewApp(c *config.Config) (*App, error) {
	passphrase, err := getPassword(os.Stdout)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(passphrase)

	node, err := daemon.NewApp(c, passphrase)
	if err != nil {
		return nil, err
	}

	return &App{
		config:   c,
		node:     node,
		client:   node.Client(),
		provider: node.Provider(),
		callsign: node.Identity().Callsign(),
		npub:     node.Identity().Npub(),
		reader:   bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s)", a.callsign)
}

// Run starts the node and hands the terminal to the REPL. Leaving the
// REPL stops the node.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.node.Run(ctx)
	}()

	a.Root(ctx)

	cancel()
	<-done
}

func (a *App) Root(ctx context.Context) {
	fmt.Println("PeerVault console (type 'help' for commands)")
	fmt.Printf("Callsign %s, npub %s\n", a.callsign, a.npub)
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}
