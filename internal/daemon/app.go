// Package daemon initializes and runs a PeerVault node: it unlocks the
// identity, opens the stores, wires both protocol roles onto the peer
// transport and drives the HTTP endpoint plus the backup scheduler until
// shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/peervault/peervault/internal/backup"
	"github.com/peervault/peervault/internal/client"
	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/config"
	"github.com/peervault/peervault/internal/discovery"
	"github.com/peervault/peervault/internal/filex"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
	"github.com/peervault/peervault/internal/provider"
	"github.com/peervault/peervault/internal/relationship"
	"github.com/peervault/peervault/internal/restore"
	"github.com/peervault/peervault/internal/snapshot"
	"github.com/peervault/peervault/internal/transport/httppeer"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	id        *identity.NostrIdentity
	relations *relationship.Store
	snapshots *snapshot.Store
	provider  *provider.Service
	client    *client.Service
	scheduler *client.Scheduler
	server    *httppeer.Server
}

func NewApp(cfg *config.Config, passphrase []byte) (*App, error) {
	return newApp(cfg, passphrase, logging.NewJSON(os.Stdout), clock.Real())
}

func newApp(cfg *config.Config, passphrase []byte, logger logging.Logger, clk clock.Clock) (*App, error) {
	if cfg.Callsign == "" {
		return nil, errors.New("callsign not configured")
	}

	id, err := UnlockIdentity(cfg.KeyfilePath, cfg.Callsign, passphrase)
	if err != nil {
		return nil, err
	}

	relations, err := relationship.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening relationship store: %w", err)
	}
	blobs, err := buildBlobStore(cfg)
	if err != nil {
		return nil, err
	}
	snapshots := snapshot.NewStore(cfg.DataDir, blobs)

	messenger := httppeer.NewClient(id, cfg.Peers, clk, logger)
	directory := httppeer.NewDirectory(cfg.Peers, cfg.Contacts)

	providerSvc := provider.NewService(id, relations, snapshots, messenger, directory, clk, logger)

	if err := os.MkdirAll(cfg.FilesDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating files dir: %w", err)
	}
	tree := filex.NewTree(cfg.FilesDir, cfg.ExcludeDirs...)
	backupExec := backup.NewExecutor(id, relations, tree, messenger, clk, logger)
	restoreExec := restore.NewExecutor(id, relations, tree, messenger, clk, logger)
	coord := discovery.NewCoordinator(id, messenger, directory, clk, logger)
	clientSvc := client.NewService(id, relations, backupExec, restoreExec, coord, messenger, clk, logger)

	statusHandler := protocol.StatusHandlerFunc(func(_ context.Context, from string, msg *protocol.StatusChange) error {
		return relations.ApplyPeerStatus(from, msg.Status)
	})
	router := protocol.NewRouter(clientSvc, providerSvc, statusHandler, clk, logger)

	auth := httppeer.NewAuthenticator([]byte(cfg.SecretKey), clk)
	server := httppeer.NewServer(cfg.ListenAddr, router, providerSvc, auth, logger)
	scheduler := client.NewScheduler(clientSvc, relations, clk, logger, cfg.ScheduleInterval)

	return &App{
		config:    cfg,
		logger:    logger,
		id:        id,
		relations: relations,
		snapshots: snapshots,
		provider:  providerSvc,
		client:    clientSvc,
		scheduler: scheduler,
		server:    server,
	}, nil
}

func buildBlobStore(cfg *config.Config) (snapshot.BlobStore, error) {
	switch cfg.BlobStore {
	case config.BlobStoreFS, "":
		return snapshot.NewFSBlobStore(cfg.DataDir), nil
	case config.BlobStoreS3:
		return snapshot.NewS3BlobStore(context.Background(), snapshot.S3Config{
			Endpoint:        cfg.S3BaseEndpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3RootUser,
			SecretAccessKey: cfg.S3RootPassword,
			UsePathStyle:    true,
		})
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.BlobStore)
	}
}

// Client exposes the client-role operations to the CLI.
func (app *App) Client() *client.Service { return app.client }

// Provider exposes the provider-role operations to the CLI.
func (app *App) Provider() *provider.Service { return app.provider }

// Identity returns the unlocked node identity.
func (app *App) Identity() *identity.NostrIdentity { return app.id }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves the peer endpoint and the backup scheduler until ctx is
// cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info("starting peervault node",
		"callsign", app.id.Callsign(),
		"npub", app.id.Npub(),
		"addr", app.config.ListenAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.scheduler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("peer endpoint failed", "error", err.Error())
			cancelFunc()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("shutting down peer endpoint", "error", err.Error())
	}
	wg.Wait()

	app.logger.Info("peervault node stopped")
}
