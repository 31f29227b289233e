package protocol

import (
	"context"
	"time"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
)

// ClientHandler receives messages addressed to the client role.
type ClientHandler interface {
	HandleInviteResponse(ctx context.Context, from string, msg *BackupInviteResponse) error
	HandleDiscoveryResponse(ctx context.Context, from string, msg *DiscoveryResponse) error
}

// ProviderHandler receives messages addressed to the provider role.
type ProviderHandler interface {
	HandleInvite(ctx context.Context, from string, msg *BackupInvite) error
	HandleBackupStart(ctx context.Context, from string, msg *BackupStart) error
	HandleBackupComplete(ctx context.Context, from string, msg *BackupComplete) error
	HandleDiscoveryChallenge(ctx context.Context, from string, msg *DiscoveryChallenge) error
}

// StatusHandler applies relationship status changes announced by peers.
type StatusHandler interface {
	HandleStatusChange(ctx context.Context, from string, msg *StatusChange) error
}

// StatusHandlerFunc adapts a function to the StatusHandler interface.
type StatusHandlerFunc func(ctx context.Context, from string, msg *StatusChange) error

func (f StatusHandlerFunc) HandleStatusChange(ctx context.Context, from string, msg *StatusChange) error {
	return f(ctx, from, msg)
}

// Router decodes inbound payloads, authenticates event-carrying messages
// and dispatches to the role handlers. Anything that fails to decode or
// validate is dropped: inbound traffic comes from an open fabric, so a
// bad message is noise, not an error to propagate.
type Router struct {
	client   ClientHandler
	provider ProviderHandler
	status   StatusHandler
	clock    clock.Clock
	logger   logging.Logger
}

func NewRouter(client ClientHandler, provider ProviderHandler, status StatusHandler, clk clock.Clock, logger logging.Logger) *Router {
	return &Router{
		client:   client,
		provider: provider,
		status:   status,
		clock:    clk,
		logger:   logger,
	}
}

// HandleMessage routes one inbound payload from the named peer.
func (r *Router) HandleMessage(ctx context.Context, from string, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		r.logger.Debug("dropping undecodable message", "from", from, "error", err.Error())
		return
	}

	if ev := signedEventOf(msg); ev != nil {
		if err := r.validateEvent(ev); err != nil {
			r.logger.Debug("dropping invalid event", "from", from, "type", msg.Type(), "error", err.Error())
			return
		}
	}

	switch m := msg.(type) {
	case *BackupInvite:
		err = r.provider.HandleInvite(ctx, from, m)
	case *BackupInviteResponse:
		err = r.client.HandleInviteResponse(ctx, from, m)
	case *BackupStart:
		err = r.provider.HandleBackupStart(ctx, from, m)
	case *BackupComplete:
		err = r.provider.HandleBackupComplete(ctx, from, m)
	case *DiscoveryChallenge:
		err = r.provider.HandleDiscoveryChallenge(ctx, from, m)
	case *DiscoveryResponse:
		err = r.client.HandleDiscoveryResponse(ctx, from, m)
	case *StatusChange:
		err = r.status.HandleStatusChange(ctx, from, m)
	}
	if err != nil {
		r.logger.Error("handling message", "from", from, "type", msg.Type(), "error", err.Error())
	}
}

// validateEvent checks the signature and that the event's timestamp is
// within the freshness window of local time, in either direction.
func (r *Router) validateEvent(ev *identity.Event) error {
	if err := identity.VerifyEvent(ev); err != nil {
		return err
	}
	age := r.clock.Now().Unix() - ev.CreatedAt
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > common.FreshnessWindow {
		return common.ErrEventStale
	}
	return nil
}

func signedEventOf(msg Message) *identity.Event {
	switch m := msg.(type) {
	case *BackupInvite:
		return &m.Event
	case *DiscoveryChallenge:
		return &m.Event
	case *DiscoveryResponse:
		return &m.Event
	default:
		return nil
	}
}
