package httppeer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/protocol"
)

type session struct {
	token     string
	expiresAt time.Time
}

// Client is the outbound side of the HTTP fabric. Peer addresses come
// from a static map; sessions are established lazily and cached until
// they near expiry. Transient failures are retried with exponential
// backoff.
type Client struct {
	id     identity.Identity
	peers  map[string]string
	httpc  *http.Client
	clock  clock.Clock
	logger logging.Logger

	mu       sync.Mutex
	sessions map[string]session
}

func NewClient(id identity.Identity, peers map[string]string, clk clock.Clock, logger logging.Logger) *Client {
	return &Client{
		id:       id,
		peers:    peers,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		clock:    clk,
		logger:   logger,
		sessions: make(map[string]session),
	}
}

const (
	contentTypeJSON  = "application/json"
	contentTypeOctet = "application/octet-stream"
)

func (c *Client) SendMessage(ctx context.Context, toCallsign string, payload []byte) error {
	_, err := c.do(ctx, toCallsign, http.MethodPost, "/api/backup/messages", payload, contentTypeJSON)
	return err
}

func (c *Client) Upload(ctx context.Context, toCallsign, path string, data []byte) error {
	_, err := c.do(ctx, toCallsign, http.MethodPut, path, data, contentTypeOctet)
	return err
}

func (c *Client) Download(ctx context.Context, toCallsign, path string) ([]byte, error) {
	return c.do(ctx, toCallsign, http.MethodGet, path, nil, "")
}

func (c *Client) do(ctx context.Context, to, method, path string, body []byte, contentType string) ([]byte, error) {
	base, ok := c.peers[to]
	if !ok {
		return nil, fmt.Errorf("no address known for peer %s", to)
	}

	var out []byte
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := c.session(ctx, to, base)
		if err != nil {
			return retry.RetryableError(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, base+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			out = data
			return nil
		case resp.StatusCode == http.StatusUnauthorized:
			// Session may have expired server-side; handshake again.
			c.dropSession(to)
			return retry.RetryableError(fmt.Errorf("peer %s rejected session", to))
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("peer %s returned %d", to, resp.StatusCode))
		default:
			return fmt.Errorf("peer %s returned %d: %s", to, resp.StatusCode, strings.TrimSpace(string(data)))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// session returns a cached token for the peer or performs the handshake.
func (c *Client) session(ctx context.Context, to, base string) (string, error) {
	now := c.clock.Now()
	c.mu.Lock()
	if s, ok := c.sessions[to]; ok && now.Before(s.expiresAt.Add(-time.Minute)) {
		c.mu.Unlock()
		return s.token, nil
	}
	c.mu.Unlock()

	ev := identity.Event{
		CreatedAt: now.Unix(),
		Kind:      protocol.KindAuth,
		Tags:      [][]string{{"callsign", c.id.Callsign()}},
	}
	if err := c.id.SignEvent(&ev); err != nil {
		return "", fmt.Errorf("signing handshake: %w", err)
	}
	body, err := json.Marshal(authRequest{Event: ev})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/backup/auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("handshake with %s: %w", to, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("handshake with %s: status %d", to, resp.StatusCode)
	}
	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("handshake with %s: %w", to, err)
	}

	c.mu.Lock()
	c.sessions[to] = session{token: auth.Token, expiresAt: time.Unix(auth.ExpiresAt, 0)}
	c.mu.Unlock()
	return auth.Token, nil
}

func (c *Client) dropSession(to string) {
	c.mu.Lock()
	delete(c.sessions, to)
	c.mu.Unlock()
}
