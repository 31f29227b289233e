package httppeer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/logging"
	"github.com/peervault/peervault/internal/transport"
)

const peerCallsignKey = "peer_callsign"

// Server exposes this node to other peers: the auth handshake, the
// control-message endpoint and the snapshot storage endpoints.
type Server struct {
	echo    *echo.Echo
	addr    string
	inbound transport.InboundHandler
	storage transport.StorageHandler
	auth    *Authenticator
	logger  logging.Logger
}

func NewServer(addr string, inbound transport.InboundHandler, storage transport.StorageHandler, auth *Authenticator, logger logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:    e,
		addr:    addr,
		inbound: inbound,
		storage: storage,
		auth:    auth,
		logger:  logger,
	}

	api := e.Group("/api/backup")
	api.GET("/ping", s.handlePing)
	api.POST("/auth", s.handleAuth)

	authed := api.Group("", s.requireSession)
	authed.POST("/messages", s.handleMessage)
	authed.PUT("/clients/:callsign/snapshots/:snapshotId", s.handlePutManifest)
	authed.GET("/clients/:callsign/snapshots/:snapshotId", s.handleGetManifest)
	authed.PUT("/clients/:callsign/snapshots/:snapshotId/files/:name", s.handlePutBlob)
	authed.GET("/clients/:callsign/snapshots/:snapshotId/files/:name", s.handleGetBlob)

	return s
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown, matching net/http.
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handlePing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuth(c echo.Context) error {
	var req authRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed handshake")
	}
	token, expiresAt, err := s.auth.Issue(&req.Event)
	if err != nil {
		s.logger.Debug("rejecting handshake", "error", err.Error())
		return echo.NewHTTPError(http.StatusUnauthorized, "handshake rejected")
	}
	return c.JSON(http.StatusOK, authResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}

// requireSession authenticates the bearer token and records the peer's
// callsign on the request context.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		callsign, _, err := s.auth.Verify(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "session invalid")
		}
		c.Set(peerCallsignKey, callsign)
		return next(c)
	}
}

func (s *Server) peer(c echo.Context) string {
	callsign, _ := c.Get(peerCallsignKey).(string)
	return callsign
}

func (s *Server) handleMessage(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading body")
	}
	s.inbound.HandleMessage(c.Request().Context(), s.peer(c), payload)
	// The router drops invalid messages silently; acceptance only means
	// the payload was received.
	return c.NoContent(http.StatusAccepted)
}

// requireOwnPath ensures a peer only touches its own client tree.
func (s *Server) requireOwnPath(c echo.Context) error {
	if c.Param("callsign") != s.peer(c) {
		return echo.NewHTTPError(http.StatusForbidden, "path does not match session")
	}
	return nil
}

func (s *Server) handlePutManifest(c echo.Context) error {
	if err := s.requireOwnPath(c); err != nil {
		return err
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading body")
	}
	if err := s.storage.PutManifest(c.Request().Context(), s.peer(c), c.Param("snapshotId"), data); err != nil {
		return storageError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetManifest(c echo.Context) error {
	if err := s.requireOwnPath(c); err != nil {
		return err
	}
	data, err := s.storage.GetManifest(c.Request().Context(), s.peer(c), c.Param("snapshotId"))
	if err != nil {
		return storageError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}

func (s *Server) handlePutBlob(c echo.Context) error {
	if err := s.requireOwnPath(c); err != nil {
		return err
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading body")
	}
	if err := s.storage.PutBlob(c.Request().Context(), s.peer(c), c.Param("snapshotId"), c.Param("name"), data); err != nil {
		return storageError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetBlob(c echo.Context) error {
	if err := s.requireOwnPath(c); err != nil {
		return err
	}
	data, err := s.storage.GetBlob(c.Request().Context(), s.peer(c), c.Param("snapshotId"), c.Param("name"))
	if err != nil {
		return storageError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}

func storageError(err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInvalidPath), errors.Is(err, common.ErrInvalidCallsign):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrClientNotActive), errors.Is(err, common.ErrQuotaExceeded):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failure")
	}
}
