package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-live/internal/identity"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/record"
	"github.com/park285/cheese-live/internal/session"
	"github.com/park285/cheese-live/internal/waitq"
)

type Deps struct {
	Service *session.Service
	Store   *record.Store
	Queue   *waitq.Queue
	Redis   *redis.Client
	Auth    identity.Authenticator

	WSPath         string
	AllowedOrigins []string
	ReadLimit      int64
}

// API is the gin engine plus the set of live game sessions.
type API struct {
	*gin.Engine
	h *handler
}

type handler struct {
	Deps
	// base outlives individual requests; cancelling it ends every running
	// session.
	base     context.Context
	sessions sync.WaitGroup
}

// NewRouter builds the HTTP surface. Sessions started through it stop when
// base is cancelled.
func NewRouter(base context.Context, d Deps) *API {
	if d.WSPath == "" {
		d.WSPath = "/ws/game"
	}
	if d.ReadLimit <= 0 {
		d.ReadLimit = 4096
	}
	if d.Auth == nil {
		d.Auth = identity.Anonymous{}
	}
	h := &handler{Deps: d, base: base}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET(d.WSPath, h.serveGame)
	r.GET("/games/:id", h.getGame)
	r.GET("/players/:id/games", h.playerHistory)
	r.GET("/healthz", h.health)
	return &API{Engine: r, h: h}
}

// Drain waits for running sessions to finish their cleanup. Hijacked
// websocket connections are invisible to http.Server.Shutdown.
func (a *API) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handler) serveGame(c *gin.Context) {
	pid, err := h.Auth.Authenticate(c.Request)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, identity.ErrInactiveUser) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.Service.Open(c.Request.Context(), pid)
	switch {
	case errors.Is(err, session.ErrAlreadyQueued), errors.Is(err, session.ErrGameInProgress):
		obslog.L().Info("session_refused", zap.String("participant", pid), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		obslog.L().Error("session_open_error", zap.String("participant", pid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unavailable"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  h.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		// Accept already wrote the error response
		obslog.L().Warn("ws_accept_error", zap.String("participant", pid), zap.Error(err))
		_ = sess.Discard()
		return
	}
	ws.SetReadLimit(h.ReadLimit)
	h.sessions.Add(1)
	defer h.sessions.Done()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	conn := &wsConn{c: ws}
	runErr := sess.Run(ctx, conn)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		obslog.L().Error("session_error", zap.String("participant", pid), zap.Error(runErr))
		_ = ws.Close(websocket.StatusInternalError, "internal error")
	} else {
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
	obslog.L().Info("session_closed",
		zap.String("participant", pid),
		zap.String("state", session.StateName(sess.State())),
		zap.Int("peer_close_status", int(conn.closeStatus())),
	)
}

func (h *handler) getGame(c *gin.Context) {
	rec, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, record.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) playerHistory(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	recs, err := h.Store.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": recs})
}

func (h *handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	waiting, err := h.Queue.Len(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "waiting": waiting})
}
