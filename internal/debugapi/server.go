// Package debugapi serves a read-only HTTP view of a client's message history
// and circuit state.
package debugapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/simcircuit/internal/auth"
	"github.com/danmuck/simcircuit/internal/history"
	logs "github.com/danmuck/simcircuit/internal/logging"
	"github.com/danmuck/simcircuit/internal/observability"
	"github.com/danmuck/simcircuit/internal/protocol/circuit"
	"github.com/danmuck/simcircuit/internal/protocol/codec"
	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Source is what the API observes. *client.Client satisfies it.
type Source interface {
	History() *history.Pool
	Registry() *template.Registry
	Stats() (circuit.Stats, error)
}

type Config struct {
	ID          string
	Addr        string
	CORSOrigins []string

	// Token, when set, is required as a bearer token on every route except
	// /health.
	Token string

	// ShutdownTimeout bounds graceful shutdown in Serve.
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ID:              "simcircuit",
		Addr:            "127.0.0.1:9100",
		ShutdownTimeout: 5 * time.Second,
	}
}

type Server struct {
	cfg      Config
	src      Source
	router   *gin.Engine
	appeared time.Time
}

func New(cfg Config, src Source) *Server {
	d := DefaultConfig()
	if cfg.ID == "" {
		cfg.ID = d.ID
	}
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	if cfg.Token != "" {
		r.Use(auth.RequireBearer(auth.StaticToken{Token: cfg.Token}, "/health"))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, src: src, router: r, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("debugapi.Server.Serve addr=%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Warnf("debugapi.Server.Serve shutdown err=%v", err)
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/circuit", func(c *gin.Context) {
		stats, err := s.src.Stats()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	s.router.GET("/messages", func(c *gin.Context) {
		msgs := s.src.Registry().Messages()
		out := make([]MessageInfo, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageInfo(m))
		}
		c.JSON(http.StatusOK, gin.H{"messages": out})
	})

	s.router.GET("/history/:direction", s.listHistory)
	s.router.GET("/history/:direction/:seq", s.showHistory)
}

// MessageInfo summarizes one template for /messages.
type MessageInfo struct {
	Name       string `json:"name"`
	ID         uint32 `json:"id"`
	Frequency  string `json:"frequency"`
	Number     uint32 `json:"number"`
	Trusted    bool   `json:"trusted"`
	Zerocoded  bool   `json:"zerocoded"`
	Deprecated bool   `json:"deprecated"`
	Blocks     int    `json:"blocks"`
}

func messageInfo(m *template.Message) MessageInfo {
	return MessageInfo{
		Name:       m.Name,
		ID:         m.ID,
		Frequency:  m.Frequency.String(),
		Number:     m.Number,
		Trusted:    m.Trust == template.Trusted,
		Zerocoded:  m.Encoding == template.Zerocoded,
		Deprecated: m.Deprecated,
		Blocks:     len(m.Blocks),
	}
}

// Entry summarizes one history snapshot.
type Entry struct {
	Sequence uint32    `json:"sequence"`
	ID       uint32    `json:"id"`
	Name     string    `json:"name"`
	Flags    string    `json:"flags"`
	Size     int       `json:"size"`
	At       time.Time `json:"at"`
}

func (s *Server) ring(c *gin.Context) (*history.Ring, bool) {
	dir := c.Param("direction")
	ring, ok := s.src.History().Direction(dir)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown direction " + strconv.Quote(dir)})
		return nil, false
	}
	return ring, true
}

// listHistory returns newest entries first, optionally capped by ?limit=.
func (s *Server) listHistory(c *gin.Context) {
	ring, ok := s.ring(c)
	if !ok {
		return
	}
	limit := -1
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	snaps := ring.Entries()
	out := make([]Entry, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		if limit >= 0 && len(out) == limit {
			break
		}
		snap := snaps[i]
		out = append(out, Entry{
			Sequence: snap.Sequence,
			ID:       snap.ID,
			Name:     snap.Name,
			Flags:    snap.Flags.String(),
			Size:     len(snap.Payload),
			At:       snap.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"direction": c.Param("direction"),
		"capacity":  ring.Cap(),
		"entries":   out,
	})
}

// showHistory renders the structured dump of one snapshot. ?format=text
// returns the plain text rendering.
func (s *Server) showHistory(c *gin.Context) {
	ring, ok := s.ring(c)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sequence must be an unsigned 32-bit integer"})
		return
	}
	snap, ok := ring.Lookup(uint32(seq))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no message with sequence " + strconv.FormatUint(seq, 10)})
		return
	}
	msg, err := snap.Open(s.src.Registry())
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	dump, err := codec.Dump(msg)
	if c.Query("format") == "text" {
		text := dump.String()
		if err != nil {
			text += "error: " + err.Error() + "\n"
		}
		c.String(http.StatusOK, text)
		return
	}
	body := gin.H{"message": dump}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
