// Package health exposes liveness and monitor status over HTTP.
package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"schedbot/internal/eventbus"
	"schedbot/internal/monitor"
	logx "schedbot/pkg/logx"
)

// StatusSource is implemented by *monitor.Monitor.
type StatusSource interface {
	Status() monitor.Status
}

type lastEvent struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

type Server struct {
	addr string
	src  StatusSource
	log  logx.Logger

	pprof bool

	mu   sync.RWMutex
	last *lastEvent

	engine *gin.Engine
}

type Option func(*Server)

// WithPprof mounts the runtime profiler under /debug/pprof/.
func WithPprof(enabled bool) Option { return func(s *Server) { s.pprof = enabled } }

var modeOnce sync.Once

func New(addr string, src StatusSource, log logx.Logger, opts ...Option) *Server {
	modeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	s := &Server{addr: addr, src: src, log: log}
	for _, o := range opts {
		o(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "I am alive!") })
	r.HEAD("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/healthz", s.healthz)
	if s.pprof {
		mountPprof(r)
		s.log.Warn("pprof enabled on health server", logx.String("addr", s.addr))
	}
	return r
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Record keeps the most recent monitor event for /healthz.
func (s *Server) Record(ev eventbus.Event) {
	s.mu.Lock()
	s.last = &lastEvent{Type: ev.Type, At: ev.Time, Data: ev.Data}
	s.mu.Unlock()
}

func (s *Server) healthz(c *gin.Context) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	if s.src == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "monitor": nil, "last_event": last})
		return
	}
	st := s.src.Status()
	code, status := http.StatusOK, "ok"
	if !st.Running {
		code, status = http.StatusServiceUnavailable, "monitor_stopped"
	}
	c.JSON(code, gin.H{"status": status, "monitor": st, "last_event": last})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("health server listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("health server shutdown", logx.Err(err))
	}
	return nil
}
