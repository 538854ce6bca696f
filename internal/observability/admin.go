package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/extbridge/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SessionStatus is the admin view of one transport session.
type SessionStatus struct {
	ID          string `json:"id"`
	Remote      string `json:"remote"`
	Pending     int    `json:"pending"`
	FramesIn    uint64 `json:"frames_in"`
	FramesOut   uint64 `json:"frames_out"`
	ParseErrors uint64 `json:"parse_errors"`
	Orphans     uint64 `json:"orphans"`
	Closed      bool   `json:"closed"`
}

// StatusSource reports the sessions an admin server should expose.
type StatusSource func() []SessionStatus

// AdminServer serves health, metrics and session snapshots over HTTP.
type AdminServer struct {
	node     string
	router   *gin.Engine
	source   StatusSource
	appeared time.Time

	validator auth.Validator
}

func NewAdminServer(node string, corsOrigins []string, source StatusSource) *AdminServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(node))
	if origins := normalizeOrigins(corsOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &AdminServer{
		node:     node,
		router:   r,
		source:   source,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

// RequireToken guards /sessions with bearer tokens checked by v.
func (s *AdminServer) RequireToken(v auth.Validator) *AdminServer {
	s.validator = v
	return s
}

func (s *AdminServer) Handler() http.Handler {
	return s.router
}

func (s *AdminServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.appeared).String(),
			"node":   s.node,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", s.authorize, func(c *gin.Context) {
		sessions := []SessionStatus{}
		if s.source != nil {
			sessions = append(sessions, s.source()...)
		}
		c.JSON(http.StatusOK, gin.H{
			"node":     s.node,
			"sessions": sessions,
		})
	})
}

func (s *AdminServer) authorize(c *gin.Context) {
	if err := auth.Authorize(s.validator, c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *AdminServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("node", s.node).Str("addr", ln.Addr().String()).Msg("observability.AdminServer listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
