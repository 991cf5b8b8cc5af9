// Package server exposes the ops HTTP surface: liveness, the recent-alert
// audit trail, and the live websocket feed. It is a sidecar to the
// pipeline — nothing here touches the hot path.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/aegis/internal/alerts"
	"github.com/mbd888/aegis/internal/realtime"
	"github.com/mbd888/aegis/internal/risk"
)

// Server is the ops HTTP server.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// New builds the ops server over the given collaborators.
func New(addr string, store alerts.Store, hub *realtime.Hub, riskStore *risk.Store, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		srv:    &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/alerts/recent", func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 || parsed > 1000 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
				return
			}
			limit = parsed
		}
		recent, err := store.ListRecent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": recent})
	})

	router.GET("/stats", func(c *gin.Context) {
		feedAlerts, feedClients := hub.Stats()
		st := riskStore.Stats()
		c.JSON(http.StatusOK, gin.H{
			"entities":      st.Entities,
			"soft_cap_hits": st.SoftCapHits,
			"feed_alerts":   feedAlerts,
			"feed_clients":  feedClients,
		})
	})

	router.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})

	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start binds the listener (a bind failure is a startup error) and serves
// in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("ops server: bind %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server error", "error", err)
		}
	}()
	s.logger.Info("ops server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
