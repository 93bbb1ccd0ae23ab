package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dreamware/meshstore/internal/cluster"
	"github.com/dreamware/meshstore/internal/coordinator"
)

// newAdminEngine builds the gin surface used for operator tooling: minting
// admin bearer tokens and inspecting shard placement read-only. It runs
// alongside the coordinator's main net/http mux rather than replacing it,
// since that mux's handlers are exercised by an extensive existing test
// suite written against the stdlib http.Handler signature.
func newAdminEngine(srv *server, issuer *coordinator.TokenIssuer, secret []byte, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	})

	engine.POST("/admin/tokens", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := issuer.Issue(req.Subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	authorized := engine.Group("/admin", coordinator.RequireAdmin(secret))
	authorized.GET("/shards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"shards":     srv.registry.GetAllAssignments(),
			"num_shards": srv.registry.NumShards(),
		})
	})
	authorized.GET("/nodes", func(c *gin.Context) {
		srv.mu.RLock()
		nodes := append([]cluster.NodeInfo(nil), srv.nodes...)
		srv.mu.RUnlock()
		for i := range nodes {
			if health := srv.health.GetNodeHealth(nodes[i].ID); health != nil {
				nodes[i].HealthStatus = health.Status
				nodes[i].LastHealthCheck = health.LastCheck
			}
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes})
	})

	return engine
}

// runAdminServer starts the gin admin engine and blocks until ctx is
// canceled, then shuts it down gracefully.
func runAdminServer(ctx context.Context, addr string, engine *gin.Engine, log *zap.Logger) {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("admin surface listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin surface failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("admin surface stopped")
}
