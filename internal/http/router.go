package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Auth        *AuthHandler
	Communities *CommunityHandler
	Verifier    TokenVerifier
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
	Middleware  []gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))
	router.Use(cfg.Middleware...)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	if cfg.Auth != nil {
		router.POST("/login", cfg.Auth.Login)
	}

	if cfg.Communities != nil && cfg.Verifier != nil {
		communities := router.Group("/communities/:id")
		communities.Use(RequireOperator(cfg.Verifier, cfg.Logger))
		{
			communities.POST("/reconcile", cfg.Communities.Reconcile)
			communities.POST("/refresh", cfg.Communities.Refresh)
			communities.POST("/panels/reset", cfg.Communities.ResetPanels)
			communities.GET("/roster", cfg.Communities.Roster)
			communities.GET("/status", cfg.Communities.Status)
		}
	}

	return router
}
