package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/urlscan-engine/internal/cache"
	"github.com/rawblock/urlscan-engine/internal/db"
	"github.com/rawblock/urlscan-engine/internal/engine"
	"github.com/rawblock/urlscan-engine/internal/metrics"
	"github.com/rawblock/urlscan-engine/internal/tombstone"
	"github.com/rawblock/urlscan-engine/internal/urlnorm"
)

type APIHandler struct {
	scanner    *engine.Engine
	dbStore    *db.PostgresStore
	tombstones *tombstone.Store
	cacheMgr   *cache.Manager
	wsHub      *Hub
	metrics    *metrics.Registry
}

func SetupRouter(scanner *engine.Engine, dbStore *db.PostgresStore, tombstones *tombstone.Store,
	cacheMgr *cache.Manager, wsHub *Hub, metricsReg *metrics.Registry) *gin.Engine {

	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://rawblock.net,https://www.rawblock.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		scanner:    scanner,
		dbStore:    dbStore,
		tombstones: tombstones,
		cacheMgr:   cacheMgr,
		wsHub:      wsHub,
		metrics:    metricsReg,
	}

	scanLimiter := NewRateLimiter(30, 10)

	api := r.Group("/api/v1")
	{
		api.POST("/scan", scanLimiter.Middleware(), handler.handleScan)
		api.GET("/scans/recent", handler.handleRecentScans)
		api.GET("/scans/:id", handler.handleScanByID)
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		admin := api.Group("", AuthMiddleware())
		{
			admin.GET("/tombstones", handler.handleListTombstones)
			admin.GET("/tombstones/stats", handler.handleTombstoneStats)
			admin.POST("/tombstones", handler.handleCreateTombstone)
			admin.DELETE("/tombstones/:hash", handler.handleDeleteTombstone)
			admin.POST("/cache/clear", handler.handleClearCache)
		}
	}

	if metricsReg != nil {
		r.GET("/metrics", func(c *gin.Context) {
			metricsReg.UpdateBreakers(scanner.TISources())
			metricsReg.Handler().ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}

// handleScan runs the full pipeline for a submitted URL.
// POST /api/v1/scan { "url": "https://example.com", "skipCache": false }
func (h *APIHandler) handleScan(c *gin.Context) {
	var req struct {
		URL       string `json:"url"`
		SkipCache bool   `json:"skipCache"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {url, skipCache?}"})
		return
	}

	result, err := h.scanner.Scan(c.Request.Context(), req.URL, engine.Options{SkipCache: req.SkipCache})
	if err != nil {
		if h.metrics != nil {
			h.metrics.ObserveValidationError()
		}
		var ve *urlnorm.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveScan(result)
	}
	c.JSON(http.StatusOK, result)
}

// handleRecentScans pages through persisted verdicts.
func (h *APIHandler) handleRecentScans(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	scans, totalCount, err := h.dbStore.GetRecentScans(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch scan history", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       scans,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

func (h *APIHandler) handleScanByID(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	result, err := h.dbStore.GetScanByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	stats := h.tombstones.GetStats(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "RawBlock URL Threat Scan Engine v1.0",
		"capabilities": gin.H{
			"ti_pregate":      true,
			"ti_layer":        true,
			"ai_consensus":    true,
			"fp_rebalancer":   true,
			"reachability":    true,
			"event_streaming": true,
		},
		"dbConnected": h.dbStore != nil,
		"tombstones":  stats.Total,
	})
}
