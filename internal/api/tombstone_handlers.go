package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/urlscan-engine/internal/urlnorm"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Tombstone Admin Handlers
// ════════════════════════════════════════════════════════════════════

// POST /api/v1/tombstones
// Manually tombstones a URL as known-malicious.
func (h *APIHandler) handleCreateTombstone(c *gin.Context) {
	var req struct {
		URL        string            `json:"url" binding:"required"`
		Confidence int               `json:"confidence"`
		Metadata   map[string]string `json:"metadata"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	u, err := urlnorm.Validate(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	confidence := req.Confidence
	if confidence <= 0 || confidence > 100 {
		confidence = 100
	}

	if err := h.tombstones.Create(c.Request.Context(), u.Hash, u.Canonical,
		models.TombstoneSourceAdmin, confidence, req.Metadata); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tombstone", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "created",
		"urlHash": u.Hash,
		"url":     u.Canonical,
	})
}

// GET /api/v1/tombstones?limit=50
// Lists the most recently confirmed tombstones.
func (h *APIHandler) handleListTombstones(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	tombstones := h.tombstones.ListRecent(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{
		"data":  tombstones,
		"count": len(tombstones),
	})
}

// GET /api/v1/tombstones/stats
func (h *APIHandler) handleTombstoneStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tombstones.GetStats(c.Request.Context()))
}

// DELETE /api/v1/tombstones/:hash
// Removes a tombstone; the next scan of that URL runs the full pipeline.
func (h *APIHandler) handleDeleteTombstone(c *gin.Context) {
	removed, err := h.tombstones.Remove(c.Request.Context(), c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove tombstone", "details": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tombstone not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "urlHash": c.Param("hash")})
}

// POST /api/v1/cache/clear
// Wipes both cache tiers. Tombstones are unaffected.
func (h *APIHandler) handleClearCache(c *gin.Context) {
	h.cacheMgr.ClearAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
