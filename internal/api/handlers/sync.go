package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printhub/internal/ingest"
)

// RangeSyncer is the manual backfill side of the order syncer.
type RangeSyncer interface {
	SyncPaidOrdersBetween(ctx context.Context, start, end time.Time) (ingest.Result, error)
	SyncRefundOrdersBetween(ctx context.Context, start, end time.Time) (ingest.Result, error)
}

type SyncRangeRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

type SyncHandler struct {
	syncer RangeSyncer
}

func NewSyncHandler(syncer RangeSyncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

func (h *SyncHandler) SyncOrders(c *gin.Context) {
	h.run(c, h.syncer.SyncPaidOrdersBetween)
}

func (h *SyncHandler) SyncRefunds(c *gin.Context) {
	h.run(c, h.syncer.SyncRefundOrdersBetween)
}

func (h *SyncHandler) run(c *gin.Context, sync func(ctx context.Context, start, end time.Time) (ingest.Result, error)) {
	var req SyncRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.End.Before(req.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
		return
	}

	res, err := sync(c.Request.Context(), req.Start, req.End)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SyncHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sync/orders", h.SyncOrders)
	r.POST("/sync/refunds", h.SyncRefunds)
}
