package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CursorStore is the persisted ingestion checkpoint.
type CursorStore interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, cursor int64) error
}

type SyncCursorResponse struct {
	LastSyncOrderID int64 `json:"lastSyncOrderId"`
}

type UpdateSyncCursorRequest struct {
	LastSyncOrderID *int64 `json:"lastSyncOrderId" binding:"required"`
}

type SettingsHandler struct {
	cursor CursorStore
}

func NewSettingsHandler(cursor CursorStore) *SettingsHandler {
	return &SettingsHandler{cursor: cursor}
}

func (h *SettingsHandler) GetSyncCursor(c *gin.Context) {
	cursor, err := h.cursor.Load(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncCursorResponse{LastSyncOrderID: cursor})
}

// UpdateSyncCursor rewinds or fast-forwards the order cursor. The next
// scheduled sync resumes after the new value.
func (h *SettingsHandler) UpdateSyncCursor(c *gin.Context) {
	var req UpdateSyncCursorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.LastSyncOrderID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lastSyncOrderId must not be negative"})
		return
	}

	if err := h.cursor.Save(c.Request.Context(), *req.LastSyncOrderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncCursorResponse{LastSyncOrderID: *req.LastSyncOrderID})
}

func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings/sync-cursor", h.GetSyncCursor)
	r.PUT("/settings/sync-cursor", h.UpdateSyncCursor)
}
