package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printhub/internal/archive"
)

type ArchiveLister interface {
	ListArchives(ctx context.Context) ([]*archive.ArchiveFile, error)
}

// Cleaner runs the retention cleanup and returns how many tasks it purged.
type Cleaner interface {
	CleanupOldTasks(ctx context.Context) int
}

type ArchiveHandler struct {
	archiver ArchiveLister
	cleaner  Cleaner
}

func NewArchiveHandler(archiver ArchiveLister, cleaner Cleaner) *ArchiveHandler {
	return &ArchiveHandler{
		archiver: archiver,
		cleaner:  cleaner,
	}
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusOK, ArchiveListResponse{Archives: []*archive.ArchiveFile{}})
		return
	}

	archives, err := h.archiver.ListArchives(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archives"})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives: archives,
		Count:    len(archives),
	})
}

func (h *ArchiveHandler) TriggerCleanup(c *gin.Context) {
	purged := h.cleaner.CleanupOldTasks(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchives)
	r.POST("/archives/run", h.TriggerCleanup)
}
