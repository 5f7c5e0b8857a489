package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printhub/internal/core"
)

type CreateTaskRequest struct {
	TaskID      string `json:"taskId"`
	OrderID     int64  `json:"orderId"`
	OrderNo     string `json:"orderNo"`
	MerchantID  int64  `json:"merchantId" binding:"required"`
	StoreID     int64  `json:"storeId"`
	Kind        string `json:"kind"`
	Content     string `json:"content" binding:"required"`
	Priority    string `json:"priority"`
	PrinterName string `json:"printerName"`
}

type UpdateStatusRequest struct {
	Status       string `json:"status" binding:"required"`
	ClientID     string `json:"clientId"`
	ErrorMessage string `json:"errorMessage"`
}

type TaskPageResponse struct {
	Tasks []*core.PrintTask `json:"tasks"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
}

type TaskHandler struct {
	engine *core.TaskEngine
}

func NewTaskHandler(engine *core.TaskEngine) *TaskHandler {
	return &TaskHandler{engine: engine}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := core.TaskKind(req.Kind)
	if kind != "" && kind != core.TaskKindOrder && kind != core.TaskKindRefund {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be ORDER or REFUND"})
		return
	}

	task, err := h.engine.Submit(c.Request.Context(), &core.PrintTask{
		TaskID:      req.TaskID,
		OrderID:     req.OrderID,
		OrderNo:     req.OrderNo,
		MerchantID:  req.MerchantID,
		StoreID:     req.StoreID,
		Kind:        kind,
		Content:     req.Content,
		Priority:    core.TaskPriority(req.Priority),
		PrinterName: req.PrinterName,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.engine.GetTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetHistory(c *gin.Context) {
	history, err := h.engine.History(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *TaskHandler) PendingTasks(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}

	tasks, err := h.engine.PendingTasks(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) MerchantTasks(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("merchantId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid merchant id"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	if size <= 0 || size > 100 {
		size = 10
	}
	if page < 0 {
		page = 0
	}

	tasks, total, err := h.engine.TasksByMerchant(c.Request.Context(), merchantID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, TaskPageResponse{Tasks: tasks, Total: total, Page: page, Size: size})
}

func (h *TaskHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := core.ParseTaskStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	task, err := h.engine.ReportStatus(c.Request.Context(), c.Param("taskId"), status, req.ClientID, req.ErrorMessage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// MarkReceived records that a client picked the task up.
func (h *TaskHandler) MarkReceived(c *gin.Context) {
	task, err := h.engine.UpdateStatus(c.Request.Context(), c.Param("taskId"), core.TaskStatusPrinting, c.Query("clientId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) RetryTask(c *gin.Context) {
	task, err := h.engine.Retry(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CreateTestTask dispatches a synthetic task so an operator can check a
// printer end to end.
func (h *TaskHandler) CreateTestTask(c *gin.Context) {
	merchantID, ok := queryInt64(c, "merchantId")
	if !ok {
		return
	}
	if merchantID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "merchantId is required"})
		return
	}
	storeID, ok := queryInt64(c, "storeId")
	if !ok {
		return
	}

	now := time.Now()
	content := c.Query("content")
	if content == "" {
		content = fmt.Sprintf("test print %s", now.Format("2006-01-02 15:04:05"))
	}

	task, err := h.engine.Submit(c.Request.Context(), &core.PrintTask{
		OrderNo:    fmt.Sprintf("TEST_%d", now.UnixMilli()),
		MerchantID: merchantID,
		StoreID:    storeID,
		Content:    content,
		Priority:   core.PriorityHigh,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/print-tasks", h.CreateTask)
	r.GET("/print-tasks/pending", h.PendingTasks)
	r.GET("/print-tasks/merchant/:merchantId", h.MerchantTasks)
	r.POST("/print-tasks/test", h.CreateTestTask)
	r.GET("/print-tasks/:taskId", h.GetTask)
	r.GET("/print-tasks/:taskId/history", h.GetHistory)
	r.PUT("/print-tasks/:taskId/status", h.UpdateStatus)
	r.POST("/print-tasks/:taskId/received", h.MarkReceived)
	r.POST("/print-tasks/:taskId/retry", h.RetryTask)
}
