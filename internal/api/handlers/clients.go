package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printhub/internal/core"
)

type RegisterClientRequest struct {
	ClientID    string `json:"clientId"`
	ClientName  string `json:"clientName" binding:"required"`
	MerchantID  int64  `json:"merchantId" binding:"required"`
	StoreID     int64  `json:"storeId"`
	PrinterName string `json:"printerName"`
	IPAddress   string `json:"ipAddress"`
	Version     string `json:"version"`
	OSInfo      string `json:"osInfo"`
}

type ClientHandler struct {
	registry *core.ClientRegistry
}

func NewClientHandler(registry *core.ClientRegistry) *ClientHandler {
	return &ClientHandler{registry: registry}
}

func (h *ClientHandler) Register(c *gin.Context) {
	var req RegisterClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = c.ClientIP()
	}

	client, err := h.registry.Register(c.Request.Context(), &core.PrintClient{
		ClientID:    req.ClientID,
		ClientName:  req.ClientName,
		MerchantID:  req.MerchantID,
		StoreID:     req.StoreID,
		PrinterName: req.PrinterName,
		IPAddress:   req.IPAddress,
		Version:     req.Version,
		OSInfo:      req.OSInfo,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *ClientHandler) Heartbeat(c *gin.Context) {
	client, err := h.registry.Heartbeat(c.Request.Context(), c.Param("clientId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// ListLive returns the online clients of a store or merchant.
func (h *ClientHandler) ListLive(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}

	clients, err := h.registry.FindLive(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err)
		return
	}
	if clients == nil {
		clients = []*core.PrintClient{}
	}
	c.JSON(http.StatusOK, clients)
}

func (h *ClientHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/clients/register", h.Register)
	r.PUT("/clients/:clientId/heartbeat", h.Heartbeat)
	r.GET("/clients", h.ListLive)
}
