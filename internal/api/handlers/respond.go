package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printhub/internal/core"
)

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrDuplicateTask):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// queryInt64 reads an optional integer query parameter; absent means 0.
func queryInt64(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return v, true
}

func scopeFromQuery(c *gin.Context) (core.Scope, bool) {
	storeID, ok := queryInt64(c, "storeId")
	if !ok {
		return core.Scope{}, false
	}
	merchantID, ok := queryInt64(c, "merchantId")
	if !ok {
		return core.Scope{}, false
	}
	if storeID == 0 && merchantID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storeId or merchantId is required"})
		return core.Scope{}, false
	}
	return core.Scope{MerchantID: merchantID, StoreID: storeID}, true
}
