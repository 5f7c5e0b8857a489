package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printhub/internal/api/handlers"
	"github.com/orrn/printhub/internal/api/middleware"
	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/telemetry"
)

// Deps wires the admin API. Syncer, Cursor and Archives are optional.
type Deps struct {
	Engine   *core.TaskEngine
	Registry *core.ClientRegistry
	Syncer   handlers.RangeSyncer
	Cursor   handlers.CursorStore
	Archives handlers.ArchiveLister
	Auth     middleware.AuthConfig
	Checks   map[string]handlers.Check
	Metrics  bool
	Logger   *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger))

	handlers.NewHealthHandler(d.Checks).RegisterRoutes(r)
	if d.Metrics {
		r.GET("/metrics", gin.WrapH(telemetry.Handler()))
	}

	auth := middleware.NewAuthMiddleware(d.Auth)
	r.POST("/api/auth/login", auth.LoginHandler)

	api := r.Group("/api", auth.RequireAuth())
	handlers.NewTaskHandler(d.Engine).RegisterRoutes(api)
	handlers.NewClientHandler(d.Registry).RegisterRoutes(api)
	handlers.NewArchiveHandler(d.Archives, d.Engine).RegisterRoutes(api)
	if d.Syncer != nil {
		handlers.NewSyncHandler(d.Syncer).RegisterRoutes(api)
	}
	if d.Cursor != nil {
		handlers.NewSettingsHandler(d.Cursor).RegisterRoutes(api)
	}

	return r
}
