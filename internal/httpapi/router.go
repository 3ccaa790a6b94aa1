// Package httpapi wires the Session Lifecycle Engine onto a gin HTTP
// surface: the admin key-management routes, the per-tenant session
// routes, and the ambient health probes.
package httpapi

import (
	"database/sql"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/fahrizalm14/wasap-gateway/internal/eventbus"
	"github.com/fahrizalm14/wasap-gateway/internal/middleware"
	"github.com/fahrizalm14/wasap-gateway/internal/registry"
	"github.com/fahrizalm14/wasap-gateway/internal/supervisor"
	"github.com/fahrizalm14/wasap-gateway/pkg/logger"
	"github.com/fahrizalm14/wasap-gateway/pkg/response"
)

// Readiness flips to true once boot-time warm-up has finished, and backs
// the liveness probe.
type Readiness struct {
	ready atomic.Bool
}

// MarkReady flips the probe on, called once main has finished booting.
func (r *Readiness) MarkReady() { r.ready.Store(true) }

// IsReady reports whether MarkReady has been called yet.
func (r *Readiness) IsReady() bool { return r.ready.Load() }

// Router builds the gin engine the gateway serves on.
type Router struct {
	cfg       RouterConfig
	sup       *supervisor.Supervisor
	registry  *registry.Registry
	bus       *eventbus.Bus
	sqlDB     *sql.DB
	readiness *Readiness
	log       logger.Logger
}

// RouterConfig carries the subset of config the HTTP shell itself needs.
type RouterConfig struct {
	APIPrefix string
	SecretKey string
}

// New builds a Router over its collaborators.
func New(cfg RouterConfig, sup *supervisor.Supervisor, reg *registry.Registry, bus *eventbus.Bus, sqlDB *sql.DB, readiness *Readiness, log logger.Logger) *Router {
	return &Router{cfg: cfg, sup: sup, registry: reg, bus: bus, sqlDB: sqlDB, readiness: readiness, log: log}
}

// Engine assembles the gin.Engine with every route in the external
// interface, ready to hand to an *http.Server.
func (rt *Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.RequestLogger(rt.log))
	engine.Use(middleware.ErrorHandler(rt.log))

	engine.GET("/healthz", rt.handleHealthz)
	engine.GET("/readyz", rt.handleReadyz)

	api := engine.Group(rt.cfg.APIPrefix)

	admin := api.Group("/api-keys")
	admin.Use(middleware.AdminAuth(rt.cfg.SecretKey))
	{
		admin.GET("", rt.listApiKeys)
		admin.POST("", rt.createApiKey)
		admin.DELETE("/:key", rt.deactivateApiKey)
	}

	wa := api.Group("/whatsapp")
	{
		wa.GET("/sessions", rt.listSessions)
		wa.POST("/sessions/:apiKey/qr", rt.getQr)
		wa.POST("/sessions/:apiKey/logout", rt.logout)
		wa.GET("/sessions/:apiKey/status", rt.getStatus)
		wa.GET("/sessions/:apiKey/stream", rt.stream)
		wa.POST("/message/:apiKey/send", rt.sendText)
	}

	engine.NoRoute(func(c *gin.Context) {
		response.Error(c, 404, "Route not found")
	})

	return engine
}

func (rt *Router) handleHealthz(c *gin.Context) {
	if rt.readiness == nil || !rt.readiness.IsReady() {
		response.Error(c, 503, "Service booting")
		return
	}
	response.OKMessage(c, "alive")
}

func (rt *Router) handleReadyz(c *gin.Context) {
	if rt.sqlDB == nil || rt.sqlDB.Ping() != nil {
		response.Error(c, 503, "Database not reachable")
		return
	}
	response.OKMessage(c, "ready")
}
