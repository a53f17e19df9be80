package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"gorm.io/gorm"

	"nest-server/config"
	"nest-server/middleware"
	"nest-server/services"
	"nest-server/websocket"
)

const maxBodyBytes = 1 << 20

// Dependencies wires the handlers to the notification core. Worker and Hub are optional:
// a nil Worker answers the worker endpoint with 500, a nil Hub disables /ws.
type Dependencies struct {
	DB          *gorm.DB
	Config      *config.Config
	Writer      *services.NotificationWriter
	Triggers    *services.Triggers
	Worker      *services.PushWorker
	Hub         *websocket.Hub
	RateLimiter *middleware.RateLimiter
}

type Handler struct {
	db       *gorm.DB
	cfg      *config.Config
	writer   *services.NotificationWriter
	triggers *services.Triggers
	worker   *services.PushWorker
	hub      *websocket.Hub
	upgrader *gorillaws.Upgrader
	now      func() time.Time
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		db:       deps.DB,
		cfg:      deps.Config,
		writer:   deps.Writer,
		triggers: deps.Triggers,
		worker:   deps.Worker,
		hub:      deps.Hub,
		upgrader: websocket.NewUpgrader(deps.Config.Server.AllowedOrigins),
		now:      time.Now,
	}
}

// SetupRouter builds the gin engine with the middleware stack and every route.
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(cors.New(corsConfig(deps.Config.Server.AllowedOrigins)))
	if deps.RateLimiter != nil {
		router.Use(middleware.RateLimitMiddleware(deps.RateLimiter))
	}
	router.Use(middleware.BodyLimitMiddleware(maxBodyBytes))
	router.Use(middleware.Logger())

	RegisterRoutes(router, NewHandler(deps))
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// RegisterRoutes registers all API routes
func RegisterRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", h.Health)

	// Worker and sweep endpoints for an external scheduler
	cron := router.Group("/api")
	cron.Use(middleware.CronAuth(h.cfg.Cron))
	{
		cron.GET("/push-worker", h.RunPushWorker)
		cron.GET("/cron/overdue", h.RunOverdueSweep)
		cron.GET("/cron/reminders", h.RunReminderSweep)
	}

	api := router.Group("/api/v1")
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(h.db, h.cfg.JWT.Secret))
	{
		protected.GET("/ws", h.ServeNotificationsSocket)

		notifications := protected.Group("/notifications")
		notifications.GET("", h.GetUserNotifications)
		notifications.GET("/unread-count", h.GetUnreadCount)
		notifications.POST("/mark-read/:id", h.MarkNotificationAsRead)
		notifications.POST("/mark-all-read", h.MarkAllNotificationsAsRead)

		push := protected.Group("/push")
		push.POST("/subscribe", h.SubscribePush)
		push.POST("/unsubscribe", h.UnsubscribePush)
		push.GET("/status", h.PushStatus)

		protected.GET("/preferences", h.GetPreferences)
		protected.PUT("/preferences", h.UpdatePreferences)

		protected.POST("/requests", h.SubmitGearRequest)
		protected.POST("/checkins", h.SubmitCheckin)
		protected.POST("/car-bookings", h.SubmitCarBooking)

		events := protected.Group("/auth/events")
		events.POST("/signup", h.SignupEvent)
		events.POST("/login", h.LoginEvent)

		admin := protected.Group("/admin")
		admin.Use(middleware.AdminOnly())
		admin.POST("/requests/:id/approve", h.ApproveGearRequest)
		admin.POST("/requests/:id/reject", h.RejectGearRequest)
		admin.POST("/checkins/:id/approve", h.ApproveCheckin)
		admin.POST("/checkins/:id/reject", h.RejectCheckin)
		admin.POST("/car-bookings/:id/approve", h.ApproveCarBooking)
		admin.POST("/car-bookings/:id/reject", h.RejectCarBooking)
		admin.POST("/announcements", h.CreateAnnouncement)
	}
}

func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unreachable"
	}
	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"database": dbStatus,
		"time":     h.now().UTC(),
	})
}

// notifyContext keeps trigger work running after the client disconnects.
func notifyContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}
