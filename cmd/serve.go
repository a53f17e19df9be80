package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nest-server/config"
	"nest-server/database"
	"nest-server/jobs"
	"nest-server/middleware"
	"nest-server/routes"
	"nest-server/websocket"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the background push worker and sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(config.AppConfig)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "run database migrations before serving")
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connect(cfg)
	if err != nil {
		return err
	}
	if serveMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	if cfg.JWT.Secret == "" {
		logrus.Warn("⚠️  JWT secret is not set, every authenticated request will be rejected")
	}

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	a := newApp(cfg, db, hub)

	limiter := middleware.NewRateLimiter()
	limiter.StartCleanup(ctx, 10*time.Minute)

	router := routes.SetupRouter(routes.Dependencies{
		DB:          db,
		Config:      cfg,
		Writer:      a.writer,
		Triggers:    a.triggers,
		Worker:      a.worker,
		Hub:         hub,
		RateLimiter: limiter,
	})

	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler = jobs.NewScheduler(cfg, a.worker, a.triggers)
		scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("🚀 Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("❌ Server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
	if scheduler != nil {
		scheduler.Stop()
	}

	logrus.Info("Shutdown completed")
	return nil
}
