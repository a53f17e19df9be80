package cmd

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"nest-server/config"
	"nest-server/database"
	"nest-server/services"
)

// app holds the notification core of one process.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	writer   *services.NotificationWriter
	triggers *services.Triggers
	worker   *services.PushWorker
}

// connect opens the database configured in cfg.
func connect(cfg *config.Config) (*gorm.DB, error) {
	if err := database.Initialize(cfg.Database); err != nil {
		return nil, err
	}
	return database.GetDB(), nil
}

// newApp wires the services. publisher may be nil when no realtime hub runs in this process.
func newApp(cfg *config.Config, db *gorm.DB, publisher services.Publisher) *app {
	var sender services.EmailSender = services.LogSender{}
	if cfg.Email.Enabled {
		sender = services.NewSMTPSender(cfg.Email)
	} else {
		logrus.Warn("⚠️  Email is disabled, messages are only logged")
	}

	writer := services.NewNotificationWriter(db, publisher)
	email := services.NewEmailDispatcher(sender, cfg.App, cfg.Email.Concurrency)

	var enqueuer *services.PushEnqueuer
	if cfg.Push.Enabled {
		enqueuer = services.NewPushEnqueuer(db, cfg.Push, cfg.Cron.Secret)
	}

	notifier := services.NewNotifier(writer, email, enqueuer, cfg.Jobs.FanOutLimit)
	triggers := services.NewTriggers(db, notifier, writer, services.NewChatWebhook(cfg.Webhook), services.TriggerOptions{
		BaseURL:        cfg.App.BaseURL,
		Location:       cfg.Jobs.Location(),
		ReminderWindow: cfg.Jobs.ReminderWindow,
	})

	return &app{
		cfg:      cfg,
		db:       db,
		writer:   writer,
		triggers: triggers,
		worker:   newPushWorker(cfg, db),
	}
}

// newPushWorker returns nil when push is disabled or VAPID keys are missing.
func newPushWorker(cfg *config.Config, db *gorm.DB) *services.PushWorker {
	if !cfg.Push.Enabled {
		return nil
	}
	sender, err := services.NewWebPushSender(cfg.Push, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		logrus.WithError(err).Warn("⚠️  Push worker disabled")
		return nil
	}
	return services.NewPushWorker(db, sender, cfg.Push)
}
