package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nest-server/config"
	"nest-server/models"
)

var ErrInvalidPushJob = errors.New("invalid push job")

type PushEnqueuer struct {
	db          *gorm.DB
	maxRetries  int
	workerURL   string
	cronSecret  string
	channel     string
	pingTimeout time.Duration
	client      *http.Client
}

func NewPushEnqueuer(db *gorm.DB, cfg config.PushConfig, cronSecret string) *PushEnqueuer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	return &PushEnqueuer{
		db:          db,
		maxRetries:  maxRetries,
		workerURL:   cfg.WorkerURL,
		cronSecret:  cronSecret,
		channel:     cfg.ListenChannel,
		pingTimeout: timeout,
		client:      &http.Client{Timeout: timeout},
	}
}

// Enqueue stores a pending push job for userID. The worker is woken up in the
// background; that signal never affects the result.
func (e *PushEnqueuer) Enqueue(ctx context.Context, userID, title, body string, data map[string]interface{}) (*models.PushQueueJob, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPushJob)
	case strings.TrimSpace(title) == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidPushJob)
	case strings.TrimSpace(body) == "":
		return nil, fmt.Errorf("%w: body is required", ErrInvalidPushJob)
	}

	job := &models.PushQueueJob{
		UserID:     userID,
		Title:      title,
		Body:       body,
		Status:     models.PushJobPending,
		RetryCount: 0,
		MaxRetries: e.maxRetries,
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: data is not serializable: %v", ErrInvalidPushJob, err)
		}
		job.Data = datatypes.JSON(raw)
	}

	if err := e.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue push: %w", err)
	}

	logrus.WithFields(logrus.Fields{"job_id": job.ID, "user_id": userID}).Debug("Push job queued")

	e.notifyListeners(ctx, job.ID)
	go e.pingWorker()

	return job, nil
}

// notifyListeners wakes in-process listeners on postgres. Other dialects rely on polling.
func (e *PushEnqueuer) notifyListeners(ctx context.Context, jobID string) {
	if e.channel == "" || e.db.Dialector.Name() != "postgres" {
		return
	}
	if err := e.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", e.channel, jobID).Error; err != nil {
		logrus.WithError(err).WithField("job_id", jobID).Debug("pg_notify failed")
	}
}

// pingWorker asks the worker endpoint to drain the queue now. Errors are ignored.
func (e *PushEnqueuer) pingWorker() {
	if e.workerURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.workerURL, nil)
	if err != nil {
		logrus.WithError(err).Debug("Worker ping skipped")
		return
	}
	if e.cronSecret != "" {
		req.Header.Set("Authorization", "Bearer "+e.cronSecret)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		logrus.WithError(err).Debug("Worker ping failed")
		return
	}
	resp.Body.Close()
}
