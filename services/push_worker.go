package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"nest-server/config"
	"nest-server/models"
)

const (
	errNoPushTokens = "no push tokens found"

	defaultStaleAfter  = 10 * time.Minute
	bookkeepingTimeout = 5 * time.Second
)

// WorkerSummary is returned by one worker pass.
type WorkerSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
}

type jobOutcome int

const (
	outcomeSkipped jobOutcome = iota
	outcomeSent
	outcomeRetry
	outcomeFailed
)

// PushWorker drains push_notification_queue in creation order.
type PushWorker struct {
	db        *gorm.DB
	sender    PushSender
	batchSize int
	limiter    *rate.Limiter
	staleAfter time.Duration
	now        func() time.Time
}

func NewPushWorker(db *gorm.DB, sender PushSender, cfg config.PushConfig) *PushWorker {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &PushWorker{
		db:         db,
		sender:     sender,
		batchSize:  batchSize,
		limiter:    rate.NewLimiter(limit, 1),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run returns stale processing jobs to the queue, then processes one batch of
// pending jobs. Only a failure to load the batch is returned as an error; per-job
// problems end up in the summary. A cancelled ctx stops the batch after the
// current job, which is still moved out of processing.
func (w *PushWorker) Run(ctx context.Context) (WorkerSummary, error) {
	var summary WorkerSummary

	if _, err := w.ReapStale(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to requeue stale push jobs")
	}

	var jobs []models.PushQueueJob
	err := w.db.WithContext(ctx).
		Where("status = ?", models.PushJobPending).
		Order("created_at ASC").
		Limit(w.batchSize).
		Find(&jobs).Error
	if err != nil {
		return summary, fmt.Errorf("failed to load pending push jobs: %w", err)
	}

	for i := range jobs {
		if ctx.Err() != nil {
			logrus.WithField("remaining", len(jobs)-i).Info("Push worker cancelled, leaving remaining jobs pending")
			break
		}
		job := &jobs[i]
		log := logrus.WithFields(logrus.Fields{"job_id": job.ID, "user_id": job.UserID})

		outcome, err := w.safeProcess(ctx, job)
		switch {
		case err == nil:
		case ctx.Err() != nil && outcome == outcomeSkipped:
			// cancelled before the claim landed; the job was never taken
		case ctx.Err() != nil:
			log.WithError(err).Warn("Push job interrupted, returning it to the queue")
			w.release(ctx, job.ID, err.Error())
			outcome = outcomeRetry
		default:
			log.WithError(err).Error("❌ Push job crashed, marking failed")
			w.markFailed(ctx, job.ID, err.Error())
			outcome = outcomeFailed
		}

		switch outcome {
		case outcomeSkipped:
			log.Debug("Push job already claimed, skipping")
			continue
		case outcomeSent:
			summary.Sent++
		case outcomeRetry:
			summary.Retrying++
		case outcomeFailed:
			summary.Failed++
		}
		summary.Processed++
	}

	if summary.Processed > 0 {
		logrus.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"sent":      summary.Sent,
			"failed":    summary.Failed,
			"retrying":  summary.Retrying,
		}).Info("📨 Push worker pass finished")
	}
	return summary, nil
}

// ReapStale moves jobs left in processing for longer than the stale threshold
// back to pending, e.g. after the process died mid-batch.
func (w *PushWorker) ReapStale(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC().Add(-w.staleAfter)
	res := w.db.WithContext(ctx).Model(&models.PushQueueJob{}).
		Where("status = ? AND updated_at < ?", models.PushJobProcessing, cutoff).
		Updates(map[string]interface{}{"status": models.PushJobPending, "updated_at": w.now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stale push jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logrus.WithField("count", res.RowsAffected).Warn("♻️ Requeued stale push jobs")
	}
	return res.RowsAffected, nil
}

func (w *PushWorker) safeProcess(ctx context.Context, job *models.PushQueueJob) (outcome jobOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.process(ctx, job)
}

func (w *PushWorker) process(ctx context.Context, job *models.PushQueueJob) (jobOutcome, error) {
	claim := w.db.WithContext(ctx).Model(&models.PushQueueJob{}).
		Where("id = ? AND status = ?", job.ID, models.PushJobPending).
		Updates(map[string]interface{}{"status": models.PushJobProcessing, "updated_at": w.now().UTC()})
	if claim.Error != nil {
		return outcomeSkipped, fmt.Errorf("claim push job: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return outcomeSkipped, nil
	}

	if job.RetryCount >= job.MaxRetries {
		return outcomeFailed, w.finish(ctx, job.ID, models.PushJobFailed, "retry limit reached", nil)
	}

	var tokens []models.UserPushToken
	if err := w.db.WithContext(ctx).Where("user_id = ?", job.UserID).Order("created_at ASC").Find(&tokens).Error; err != nil {
		return outcomeFailed, fmt.Errorf("load push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return outcomeFailed, w.finish(ctx, job.ID, models.PushJobFailed, errNoPushTokens, nil)
	}

	attempt := job.RetryCount + 1
	err := w.db.WithContext(ctx).Model(&models.PushQueueJob{}).
		Where("id = ? AND status = ?", job.ID, models.PushJobProcessing).
		Update("retry_count", attempt).Error
	if err != nil {
		return outcomeFailed, fmt.Errorf("record push attempt: %w", err)
	}

	payload, err := w.payload(job)
	if err != nil {
		return outcomeFailed, err
	}

	delivered, gone := 0, 0
	var failures []string
	for _, token := range tokens {
		sub, err := ParseSubscription(token.Token)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			failures = append(failures, err.Error())
			continue
		}

		if err := w.sender.Send(ctx, sub, payload); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", endpointHost(sub.Endpoint), err))
			if IsGoneError(err) {
				gone++
				w.removeToken(ctx, token)
			}
			continue
		}
		delivered++
	}

	switch {
	case delivered > 0:
		now := w.now()
		return outcomeSent, w.finish(ctx, job.ID, models.PushJobSent, "", &now)
	case gone == len(tokens):
		return outcomeFailed, w.finish(ctx, job.ID, models.PushJobFailed, errNoPushTokens+" (all subscriptions expired)", nil)
	case attempt < job.MaxRetries:
		return outcomeRetry, w.finish(ctx, job.ID, models.PushJobPending, strings.Join(failures, "; "), nil)
	default:
		msg := fmt.Sprintf("failed after %d attempts: %s", attempt, strings.Join(failures, "; "))
		return outcomeFailed, w.finish(ctx, job.ID, models.PushJobFailed, msg, nil)
	}
}

func (w *PushWorker) payload(job *models.PushQueueJob) ([]byte, error) {
	p := PushPayload{Title: job.Title, Body: job.Body}
	if len(job.Data) > 0 {
		if err := json.Unmarshal(job.Data, &p.Data); err != nil {
			return nil, fmt.Errorf("decode push data: %w", err)
		}
	}
	return json.Marshal(p)
}

// storeContext outlives cancellation of ctx so a claimed job always leaves processing.
func (w *PushWorker) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// finish moves a processing job to its next state.
func (w *PushWorker) finish(ctx context.Context, id string, status models.PushJobStatus, errMsg string, sentAt *time.Time) error {
	ctx, cancel := w.storeContext(ctx)
	defer cancel()

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": w.now().UTC(),
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	} else {
		updates["error_message"] = nil
	}
	if sentAt != nil {
		updates["sent_at"] = *sentAt
	}

	err := w.db.WithContext(ctx).Model(&models.PushQueueJob{}).
		Where("id = ? AND status = ?", id, models.PushJobProcessing).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update push job: %w", err)
	}
	return nil
}

func (w *PushWorker) markFailed(ctx context.Context, id, errMsg string) {
	ctx, cancel := w.storeContext(ctx)
	defer cancel()

	err := w.db.WithContext(ctx).Model(&models.PushQueueJob{}).
		Where("id = ? AND status IN ?", id, []models.PushJobStatus{models.PushJobPending, models.PushJobProcessing}).
		Updates(map[string]interface{}{
			"status":        models.PushJobFailed,
			"error_message": errMsg,
			"updated_at":    w.now().UTC(),
		}).Error
	if err != nil {
		logrus.WithError(err).WithField("job_id", id).Error("Failed to mark push job failed")
	}
}

// release puts an interrupted job back to pending; attempts already recorded stay counted.
func (w *PushWorker) release(ctx context.Context, id, errMsg string) {
	if err := w.finish(ctx, id, models.PushJobPending, errMsg, nil); err != nil {
		logrus.WithError(err).WithField("job_id", id).Error("Failed to return push job to the queue")
	}
}

func (w *PushWorker) removeToken(ctx context.Context, token models.UserPushToken) {
	log := logrus.WithFields(logrus.Fields{"user_id": token.UserID, "token_id": token.ID})
	if err := w.db.WithContext(ctx).Delete(&models.UserPushToken{}, "id = ?", token.ID).Error; err != nil {
		log.WithError(err).Error("Failed to remove expired push subscription")
		return
	}
	log.Info("🧹 Removed expired push subscription")
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "subscription"
	}
	return u.Host
}
