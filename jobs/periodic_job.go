package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PeriodicJob runs a task on a ticker. Wake triggers an extra run without waiting
// for the next tick.
type PeriodicJob struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error

	wake     chan struct{}
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewPeriodicJob(name string, interval time.Duration, task func(ctx context.Context) error) *PeriodicJob {
	return &PeriodicJob{
		name:     name,
		interval: interval,
		task:     task,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *PeriodicJob) Name() string {
	return j.name
}

// Start begins the job loop
func (j *PeriodicJob) Start(ctx context.Context) {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	go j.run(ctx)
	logrus.WithFields(logrus.Fields{"job": j.name, "interval": j.interval}).Info("🚀 Job started")
}

// Stop ends the loop and waits for a running task to return
func (j *PeriodicJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
	})
	if !j.started.Load() {
		return
	}
	<-j.done
	logrus.WithField("job", j.name).Info("🛑 Job stopped")
}

// Wake requests a run as soon as the current one finishes. Extra requests collapse.
func (j *PeriodicJob) Wake() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *PeriodicJob) run(ctx context.Context) {
	defer close(j.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-j.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.execute(ctx)
	for {
		select {
		case <-ticker.C:
			j.execute(ctx)
		case <-j.wake:
			j.execute(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (j *PeriodicJob) execute(ctx context.Context) {
	log := logrus.WithField("job", j.name)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("❌ Job panicked: %v", r)
		}
	}()

	start := time.Now()
	if err := j.task(ctx); err != nil {
		log.WithError(err).Error("❌ Job run failed")
		return
	}
	log.WithField("duration", time.Since(start)).Debug("Job run finished")
}

// RunOnce executes the task a single time, for the CLI.
func (j *PeriodicJob) RunOnce(ctx context.Context) error {
	if err := j.task(ctx); err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}
