package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nest-server/config"
	"nest-server/services"
)

const (
	JobPushWorker    = "push-worker"
	JobOverdueSweep  = "overdue-sweep"
	JobReminderSweep = "reminder-sweep"
)

// Scheduler owns the background loops of one process.
type Scheduler struct {
	jobs     []*PeriodicJob
	byName   map[string]*PeriodicJob
	listener *QueueListener
}

// NewScheduler wires the push worker and the sweeps onto their configured intervals.
// Passing a nil worker or triggers leaves that loop out.
func NewScheduler(cfg *config.Config, worker *services.PushWorker, triggers *services.Triggers) *Scheduler {
	s := &Scheduler{byName: map[string]*PeriodicJob{}}

	if worker != nil {
		s.add(NewPeriodicJob(JobPushWorker, cfg.Push.PollInterval, func(ctx context.Context) error {
			_, err := worker.Run(ctx)
			return err
		}))
		if job := s.job(JobPushWorker); job != nil && cfg.Push.ListenEnabled && cfg.Database.URL != "" {
			s.listener = NewQueueListener(cfg.Database.URL, cfg.Push.ListenChannel, job.Wake)
		}
	}

	if triggers != nil {
		s.add(NewPeriodicJob(JobOverdueSweep, cfg.Jobs.OverdueInterval, func(ctx context.Context) error {
			_, err := triggers.OverdueSweep(ctx, time.Now().UTC())
			return err
		}))
		s.add(NewPeriodicJob(JobReminderSweep, cfg.Jobs.ReminderInterval, func(ctx context.Context) error {
			_, err := triggers.ReminderSweep(ctx, time.Now().UTC())
			return err
		}))
	}
	return s
}

func (s *Scheduler) add(job *PeriodicJob) {
	if job.interval <= 0 {
		logrus.WithField("job", job.name).Warn("Job interval is not positive, job disabled")
		return
	}
	s.jobs = append(s.jobs, job)
	s.byName[job.name] = job
}

func (s *Scheduler) job(name string) *PeriodicJob {
	return s.byName[name]
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		job.Start(ctx)
	}
	if s.listener != nil {
		go s.listener.Run(ctx)
	}
}

func (s *Scheduler) Stop() {
	for _, job := range s.jobs {
		job.Stop()
	}
}
