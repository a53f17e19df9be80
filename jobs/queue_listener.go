package jobs

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// QueueListener wakes the push worker when the enqueuer calls pg_notify.
type QueueListener struct {
	connString   string
	channel      string
	onNotify     func()
	pingInterval time.Duration
}

func NewQueueListener(connString, channel string, onNotify func()) *QueueListener {
	return &QueueListener{
		connString:   connString,
		channel:      channel,
		onNotify:     onNotify,
		pingInterval: 90 * time.Second,
	}
}

// Run blocks until ctx is done.
func (l *QueueListener) Run(ctx context.Context) {
	log := logrus.WithField("channel", l.channel)

	listener := pq.NewListener(l.connString, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).Warn("Queue listener connection problem")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		log.WithError(err).Error("❌ Failed to listen for queued pushes, relying on polling")
		return
	}
	log.Info("👂 Listening for queued pushes")

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			// nil after a reconnect: notifications may have been missed
			if n != nil {
				log.WithField("job_id", n.Extra).Debug("Push queued, waking worker")
			}
			l.onNotify()
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.WithError(err).Debug("Queue listener ping failed")
				}
			}()
		}
	}
}
