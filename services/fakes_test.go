package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nest-server/database"
	"nest-server/models"
)

type fakeEmailSender struct {
	mu       sync.Mutex
	sent     []EmailMessage
	failFor  map[string]error
	panicFor string
}

func (f *fakeEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if f.panicFor != "" && msg.To == f.panicFor {
		panic("provider exploded")
	}
	if err, ok := f.failFor[msg.To]; ok {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return "msg-" + msg.To, nil
}

func (f *fakeEmailSender) sentTo(address string) []EmailMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EmailMessage
	for _, msg := range f.sent {
		if msg.To == address {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeEmailSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakePushSender answers per endpoint; an endpoint without an entry accepts the push.
// onSend, when set, runs first and its error wins.
type fakePushSender struct {
	mu        sync.Mutex
	responses map[string]error
	onSend    func(ctx context.Context) error
	calls     []string
	payloads  [][]byte
}

func (f *fakePushSender) Send(ctx context.Context, sub *webpush.Subscription, payload []byte) error {
	if f.onSend != nil {
		if err := f.onSend(ctx); err != nil {
			f.mu.Lock()
			f.calls = append(f.calls, sub.Endpoint)
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub.Endpoint)
	f.payloads = append(f.payloads, payload)
	if err, ok := f.responses[sub.Endpoint]; ok {
		return err
	}
	return nil
}

func (f *fakePushSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingPublisher struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (p *recordingPublisher) PublishNotification(n *models.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, n)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// failInsertsFor makes every notification insert for userID fail.
func failInsertsFor(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_"+userID, func(tx *gorm.DB) {
		if n, ok := tx.Statement.Dest.(*models.Notification); ok && n.UserID == userID {
			_ = tx.AddError(errors.New("insert rejected"))
		}
	})
	require.NoError(t, err)
}

func createProfile(t *testing.T, db *gorm.DB, p models.Profile) *models.Profile {
	t.Helper()
	require.NoError(t, db.Create(&p).Error)
	return &p
}

func subscriptionJSON(endpoint string) string {
	return `{"endpoint":"` + endpoint + `","keys":{"p256dh":"BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM","auth":"tBHItJI5svbpez7KI4CCXg"}}`
}
