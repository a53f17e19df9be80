package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nest-server/config"
	"nest-server/models"
)

func TestEnqueueStoresPendingJob(t *testing.T) {
	db := newTestDB(t)
	e := NewPushEnqueuer(db, config.PushConfig{MaxRetries: 4}, "")

	job, err := e.Enqueue(context.Background(), "u1", "Approved", "Your request was approved", map[string]interface{}{"url": "/requests/9"})
	require.NoError(t, err)

	var stored models.PushQueueJob
	require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
	assert.Equal(t, models.PushJobPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Equal(t, 4, stored.MaxRetries)
	assert.Nil(t, stored.SentAt)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(stored.Data, &data))
	assert.Equal(t, "/requests/9", data["url"])
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	e := NewPushEnqueuer(db, config.PushConfig{}, "")
	ctx := context.Background()

	tests := []struct {
		name, user, title, body string
	}{
		{"missing user", "", "t", "b"},
		{"missing title", "u1", " ", "b"},
		{"missing body", "u1", "t", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Enqueue(ctx, tt.user, tt.title, tt.body, nil)
			assert.ErrorIs(t, err, ErrInvalidPushJob)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.PushQueueJob{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEnqueuePingsWorker(t *testing.T) {
	pinged := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pinged <- r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := newTestDB(t)
	e := NewPushEnqueuer(db, config.PushConfig{WorkerURL: srv.URL}, "s3cret")

	_, err := e.Enqueue(context.Background(), "u1", "Hello", "World", nil)
	require.NoError(t, err)

	select {
	case auth := <-pinged:
		assert.Equal(t, "Bearer s3cret", auth)
	case <-time.After(3 * time.Second):
		t.Fatal("worker was not pinged")
	}
}

func TestEnqueueIgnoresSlowWorker(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	db := newTestDB(t)
	e := NewPushEnqueuer(db, config.PushConfig{WorkerURL: srv.URL, PingTimeout: 50 * time.Millisecond}, "")

	start := time.Now()
	job, err := e.Enqueue(context.Background(), "u1", "Hello", "World", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnqueueWithUnreachableWorker(t *testing.T) {
	db := newTestDB(t)
	e := NewPushEnqueuer(db, config.PushConfig{WorkerURL: "http://127.0.0.1:1/api/push-worker"}, "")

	_, err := e.Enqueue(context.Background(), "u1", "Hello", "World", nil)
	assert.NoError(t, err)
}
