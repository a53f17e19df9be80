package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"nest-server/models"
)

type ChannelStatus string

const (
	StatusDelivered ChannelStatus = "delivered"
	StatusQueued    ChannelStatus = "queued"
	StatusSkipped   ChannelStatus = "skipped"
	StatusFailed    ChannelStatus = "failed"
)

type EmailSpec struct {
	Template string
	Params   map[string]interface{}
}

// PushSpec overrides the push title/body; empty fields fall back to the in-app text.
type PushSpec struct {
	Title string
	Body  string
	Data  map[string]interface{}
}

// Dispatch describes one logical notification to one recipient.
type Dispatch struct {
	Recipient *models.Profile
	EventKey  string

	Type     string
	Title    string
	Message  string
	Link     string
	Metadata map[string]interface{}
	Category string
	Priority string

	Email *EmailSpec
	Push  *PushSpec

	// SkipPreferences bypasses the stored preferences; channel availability still applies
	SkipPreferences bool
}

type DispatchResult struct {
	UserID string        `json:"user_id"`
	InApp  ChannelStatus `json:"in_app"`
	Email  ChannelStatus `json:"email"`
	Push   ChannelStatus `json:"push"`
	Errors []string      `json:"errors,omitempty"`
}

func (r DispatchResult) Failed() bool {
	return r.InApp == StatusFailed || r.Email == StatusFailed || r.Push == StatusFailed
}

// Notifier fans one event out to the in-app, email and push channels.
type Notifier struct {
	writer      *NotificationWriter
	email       *EmailDispatcher
	push        *PushEnqueuer
	fanOutLimit int
}

func NewNotifier(writer *NotificationWriter, email *EmailDispatcher, push *PushEnqueuer, fanOutLimit int) *Notifier {
	if fanOutLimit <= 0 {
		fanOutLimit = 5
	}
	return &Notifier{writer: writer, email: email, push: push, fanOutLimit: fanOutLimit}
}

func (n *Notifier) enabled(d Dispatch, channel Channel) bool {
	if d.SkipPreferences {
		return ShouldNotify(&models.Profile{Email: d.Recipient.Email}, channel, d.EventKey)
	}
	return ShouldNotify(d.Recipient, channel, d.EventKey)
}

// Notify writes the in-app row first, then sends email and queues push concurrently.
// It never fails; per-channel outcomes are reported in the result.
func (n *Notifier) Notify(ctx context.Context, d Dispatch) DispatchResult {
	result := DispatchResult{InApp: StatusSkipped, Email: StatusSkipped, Push: StatusSkipped}
	if d.Recipient == nil {
		result.Errors = append(result.Errors, "recipient not found")
		return result
	}
	result.UserID = d.Recipient.ID
	log := logrus.WithFields(logrus.Fields{"user_id": d.Recipient.ID, "event": d.EventKey, "type": d.Type})

	if n.enabled(d, ChannelInApp) {
		_, err := n.writer.Write(ctx, NewNotification{
			UserID:   d.Recipient.ID,
			Type:     d.Type,
			Title:    d.Title,
			Message:  d.Message,
			Link:     d.Link,
			Metadata: d.Metadata,
			Category: d.Category,
			Priority: d.Priority,
		})
		if err != nil {
			log.WithError(err).WithField("channel", ChannelInApp).Error("Failed to write in-app notification")
			result.InApp = StatusFailed
			result.Errors = append(result.Errors, fmt.Sprintf("in_app: %v", err))
		} else {
			result.InApp = StatusDelivered
		}
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	record := func(channel Channel, status ChannelStatus, errMsg string) {
		mu.Lock()
		defer mu.Unlock()
		switch channel {
		case ChannelEmail:
			result.Email = status
		case ChannelPush:
			result.Push = status
		}
		if errMsg != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", channel, errMsg))
		}
	}

	if d.Email != nil && n.email != nil && n.enabled(d, ChannelEmail) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			params := make(map[string]interface{}, len(d.Email.Params)+2)
			params["Name"] = d.Recipient.DisplayName()
			if d.Link != "" {
				params["Link"] = d.Link
			}
			for k, v := range d.Email.Params {
				params[k] = v
			}

			res := n.email.SendTemplated(ctx, d.Email.Template, d.Recipient.Email, params)
			if res.Success {
				record(ChannelEmail, StatusDelivered, "")
				return
			}
			record(ChannelEmail, StatusFailed, res.Error)
		}()
	}

	if d.Push != nil && n.push != nil && n.enabled(d, ChannelPush) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					record(ChannelPush, StatusFailed, fmt.Sprintf("panic: %v", r))
				}
			}()

			title, body := d.Push.Title, d.Push.Body
			if title == "" {
				title = d.Title
			}
			if body == "" {
				body = d.Message
			}
			data := map[string]interface{}{"type": d.Type}
			if d.Link != "" {
				data["url"] = d.Link
			}
			for k, v := range d.Push.Data {
				data[k] = v
			}

			if _, err := n.push.Enqueue(ctx, d.Recipient.ID, title, body, data); err != nil {
				log.WithError(err).WithField("channel", ChannelPush).Error("Failed to queue push notification")
				record(ChannelPush, StatusFailed, err.Error())
				return
			}
			record(ChannelPush, StatusQueued, "")
		}()
	}

	wg.Wait()
	return result
}

// NotifyAll runs Notify for every dispatch with bounded concurrency. One recipient
// failing never stops the others.
func (n *Notifier) NotifyAll(ctx context.Context, dispatches []Dispatch) FanOutResult {
	result := FanOutResult{Total: len(dispatches)}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, n.fanOutLimit)
	)
	for _, d := range dispatches {
		wg.Add(1)
		sem <- struct{}{}
		go func(d Dispatch) {
			defer wg.Done()
			defer func() { <-sem }()

			res := n.safeNotify(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if !res.Failed() && len(res.Errors) == 0 {
				result.Succeeded++
				return
			}
			result.Failed++
			who := res.UserID
			if who == "" {
				who = "unknown"
			}
			for _, e := range res.Errors {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", who, e))
			}
		}(d)
	}
	wg.Wait()
	return result
}

func (n *Notifier) safeNotify(ctx context.Context, d Dispatch) (res DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Notification dispatch panicked: %v", r)
			if d.Recipient != nil {
				res.UserID = d.Recipient.ID
			}
			res.InApp = StatusFailed
			res.Errors = append(res.Errors, fmt.Sprintf("panic: %v", r))
		}
	}()
	return n.Notify(ctx, d)
}
