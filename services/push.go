package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"nest-server/config"
)

// PushSender delivers one payload to one browser subscription.
type PushSender interface {
	Send(ctx context.Context, sub *webpush.Subscription, payload []byte) error
}

// PushError is a delivery rejected by the push service.
type PushError struct {
	StatusCode int
	Message    string
}

func (e *PushError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Message)
}

// IsGone reports an endpoint that will never accept deliveries again
func (e *PushError) IsGone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// IsGoneError unwraps err looking for a gone endpoint.
func IsGoneError(err error) bool {
	var pushErr *PushError
	return errors.As(err, &pushErr) && pushErr.IsGone()
}

// WebPushSender signs deliveries with the configured VAPID key pair.
type WebPushSender struct {
	options webpush.Options
}

func NewWebPushSender(cfg config.PushConfig, client *http.Client) (*WebPushSender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("VAPID keys are required for web push")
	}

	// webpush-go adds the mailto: scheme itself
	subscriber := strings.TrimPrefix(cfg.Subject, "mailto:")

	opts := webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		TTL:             cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
	}
	if client != nil {
		opts.HTTPClient = client
	}
	return &WebPushSender{options: opts}, nil
}

func (s *WebPushSender) Send(ctx context.Context, sub *webpush.Subscription, payload []byte) error {
	opts := s.options
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &opts)
	if err != nil {
		return fmt.Errorf("push delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PushError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// ParseSubscription decodes a stored token into a subscription and checks its shape.
func ParseSubscription(token string) (*webpush.Subscription, error) {
	sub := &webpush.Subscription{}
	if err := json.Unmarshal([]byte(token), sub); err != nil {
		return nil, fmt.Errorf("invalid push subscription: %w", err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, errors.New("invalid push subscription: endpoint and keys are required")
	}
	return sub, nil
}

// PushPayload is the JSON document the service worker receives.
type PushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}
