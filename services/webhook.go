package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"nest-server/config"
)

// ChatWebhook posts short event messages to a Google Chat style incoming webhook.
type ChatWebhook struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewChatWebhook(cfg config.WebhookConfig) *ChatWebhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ChatWebhook{
		url:     cfg.GoogleChatURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *ChatWebhook) Enabled() bool {
	return w != nil && w.url != ""
}

// Notify sends text in the background. Failures are only logged.
func (w *ChatWebhook) Notify(text string) {
	if !w.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Post(ctx, text); err != nil {
			logrus.WithError(err).Warn("Chat webhook failed")
		}
	}()
}

func (w *ChatWebhook) Post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
