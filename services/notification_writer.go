package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nest-server/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NewNotification is the input of a single in-app notification insert.
type NewNotification struct {
	UserID   string
	Type     string
	Title    string
	Message  string
	Link     string
	Metadata map[string]interface{}
	Category string
	Priority string
}

// Publisher receives every notification after it was stored.
type Publisher interface {
	PublishNotification(n *models.Notification)
}

// FanOutResult aggregates one logical send across many recipients.
type FanOutResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type NotificationWriter struct {
	db        *gorm.DB
	publisher Publisher
}

func NewNotificationWriter(db *gorm.DB, publisher Publisher) *NotificationWriter {
	return &NotificationWriter{db: db, publisher: publisher}
}

func (w *NotificationWriter) Write(ctx context.Context, in NewNotification) (*models.Notification, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("notification recipient is required")
	}
	if in.Title == "" || in.Message == "" {
		return nil, fmt.Errorf("notification title and message are required")
	}

	n := &models.Notification{
		UserID:   in.UserID,
		Type:     in.Type,
		Title:    in.Title,
		Message:  in.Message,
		Category: in.Category,
		Priority: in.Priority,
	}
	if in.Link != "" {
		link := in.Link
		n.Link = &link
	}
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode notification metadata: %w", err)
		}
		n.Metadata = datatypes.JSON(raw)
	}

	if err := w.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	if w.publisher != nil {
		w.publisher.PublishNotification(n)
	}
	return n, nil
}

// List returns the newest notifications of a user first.
func (w *NotificationWriter) List(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var notifications []models.Notification
	query := w.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

func (w *NotificationWriter) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := w.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead flips is_read for one notification owned by userID.
func (w *NotificationWriter) MarkRead(ctx context.Context, userID, id string) error {
	res := w.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (w *NotificationWriter) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := w.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExistsOnDay reports whether userID already got a notification of kind on the calendar
// day containing day (in day's location). match, when set, filters on decoded metadata.
func (w *NotificationWriter) ExistsOnDay(ctx context.Context, userID, kind string, day time.Time, match func(metadata map[string]interface{}) bool) (bool, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	// the SQL window is padded by a day on each side; the exact bounds are checked below
	var rows []models.Notification
	err := w.db.WithContext(ctx).
		Select("id", "metadata", "created_at").
		Where("user_id = ? AND type = ? AND created_at >= ? AND created_at < ?", userID, kind, start.AddDate(0, 0, -1), end.AddDate(0, 0, 1)).
		Find(&rows).Error
	if err != nil {
		return false, fmt.Errorf("look up notifications: %w", err)
	}

	for _, row := range rows {
		if row.CreatedAt.Before(start) || !row.CreatedAt.Before(end) {
			continue
		}
		if match == nil {
			return true, nil
		}
		metadata := map[string]interface{}{}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
				continue
			}
		}
		if match(metadata) {
			return true, nil
		}
	}
	return false, nil
}
