package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification is an in-app notification. Only IsRead and UpdatedAt change after insert.
type Notification struct {
	ID        string         `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string         `json:"user_id" gorm:"type:uuid;not null;index:idx_notifications_user_created,priority:1"`
	Type      string         `json:"type" gorm:"size:64;not null;index"` // Approval, Rejection, Overdue, Reminder, Announcement, ...
	Title     string         `json:"title" gorm:"not null"`
	Message   string         `json:"message" gorm:"type:text;not null"`
	IsRead    bool           `json:"is_read" gorm:"default:false;index"`
	Link      *string        `json:"link,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Category  string         `json:"category,omitempty" gorm:"size:64"`
	Priority  string         `json:"priority,omitempty" gorm:"size:16"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_notifications_user_created,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// UserPushToken holds one serialized Web Push subscription ({endpoint, keys}) per browser/device.
type UserPushToken struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_push_tokens_user_token,priority:1"`
	Token     string    `json:"token" gorm:"type:text;not null;uniqueIndex:idx_push_tokens_user_token,priority:2"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserPushToken) TableName() string {
	return "user_push_tokens"
}

func (t *UserPushToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type PushJobStatus string

const (
	PushJobPending    PushJobStatus = "pending"
	PushJobProcessing PushJobStatus = "processing"
	PushJobSent       PushJobStatus = "sent"
	PushJobFailed     PushJobStatus = "failed"
)

// PushQueueJob is a row of the push_notification_queue table polled by the push worker.
type PushQueueJob struct {
	ID           string         `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       string         `json:"user_id" gorm:"type:uuid;not null;index"`
	Title        string         `json:"title" gorm:"not null"`
	Body         string         `json:"body" gorm:"type:text;not null"`
	Data         datatypes.JSON `json:"data,omitempty"`
	Status       PushJobStatus  `json:"status" gorm:"type:varchar(16);not null;default:'pending';index:idx_push_queue_status_created,priority:1"`
	RetryCount   int            `json:"retry_count" gorm:"not null;default:0"`
	MaxRetries   int            `json:"max_retries" gorm:"not null;default:3"`
	ErrorMessage *string        `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at" gorm:"index:idx_push_queue_status_created,priority:2"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
}

func (PushQueueJob) TableName() string {
	return "push_notification_queue"
}

func (j *PushQueueJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = PushJobPending
	}
	return nil
}

// SweepReceipt marks that a periodic sweep already notified a user for a given key and day.
type SweepReceipt struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_sweep_receipts_key,priority:1"`
	Type      string    `json:"type" gorm:"size:64;not null;uniqueIndex:idx_sweep_receipts_key,priority:2"`
	Day       string    `json:"day" gorm:"size:10;not null;uniqueIndex:idx_sweep_receipts_key,priority:3"`
	RefID     string    `json:"ref_id" gorm:"size:64;not null;default:'';uniqueIndex:idx_sweep_receipts_key,priority:4"`
	CreatedAt time.Time `json:"created_at"`
}

func (SweepReceipt) TableName() string {
	return "notification_sweep_receipts"
}
