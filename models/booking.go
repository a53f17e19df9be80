package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "Pending"
	RequestStatusApproved   RequestStatus = "Approved"
	RequestStatusRejected   RequestStatus = "Rejected"
	RequestStatusCheckedOut RequestStatus = "Checked Out"
	RequestStatusReturned   RequestStatus = "Returned"
	RequestStatusCancelled  RequestStatus = "Cancelled"
)

// GearRequest is a user's request to borrow one or more pieces of equipment.
type GearRequest struct {
	ID         string        `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     string        `json:"user_id" gorm:"type:uuid;not null;index"`
	GearName   string        `json:"gear_name" gorm:"size:255;not null"`
	Reason     string        `json:"reason" gorm:"type:text"`
	Status     RequestStatus `json:"status" gorm:"type:varchar(20);not null;default:'Pending';index"`
	DueDate    *time.Time    `json:"due_date"`
	AdminNotes string        `json:"admin_notes" gorm:"type:text"`
	ApprovedBy *string       `json:"approved_by" gorm:"type:uuid"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`

	User Profile `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (GearRequest) TableName() string {
	return "gear_requests"
}

func (r *GearRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RequestStatusPending
	}
	return nil
}

// GearCheckin is a user's report that borrowed equipment came back.
type GearCheckin struct {
	ID        string        `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string        `json:"user_id" gorm:"type:uuid;not null;index"`
	RequestID *string       `json:"request_id" gorm:"type:uuid"`
	GearName  string        `json:"gear_name" gorm:"size:255;not null"`
	Condition string        `json:"condition" gorm:"size:64"`
	Notes     string        `json:"notes" gorm:"type:text"`
	Status    RequestStatus `json:"status" gorm:"type:varchar(20);not null;default:'Pending'"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	User Profile `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (GearCheckin) TableName() string {
	return "checkins"
}

func (c *GearCheckin) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = RequestStatusPending
	}
	return nil
}

// CarBooking reserves a pool car for a date and time slot.
type CarBooking struct {
	ID          string        `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      string        `json:"user_id" gorm:"type:uuid;not null;index"`
	CarLabel    string        `json:"car_label" gorm:"size:255"`
	DateOfUse   time.Time     `json:"date_of_use" gorm:"not null;index"`
	TimeSlot    string        `json:"time_slot" gorm:"size:64"`
	Destination string        `json:"destination" gorm:"size:255"`
	Purpose     string        `json:"purpose" gorm:"type:text"`
	Status      RequestStatus `json:"status" gorm:"type:varchar(20);not null;default:'Pending';index"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	User Profile `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (CarBooking) TableName() string {
	return "car_bookings"
}

func (b *CarBooking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = RequestStatusPending
	}
	return nil
}

type Announcement struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title     string    `json:"title" gorm:"size:255;not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedBy string    `json:"created_by" gorm:"type:uuid;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Announcement) TableName() string {
	return "announcements"
}

func (a *Announcement) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// All lists every model managed by migrations.
func All() []interface{} {
	return []interface{}{
		&Profile{},
		&Notification{},
		&UserPushToken{},
		&PushQueueJob{},
		&SweepReceipt{},
		&GearRequest{},
		&GearCheckin{},
		&CarBooking{},
		&Announcement{},
	}
}
