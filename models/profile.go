package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleUser  UserRole = "User"
	RoleAdmin UserRole = "Admin"
)

type ProfileStatus string

const (
	ProfileStatusActive   ProfileStatus = "Active"
	ProfileStatusInactive ProfileStatus = "Inactive"
)

// Profile is the application-side user record. Authentication lives elsewhere;
// the id matches the subject of the access token.
type Profile struct {
	ID                      string         `json:"id" gorm:"type:uuid;primaryKey"`
	FullName                string         `json:"full_name" gorm:"size:255"`
	Email                   string         `json:"email" gorm:"size:255;index"`
	Role                    UserRole       `json:"role" gorm:"type:varchar(20);not null;default:'User'"`
	Status                  ProfileStatus  `json:"status" gorm:"type:varchar(20);not null;default:'Active'"`
	Department              string         `json:"department" gorm:"size:255"`
	NotificationPreferences datatypes.JSON `json:"notification_preferences"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if p.Status == "" {
		p.Status = ProfileStatusActive
	}
	return nil
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p *Profile) IsActive() bool {
	return p.Status == ProfileStatusActive
}

// DisplayName falls back to the email when no name was recorded
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}
