package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a monitored subject. LastCheckIn, LastAlertSentAt and LastAlertAttemptAt are
// epoch milliseconds. LastAlertSentAt is the alert watermark; LastAlertAttemptAt records
// the latest failed alert so a failing subject yields its batch slot. Both are only
// ever written by the sweeper.
type User struct {
	ID                 string    `gorm:"primaryKey;size:64" json:"id"`
	Name               string    `gorm:"size:128" json:"name"`
	Email              string    `gorm:"size:255" json:"email"`
	LastCheckIn        *int64    `gorm:"index" json:"last_check_in"`
	Streak             int       `json:"streak"`
	Language           string    `gorm:"size:8" json:"language"`
	IsRegistered       bool      `gorm:"index" json:"is_registered"`
	LastAlertSentAt    *int64    `json:"last_alert_sent_at"`
	LastAlertAttemptAt *int64    `json:"last_alert_attempt_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Contacts           []Contact `gorm:"foreignKey:UserID" json:"contacts,omitempty"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}

// PrimaryContact returns the guardian with the lowest position, or nil.
func (u *User) PrimaryContact() *Contact {
	var primary *Contact
	for i := range u.Contacts {
		c := &u.Contacts[i]
		if primary == nil || c.Position < primary.Position {
			primary = c
		}
	}
	return primary
}

// All lists every model the store migrates.
func All() []interface{} {
	return []interface{}{&User{}, &Contact{}, &CheckIn{}}
}
