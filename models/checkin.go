package models

import "time"

// CheckIn stores at most one durable check-in per subject and calendar date.
type CheckIn struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"size:64;not null;uniqueIndex:idx_check_ins_user_date" json:"user_id"`
	DateString string    `gorm:"size:10;not null;uniqueIndex:idx_check_ins_user_date" json:"date_string"`
	Timestamp  int64     `gorm:"not null" json:"timestamp"`
	TimeString string    `gorm:"size:8" json:"time_string"`
	CreatedAt  time.Time `json:"created_at"`
}
