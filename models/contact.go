package models

import "time"

// Contact is a guardian notified when its subject goes silent.
type Contact struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"index;size:64;not null" json:"user_id"`
	Position  int       `json:"position"`
	Name      string    `gorm:"size:128" json:"name"`
	Email     string    `gorm:"size:255" json:"email"`
	Phone     string    `gorm:"size:64" json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}
