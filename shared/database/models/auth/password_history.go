package auth

import (
	"time"

	"github.com/google/uuid"
)

// PasswordHistory keeps previous password hashes so recent passwords
// cannot be reused.
type PasswordHistory struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID       uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	PasswordHash string    `json:"-" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the table name for PasswordHistory
func (PasswordHistory) TableName() string {
	return "password_histories"
}
