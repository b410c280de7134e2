package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "User"
	RoleAdmin = "Admin"
)

// User is the subject record. RefreshHash holds the SHA-256 fingerprint of the
// single live refresh token, nil when the user has no active session. OTP codes
// are stored bcrypt-hashed, never in plain text.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"  json:"id"`
	Email       string    `gorm:"uniqueIndex;not null"  json:"email"`
	Role        string    `gorm:"not null"              json:"role"`
	OTPHash     string    `gorm:"column:otp_hash"       json:"-"`
	OTPExpiry   time.Time `gorm:"column:otp_expiry"     json:"-"`
	RefreshHash *string   `gorm:"column:refresh_hash"   json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}
