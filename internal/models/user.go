package models

import "time"

// UserType classifies a user for entitlement purposes.
type UserType string

const (
	UserTypeGuest   UserType = "guest"
	UserTypeRegular UserType = "regular"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:26" json:"id"` // ULID
	Email        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(128);not null" json:"-"`
	Type         UserType  `gorm:"type:varchar(16);not null;default:regular" json:"type"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }
