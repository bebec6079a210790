package models

import "time"

// User represents a registered shopper's profile. The ID matches the id
// assigned by the auth layer at registration and is immutable afterwards.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	FullName  string    `json:"full_name" gorm:"type:varchar(100)" validate:"required,min=1,max=100"`
	Email     string    `json:"email" gorm:"uniqueIndex;type:varchar(255)" validate:"required,email"`
	Password  string    `gorm:"type:varchar(255)"` // bcrypt hash, no json tag for security
	Phone     string    `json:"phone" gorm:"type:varchar(32)" validate:"omitempty,max=32"`
	Address   string    `json:"address" gorm:"type:varchar(255)" validate:"omitempty,max=255"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
