package repositories

import (
	"freshmart/internal/models"
)

// UserRepository defines the interface for user profile data access.
// Profiles are looked up by id or email, never enumerated.
type UserRepository interface {
	GetByID(id string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Create(user *models.User) error
	Update(user *models.User) error
}
