package repositories

import (
	"freshmart/internal/models"
)

// ProductRepository defines the interface for product data access.
//
// UpdateFields applies a partial update: only the keys present in the map
// are written, every other column on the record is left untouched.
type ProductRepository interface {
	GetAll() ([]models.Product, error)
	GetByID(id string) (*models.Product, error)
	Create(product *models.Product) error
	UpdateFields(id string, fields map[string]interface{}) error
	Delete(id string) error
}
