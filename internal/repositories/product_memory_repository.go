package repositories

import (
	"fmt"
	"sync"
	"time"

	"freshmart/internal/models"

	"github.com/google/uuid"
)

// MemoryProductRepository is an in-memory implementation of ProductRepository.
// It keeps insertion order so list consumers see a stable ordering, matching
// the database-backed implementation.
type MemoryProductRepository struct {
	products map[string]models.Product
	order    []string
	mu       sync.RWMutex
}

// NewMemoryProductRepository creates a new instance of MemoryProductRepository.
func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{
		products: make(map[string]models.Product),
	}
}

// GetAll returns all products in insertion order.
func (r *MemoryProductRepository) GetAll() ([]models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.order))
	for _, id := range r.order {
		productList = append(productList, r.products[id])
	}
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *MemoryProductRepository) GetByID(id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %s not found", id)
	}
	return &product, nil
}

// Create adds a new product, assigning an ID and creation timestamp when unset.
func (r *MemoryProductRepository) Create(product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.DateAdded == 0 {
		product.DateAdded = time.Now().UnixMilli()
	}
	if _, exists := r.products[product.ID]; !exists {
		r.order = append(r.order, product.ID)
	}
	r.products[product.ID] = *product
	return nil
}

// UpdateFields merges the given fields into an existing product. Keys absent
// from the map leave the corresponding fields untouched. A value of the wrong
// type fails the whole update and leaves the stored record unchanged.
func (r *MemoryProductRepository) UpdateFields(id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[id]
	if !ok {
		return fmt.Errorf("product with ID %s not found for update", id)
	}
	for key, value := range fields {
		if key == "price" {
			price, ok := value.(float64)
			if !ok {
				return fmt.Errorf("invalid value for field price: expected float64, got %T", value)
			}
			product.Price = price
			continue
		}
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("invalid value for field %s: expected string, got %T", key, value)
		}
		switch key {
		case "name":
			product.Name = str
		case "description":
			product.Description = str
		case "category":
			product.Category = str
		case "image":
			product.Image = str
		}
	}
	r.products[id] = product
	return nil
}

// Delete removes a product by its ID.
func (r *MemoryProductRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.products[id]
	if !ok {
		return fmt.Errorf("product with ID %s not found for deletion", id)
	}
	delete(r.products, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
