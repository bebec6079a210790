package models

import (
	"strings"
	"time"
)

// Product represents a grocery product in the catalog. Records are removed
// with a hard delete; there is no soft-delete or versioning.
type Product struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	Name        string    `json:"name" validate:"required,min=1,max=100"`
	Price       float64   `json:"price" validate:"gte=0"`
	Description string    `json:"description" validate:"required,max=500"`
	Category    string    `json:"category" validate:"omitempty,max=100"`
	Image       string    `json:"image" validate:"omitempty,url"` // set only after a successful upload
	DateAdded   int64     `json:"date_added"`                     // milliseconds since epoch, assigned at creation
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// CategoryAll is the sentinel category filter that matches every product.
const CategoryAll = "All"

// Categories is the canonical category set offered by the product form.
// Free-text categories are tolerated on stored records; filtering matches by
// containment so display variants of a category still group together.
var Categories = []string{
	"Vegetables",
	"Fruits",
	"Dairy Products",
	"Bakery Items",
	"Meat & Poultry",
	"Seafood",
	"Grains & Cereals",
	"Nuts & Seeds",
	"Herbs & Spices",
	"Beverages",
	"Organic Products",
	"Canned Goods",
}

// MatchesCategory reports whether the product belongs to the given category
// filter. An empty filter or CategoryAll matches everything.
func (p Product) MatchesCategory(filter string) bool {
	if filter == "" || strings.EqualFold(filter, CategoryAll) {
		return true
	}
	return strings.Contains(strings.ToLower(p.Category), strings.ToLower(filter))
}
