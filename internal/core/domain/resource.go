package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxResourceNameLength = 255

type Resource struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	TotalQuantity     int        `json:"total_quantity"`
	AvailableQuantity int        `json:"available_quantity"`
	Version           int        `json:"version"` // optimistic locking
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	RemovedAt         *time.Time `json:"removed_at,omitempty"`
}

// NormalizeResourceName trims the name and checks it is usable in the catalog.
func NormalizeResourceName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", fmt.Errorf("%w: resource name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > MaxResourceNameLength {
		return "", fmt.Errorf("%w: resource name exceeds %d characters", ErrValidation, MaxResourceNameLength)
	}
	return name, nil
}

// NameKey is the case-insensitive uniqueness key of a catalog name.
func NameKey(name string) string {
	return strings.ToLower(name)
}

func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", ErrValidation, quantity)
	}
	return nil
}

func (r *Resource) Removed() bool {
	return r.RemovedAt != nil
}

// Issue takes one unit out of available stock.
func (r *Resource) Issue(at time.Time) error {
	if r.AvailableQuantity <= 0 {
		return fmt.Errorf("%w: cannot fulfill: no stock of %q", ErrOutOfStock, r.Name)
	}
	r.AvailableQuantity--
	r.UpdatedAt = at
	return nil
}

// Restock adds quantity units to both total and available stock.
func (r *Resource) Restock(quantity int, at time.Time) error {
	if err := ValidateQuantity(quantity); err != nil {
		return err
	}
	r.TotalQuantity += quantity
	r.AvailableQuantity += quantity
	r.UpdatedAt = at
	return nil
}

func (r *Resource) Remove(at time.Time) {
	r.RemovedAt = &at
	r.UpdatedAt = at
}

// CheckInvariants verifies 0 <= available <= total.
func (r *Resource) CheckInvariants() error {
	if r.AvailableQuantity < 0 || r.AvailableQuantity > r.TotalQuantity {
		return fmt.Errorf("resource %s: available %d outside [0, %d]", r.ID, r.AvailableQuantity, r.TotalQuantity)
	}
	return nil
}
