package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// WishlistItem asks the store to stock something that is not in the catalog.
type WishlistItem struct {
	ID               string    `json:"id"`
	EmployeeIdentity string    `json:"employee_identity"`
	ItemName         string    `json:"item_name"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
}

func NewWishlistItem(id, employee, itemName, reason string, at time.Time) (WishlistItem, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return WishlistItem{}, fmt.Errorf("%w: item name is required", ErrValidation)
	}
	if utf8.RuneCountInString(itemName) > MaxResourceNameLength {
		return WishlistItem{}, fmt.Errorf("%w: item name exceeds %d characters", ErrValidation, MaxResourceNameLength)
	}
	reason, err := NormalizeReason(reason)
	if err != nil {
		return WishlistItem{}, err
	}
	return WishlistItem{
		ID:               id,
		EmployeeIdentity: employee,
		ItemName:         itemName,
		Reason:           reason,
		CreatedAt:        at,
	}, nil
}
