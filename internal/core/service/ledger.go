package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

// Ledger owns resource stock. Every method runs inside the caller's unit of
// work and is the only code path that changes quantities.
type Ledger struct {
	now   func() time.Time
	newID func() string
}

func (l Ledger) AddResource(ctx context.Context, tx port.Tx, name string, quantity int) (domain.Resource, error) {
	name, err := domain.NormalizeResourceName(name)
	if err != nil {
		return domain.Resource{}, err
	}
	if err := domain.ValidateQuantity(quantity); err != nil {
		return domain.Resource{}, err
	}

	now := l.now()
	res := domain.Resource{
		ID:                l.newID(),
		Name:              name,
		TotalQuantity:     quantity,
		AvailableQuantity: quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.InsertResource(ctx, res); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

func (l Ledger) AddStock(ctx context.Context, tx port.Tx, id string, quantity int) (domain.Resource, error) {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return domain.Resource{}, err
	}

	res, err := tx.LockResource(ctx, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if err := res.Restock(quantity, l.now()); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.UpdateResource(ctx, res); err != nil {
		return domain.Resource{}, err
	}
	return *res, nil
}

func (l Ledger) RemoveResource(ctx context.Context, tx port.Tx, id string) (domain.Resource, error) {
	res, err := tx.LockResource(ctx, id)
	if err != nil {
		return domain.Resource{}, err
	}

	open, err := tx.CountOpenRequests(ctx, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if open > 0 {
		return domain.Resource{}, fmt.Errorf("%w: resource %s has %d open requests", domain.ErrConflict, id, open)
	}

	res.Remove(l.now())
	if err := tx.UpdateResource(ctx, res); err != nil {
		return domain.Resource{}, err
	}
	return *res, nil
}

// DecrementOnIssue takes one unit for a fulfilled request. The row is read
// under lock, so two issuers of the last unit cannot both succeed.
func (l Ledger) DecrementOnIssue(ctx context.Context, tx port.Tx, id string) (domain.Resource, error) {
	res, err := tx.LockResource(ctx, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if err := res.Issue(l.now()); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.UpdateResource(ctx, res); err != nil {
		return domain.Resource{}, err
	}
	return *res, nil
}
