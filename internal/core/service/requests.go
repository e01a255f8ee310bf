package service

import (
	"context"
	"time"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

// RequestStore owns request records and their lifecycle.
type RequestStore struct {
	now func() time.Time
}

// Create validates the reason before looking at the resource. Stock is not
// checked here; it is only checked at fulfillment.
func (s RequestStore) Create(ctx context.Context, tx port.Tx, id, employee, resourceID, reason string) (domain.Request, error) {
	reason, err := domain.NormalizeReason(reason)
	if err != nil {
		return domain.Request{}, err
	}

	// the lock keeps a concurrent RemoveResource from missing this request
	res, err := tx.LockResource(ctx, resourceID)
	if err != nil {
		return domain.Request{}, err
	}

	now := s.now()
	req := domain.Request{
		ID:               id,
		EmployeeIdentity: employee,
		ResourceID:       resourceID,
		ResourceName:     res.Name,
		Reason:           reason,
		Status:           domain.RequestStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.InsertRequest(ctx, req); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// Transition is a compare-and-set on the request status.
func (s RequestStore) Transition(ctx context.Context, tx port.Tx, id string, allowed []domain.RequestStatus, to domain.RequestStatus, actor string) (domain.Request, domain.RequestStatus, error) {
	req, err := tx.LockRequest(ctx, id)
	if err != nil {
		return domain.Request{}, "", err
	}

	from := req.Status
	if err := req.Transition(allowed, to, actor, s.now()); err != nil {
		return domain.Request{}, "", err
	}
	if err := tx.UpdateRequest(ctx, *req, from); err != nil {
		return domain.Request{}, "", err
	}
	return *req, from, nil
}
