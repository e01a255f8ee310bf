package port

import (
	"context"
	"iter"

	"github.com/rl1809/resource-allocator/internal/core/domain"
)

// Store is the persistent state of the inventory ledger and the request store.
// Reads outside WithinTx may be stale and must not drive decisions.
type Store interface {
	// GetResource returns an active resource, ErrNotFound when missing or removed
	GetResource(ctx context.Context, id string) (*domain.Resource, error)

	// LookupResource returns a resource even when it has been removed
	LookupResource(ctx context.Context, id string) (*domain.Resource, error)

	// ListResources yields active resources ordered by name; each range re-reads the store
	ListResources(ctx context.Context) iter.Seq2[domain.Resource, error]

	GetRequest(ctx context.Context, id string) (*domain.Request, error)

	// ListRequestsByStatus yields requests ordered by created_at ascending
	ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) iter.Seq2[domain.Request, error]

	// ListRequestsByEmployee yields requests ordered by created_at ascending
	ListRequestsByEmployee(ctx context.Context, identity string) iter.Seq2[domain.Request, error]

	AppendEvents(ctx context.Context, events ...domain.RequestEvent) error
	ListEvents(ctx context.Context, requestID string) ([]domain.RequestEvent, error)

	InsertWishlistItem(ctx context.Context, item domain.WishlistItem) error
	ListWishlistItems(ctx context.Context) iter.Seq2[domain.WishlistItem, error]

	// WithinTx runs fn as one unit of work: every write made through tx is
	// committed when fn returns nil and discarded otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side of a unit of work. Lock* reads hold the row until the
// unit of work ends.
type Tx interface {
	// InsertResource fails with ErrValidation when an active resource has the same name
	InsertResource(ctx context.Context, resource domain.Resource) error

	// LockResource returns an active resource, ErrNotFound when missing or removed
	LockResource(ctx context.Context, id string) (*domain.Resource, error)

	// UpdateResource writes resource if its stored version still matches and
	// advances resource.Version on success
	UpdateResource(ctx context.Context, resource *domain.Resource) error

	// CountOpenRequests counts non-terminal requests referencing resourceID
	CountOpenRequests(ctx context.Context, resourceID string) (int, error)

	InsertRequest(ctx context.Context, request domain.Request) error

	LockRequest(ctx context.Context, id string) (*domain.Request, error)

	// UpdateRequest writes request only if the stored status is still from, ErrInvalidState otherwise
	UpdateRequest(ctx context.Context, request domain.Request, from domain.RequestStatus) error
}
