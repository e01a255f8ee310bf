package storage

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

// MemoryStore keeps all state in process. Units of work are serialized and
// staged, so a failed unit leaves nothing behind.
type MemoryStore struct {
	mu        sync.RWMutex
	writer    chan struct{}
	resources map[string]domain.Resource
	requests  map[string]domain.Request
	events    map[string][]domain.RequestEvent
	wishlist  []domain.WishlistItem
}

var _ port.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		writer:    make(chan struct{}, 1),
		resources: make(map[string]domain.Resource),
		requests:  make(map[string]domain.Request),
		events:    make(map[string][]domain.RequestEvent),
	}
}

func (s *MemoryStore) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := s.LookupResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Removed() {
		return nil, errResourceNotFound(id)
	}
	return res, nil
}

func (s *MemoryStore) LookupResource(_ context.Context, id string) (*domain.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.resources[id]
	if !ok {
		return nil, errResourceNotFound(id)
	}
	return &res, nil
}

func (s *MemoryStore) ListResources(_ context.Context) iter.Seq2[domain.Resource, error] {
	return func(yield func(domain.Resource, error) bool) {
		s.mu.RLock()
		snapshot := make([]domain.Resource, 0, len(s.resources))
		for _, res := range s.resources {
			if !res.Removed() {
				snapshot = append(snapshot, res)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(snapshot, func(a, b domain.Resource) int {
			return cmp.Or(cmp.Compare(domain.NameKey(a.Name), domain.NameKey(b.Name)), cmp.Compare(a.ID, b.ID))
		})
		for _, res := range snapshot {
			if !yield(res, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	s.mu.RLock()
	req, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errRequestNotFound(id)
	}

	res, err := s.LookupResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	req.ResourceName = res.Name
	return &req, nil
}

func (s *MemoryStore) ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) iter.Seq2[domain.Request, error] {
	return s.listRequests(ctx, func(r domain.Request) bool { return r.Status == status })
}

func (s *MemoryStore) ListRequestsByEmployee(ctx context.Context, identity string) iter.Seq2[domain.Request, error] {
	return s.listRequests(ctx, func(r domain.Request) bool { return r.EmployeeIdentity == identity })
}

func (s *MemoryStore) listRequests(ctx context.Context, match func(domain.Request) bool) iter.Seq2[domain.Request, error] {
	return func(yield func(domain.Request, error) bool) {
		s.mu.RLock()
		var snapshot []domain.Request
		for _, req := range s.requests {
			if match(req) {
				snapshot = append(snapshot, req)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(snapshot, compareRequests)
		names := make(map[string]string)
		for _, req := range snapshot {
			name, ok := names[req.ResourceID]
			if !ok {
				res, err := s.LookupResource(ctx, req.ResourceID)
				if err != nil {
					yield(domain.Request{}, err)
					return
				}
				name = res.Name
				names[req.ResourceID] = name
			}
			req.ResourceName = name
			if !yield(req, nil) {
				return
			}
		}
	}
}

func compareRequests(a, b domain.Request) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func (s *MemoryStore) AppendEvents(_ context.Context, events ...domain.RequestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		s.events[ev.RequestID] = append(s.events[ev.RequestID], ev)
	}
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, requestID string) ([]domain.RequestEvent, error) {
	s.mu.RLock()
	events := slices.Clone(s.events[requestID])
	s.mu.RUnlock()

	slices.SortStableFunc(events, func(a, b domain.RequestEvent) int {
		return a.OccurredAt.Compare(b.OccurredAt)
	})
	return events, nil
}

func (s *MemoryStore) InsertWishlistItem(_ context.Context, item domain.WishlistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wishlist = append(s.wishlist, item)
	return nil
}

func (s *MemoryStore) ListWishlistItems(_ context.Context) iter.Seq2[domain.WishlistItem, error] {
	return func(yield func(domain.WishlistItem, error) bool) {
		s.mu.RLock()
		snapshot := slices.Clone(s.wishlist)
		s.mu.RUnlock()

		slices.SortStableFunc(snapshot, func(a, b domain.WishlistItem) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		for _, item := range snapshot {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("begin tx: %w", ctx.Err())
	}
	defer func() { <-s.writer }()

	tx := &memoryTx{
		store:     s,
		resources: make(map[string]domain.Resource),
		requests:  make(map[string]domain.Request),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, res := range tx.resources {
		s.resources[id] = res
	}
	for id, req := range tx.requests {
		s.requests[id] = req
	}
	return nil
}

// memoryTx stages writes on top of the committed maps. Only one memoryTx is
// live at a time, so the committed maps cannot move underneath it.
type memoryTx struct {
	store     *MemoryStore
	resources map[string]domain.Resource
	requests  map[string]domain.Request
}

func (t *memoryTx) resource(id string) (domain.Resource, bool) {
	if res, ok := t.resources[id]; ok {
		return res, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	res, ok := t.store.resources[id]
	return res, ok
}

func (t *memoryTx) request(id string) (domain.Request, bool) {
	if req, ok := t.requests[id]; ok {
		return req, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	req, ok := t.store.requests[id]
	return req, ok
}

func (t *memoryTx) allResources() map[string]domain.Resource {
	t.store.mu.RLock()
	merged := make(map[string]domain.Resource, len(t.store.resources)+len(t.resources))
	for id, res := range t.store.resources {
		merged[id] = res
	}
	t.store.mu.RUnlock()
	for id, res := range t.resources {
		merged[id] = res
	}
	return merged
}

func (t *memoryTx) allRequests() map[string]domain.Request {
	t.store.mu.RLock()
	merged := make(map[string]domain.Request, len(t.store.requests)+len(t.requests))
	for id, req := range t.store.requests {
		merged[id] = req
	}
	t.store.mu.RUnlock()
	for id, req := range t.requests {
		merged[id] = req
	}
	return merged
}

func (t *memoryTx) InsertResource(_ context.Context, res domain.Resource) error {
	key := domain.NameKey(res.Name)
	for id, existing := range t.allResources() {
		if id == res.ID {
			return fmt.Errorf("%w: resource id %s already used", domain.ErrConflict, id)
		}
		if !existing.Removed() && domain.NameKey(existing.Name) == key {
			return errDuplicateName(res.Name)
		}
	}
	t.resources[res.ID] = res
	return nil
}

func (t *memoryTx) LockResource(_ context.Context, id string) (*domain.Resource, error) {
	res, ok := t.resource(id)
	if !ok || res.Removed() {
		return nil, errResourceNotFound(id)
	}
	return &res, nil
}

func (t *memoryTx) UpdateResource(_ context.Context, res *domain.Resource) error {
	current, ok := t.resource(res.ID)
	if !ok {
		return errResourceNotFound(res.ID)
	}
	if current.Version != res.Version {
		return ErrOptimisticLock
	}
	if err := res.CheckInvariants(); err != nil {
		return err
	}
	res.Version++
	t.resources[res.ID] = *res
	return nil
}

func (t *memoryTx) CountOpenRequests(_ context.Context, resourceID string) (int, error) {
	var n int
	for _, req := range t.allRequests() {
		if req.ResourceID == resourceID && !req.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) InsertRequest(_ context.Context, req domain.Request) error {
	if _, ok := t.request(req.ID); ok {
		return fmt.Errorf("%w: request id %s already used", domain.ErrConflict, req.ID)
	}
	t.requests[req.ID] = req
	return nil
}

func (t *memoryTx) LockRequest(_ context.Context, id string) (*domain.Request, error) {
	req, ok := t.request(id)
	if !ok {
		return nil, errRequestNotFound(id)
	}
	return &req, nil
}

func (t *memoryTx) UpdateRequest(_ context.Context, req domain.Request, from domain.RequestStatus) error {
	current, ok := t.request(req.ID)
	if !ok {
		return errRequestNotFound(req.ID)
	}
	if current.Status != from {
		return fmt.Errorf("%w: request %s is %s", domain.ErrInvalidState, req.ID, current.Status)
	}
	t.requests[req.ID] = req
	return nil
}
