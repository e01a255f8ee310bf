package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

// testStore exercises the port.Store contract. Every case uses fresh ids and
// names so it can run against a shared database.
func testStore(t *testing.T, newStore func(t *testing.T) port.Store) {
	t.Run("InsertAndGetResource", func(t *testing.T) { testInsertAndGetResource(t, newStore(t)) })
	t.Run("DuplicateActiveName", func(t *testing.T) { testDuplicateActiveName(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("ResourceVersionCAS", func(t *testing.T) { testResourceVersionCAS(t, newStore(t)) })
	t.Run("RequestStatusCAS", func(t *testing.T) { testRequestStatusCAS(t, newStore(t)) })
	t.Run("SoftRemove", func(t *testing.T) { testSoftRemove(t, newStore(t)) })
	t.Run("ListRequests", func(t *testing.T) { testListRequests(t, newStore(t)) })
	t.Run("RequestResourceName", func(t *testing.T) { testRequestResourceName(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("Wishlist", func(t *testing.T) { testWishlist(t, newStore(t)) })
}

// truncated keeps timestamps comparable after a DATETIME(6) round trip.
func truncated(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func newResource(qty int) domain.Resource {
	now := truncated(time.Now())
	return domain.Resource{
		ID:                uuid.NewString(),
		Name:              "Item " + uuid.NewString()[:8],
		TotalQuantity:     qty,
		AvailableQuantity: qty,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newRequest(resourceID, employee string, at time.Time) domain.Request {
	return domain.Request{
		ID:               uuid.NewString(),
		EmployeeIdentity: employee,
		ResourceID:       resourceID,
		Reason:           "needed for project work",
		Status:           domain.RequestStatusPending,
		CreatedAt:        truncated(at),
		UpdatedAt:        truncated(at),
	}
}

func seedResource(t *testing.T, store port.Store, qty int) domain.Resource {
	t.Helper()
	res := newResource(qty)
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.InsertResource(ctx, res)
	}))
	return res
}

func seedRequest(t *testing.T, store port.Store, req domain.Request) {
	t.Helper()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.InsertRequest(ctx, req)
	}))
}

func testInsertAndGetResource(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 3)

	got, err := store.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Name, got.Name)
	assert.Equal(t, 3, got.TotalQuantity)
	assert.Equal(t, 3, got.AvailableQuantity)
	assert.Nil(t, got.RemovedAt)

	_, err = store.GetResource(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testDuplicateActiveName(t *testing.T, store port.Store) {
	res := seedResource(t, store, 1)

	dup := newResource(1)
	dup.Name = res.Name
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.InsertResource(ctx, dup)
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func testRollbackOnError(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 2)
	req := newRequest(res.ID, "rollback@corp.test", time.Now())
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockResource(ctx, res.ID)
		if err != nil {
			return err
		}
		locked.AvailableQuantity--
		if err := tx.UpdateResource(ctx, locked); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableQuantity)
	assert.Equal(t, 0, got.Version)

	_, err = store.GetRequest(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testResourceVersionCAS(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 2)

	stale := res
	err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockResource(ctx, res.ID)
		if err != nil {
			return err
		}
		locked.AvailableQuantity = 1
		return tx.UpdateResource(ctx, locked)
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		stale.AvailableQuantity = 0
		return tx.UpdateResource(ctx, &stale)
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.ErrorIs(t, err, ErrOptimisticLock)

	got, err := store.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableQuantity)
	assert.Equal(t, 1, got.Version)
}

func testRequestStatusCAS(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 1)
	req := newRequest(res.ID, "cas@corp.test", time.Now())
	seedRequest(t, store, req)

	decide := func(to domain.RequestStatus) error {
		return store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			locked, err := tx.LockRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			if err := locked.Transition([]domain.RequestStatus{domain.RequestStatusPending}, to, "mgr@corp.test", truncated(time.Now())); err != nil {
				return err
			}
			return tx.UpdateRequest(ctx, *locked, domain.RequestStatusPending)
		})
	}

	require.NoError(t, decide(domain.RequestStatusManagerApproved))
	require.ErrorIs(t, decide(domain.RequestStatusRejected), domain.ErrInvalidState)

	// a writer that skipped the lock still cannot move a stale status
	stale := req
	stale.Status = domain.RequestStatusRejected
	err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.UpdateRequest(ctx, stale, domain.RequestStatusPending)
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusManagerApproved, got.Status)
	require.NotNil(t, got.DecidedBy)
	assert.Equal(t, "mgr@corp.test", *got.DecidedBy)
	assert.NotNil(t, got.DecidedAt)
	assert.Nil(t, got.FulfilledBy)
}

func testSoftRemove(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 1)
	req := newRequest(res.ID, "remove@corp.test", time.Now())
	seedRequest(t, store, req)

	countOpen := func() int {
		var n int
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			var err error
			n, err = tx.CountOpenRequests(ctx, res.ID)
			return err
		}))
		return n
	}
	assert.Equal(t, 1, countOpen())

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := locked.Transition([]domain.RequestStatus{domain.RequestStatusPending}, domain.RequestStatusRejected, "mgr@corp.test", truncated(time.Now())); err != nil {
			return err
		}
		return tx.UpdateRequest(ctx, *locked, domain.RequestStatusPending)
	}))
	assert.Equal(t, 0, countOpen())

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockResource(ctx, res.ID)
		if err != nil {
			return err
		}
		locked.Remove(truncated(time.Now()))
		return tx.UpdateResource(ctx, locked)
	}))

	_, err := store.GetResource(ctx, res.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		_, err := tx.LockResource(ctx, res.ID)
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	removed, err := store.LookupResource(ctx, res.ID)
	require.NoError(t, err)
	assert.NotNil(t, removed.RemovedAt)

	for listed, err := range store.ListResources(ctx) {
		require.NoError(t, err)
		assert.NotEqual(t, res.ID, listed.ID)
	}

	// the name is free for a new resource
	again := newResource(1)
	again.Name = res.Name
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertResource(ctx, again)
	}))
}

func testListRequests(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 1)
	employee := uuid.NewString() + "@corp.test"
	base := time.Now().Add(-time.Hour)

	var ids []string
	for i := 0; i < 3; i++ {
		req := newRequest(res.ID, employee, base.Add(time.Duration(i)*time.Second))
		seedRequest(t, store, req)
		ids = append(ids, req.ID)
	}

	var mine []string
	for req, err := range store.ListRequestsByEmployee(ctx, employee) {
		require.NoError(t, err)
		mine = append(mine, req.ID)
	}
	assert.Equal(t, ids, mine)

	var pending []string
	for req, err := range store.ListRequestsByStatus(ctx, domain.RequestStatusPending) {
		require.NoError(t, err)
		if req.EmployeeIdentity == employee {
			pending = append(pending, req.ID)
		}
	}
	assert.Equal(t, ids, pending)

	// early break leaves the sequence reusable
	for _, err := range store.ListRequestsByEmployee(ctx, employee) {
		require.NoError(t, err)
		break
	}
	var again int
	for _, err := range store.ListRequestsByEmployee(ctx, employee) {
		require.NoError(t, err)
		again++
	}
	assert.Equal(t, 3, again)
}

func testRequestResourceName(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 1)
	employee := uuid.NewString() + "@corp.test"
	req := newRequest(res.ID, employee, time.Now())
	seedRequest(t, store, req)

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Name, got.ResourceName)

	for listed, err := range store.ListRequestsByStatus(ctx, domain.RequestStatusPending) {
		require.NoError(t, err)
		if listed.ID == req.ID {
			assert.Equal(t, res.Name, listed.ResourceName)
		}
	}

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := locked.Transition([]domain.RequestStatus{domain.RequestStatusPending}, domain.RequestStatusRejected, "mgr@corp.test", truncated(time.Now())); err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, *locked, domain.RequestStatusPending); err != nil {
			return err
		}
		removed, err := tx.LockResource(ctx, res.ID)
		if err != nil {
			return err
		}
		removed.Remove(truncated(time.Now()))
		return tx.UpdateResource(ctx, removed)
	}))

	// history keeps the name of a removed resource
	got, err = store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Name, got.ResourceName)

	var names []string
	for listed, err := range store.ListRequestsByEmployee(ctx, employee) {
		require.NoError(t, err)
		names = append(names, listed.ResourceName)
	}
	assert.Equal(t, []string{res.Name}, names)
}

func testEvents(t *testing.T, store port.Store) {
	ctx := context.Background()
	res := seedResource(t, store, 1)
	req := newRequest(res.ID, "events@corp.test", time.Now())
	seedRequest(t, store, req)

	at := truncated(time.Now())
	require.NoError(t, store.AppendEvents(ctx,
		domain.RequestEvent{ID: uuid.NewString(), RequestID: req.ID, Actor: "mgr@corp.test",
			FromStatus: domain.RequestStatusPending, ToStatus: domain.RequestStatusManagerApproved, OccurredAt: at.Add(time.Second)},
		domain.RequestEvent{ID: uuid.NewString(), RequestID: req.ID, Actor: "events@corp.test",
			ToStatus: domain.RequestStatusPending, OccurredAt: at},
	))

	events, err := store.ListEvents(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.RequestStatus(""), events[0].FromStatus)
	assert.Equal(t, domain.RequestStatusPending, events[0].ToStatus)
	assert.Equal(t, domain.RequestStatusManagerApproved, events[1].ToStatus)

	none, err := store.ListEvents(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testWishlist(t *testing.T, store port.Store) {
	ctx := context.Background()
	item, err := domain.NewWishlistItem(uuid.NewString(), "wish@corp.test", "Standing desk", "back pain after long days", truncated(time.Now()))
	require.NoError(t, err)
	require.NoError(t, store.InsertWishlistItem(ctx, item))

	var found bool
	for got, err := range store.ListWishlistItems(ctx) {
		require.NoError(t, err)
		if got.ID == item.ID {
			found = true
			assert.Equal(t, "Standing desk", got.ItemName)
		}
	}
	assert.True(t, found)
}
