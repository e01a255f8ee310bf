package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

const (
	tracerName       = "github.com/rl1809/resource-allocator/internal/core/service"
	defaultTxTimeout = 5 * time.Second
)

// Recorder receives the events of every committed transition.
type Recorder interface {
	Record(events ...domain.RequestEvent)
}

type nopRecorder struct{}

func (nopRecorder) Record(...domain.RequestEvent) {}

// Workflow is the entry point for every external action. Each action is
// authorized first, then applied as a single unit of work while holding the
// entity locks in resource-before-request order.
type Workflow struct {
	store     port.Store
	locker    port.Locker
	cache     port.CacheRepository
	audit     Recorder
	ledger    Ledger
	requests  RequestStore
	log       *logrus.Entry
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	txTimeout time.Duration
}

type Option func(*Workflow)

// WithCache enables idempotency keys on Submit.
func WithCache(cache port.CacheRepository) Option {
	return func(w *Workflow) { w.cache = cache }
}

func WithRecorder(r Recorder) Option {
	return func(w *Workflow) { w.audit = r }
}

func WithLogger(log *logrus.Logger) Option {
	return func(w *Workflow) { w.log = log.WithField("module", "workflow") }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(w *Workflow) { w.newID = newID }
}

// WithTxTimeout bounds lock acquisition plus the unit of work of one action.
func WithTxTimeout(d time.Duration) Option {
	return func(w *Workflow) { w.txTimeout = d }
}

func NewWorkflow(store port.Store, locker port.Locker, opts ...Option) *Workflow {
	w := &Workflow{
		store:     store,
		locker:    locker,
		audit:     nopRecorder{},
		log:       logrus.StandardLogger().WithField("module", "workflow"),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		txTimeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ledger = Ledger{now: w.now, newID: w.newID}
	w.requests = RequestStore{now: w.now}
	return w
}

func (w *Workflow) ListResources(ctx context.Context, actor domain.Identity) (iter.Seq2[domain.Resource, error], error) {
	if err := domain.Authorize(actor, domain.ActionViewCatalog); err != nil {
		return nil, err
	}
	return w.store.ListResources(ctx), nil
}

func (w *Workflow) AddResource(ctx context.Context, actor domain.Identity, name string, quantity int) (res domain.Resource, err error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.AddResource")
	defer func() { w.finish(span, "add_resource", actor, err) }()

	if err = domain.Authorize(actor, domain.ActionManageInventory); err != nil {
		return domain.Resource{}, err
	}

	err = w.atomically(ctx, nil, func(ctx context.Context, tx port.Tx) error {
		var err error
		res, err = w.ledger.AddResource(ctx, tx, name, quantity)
		return err
	})
	if err != nil {
		return domain.Resource{}, err
	}

	w.log.WithFields(logrus.Fields{
		"actor":       actor.ID,
		"resource_id": res.ID,
		"name":        res.Name,
		"quantity":    res.TotalQuantity,
	}).Info("resource added")
	return res, nil
}

func (w *Workflow) AddStock(ctx context.Context, actor domain.Identity, resourceID string, quantity int) (res domain.Resource, err error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.AddStock", trace.WithAttributes(attribute.String("resource.id", resourceID)))
	defer func() { w.finish(span, "add_stock", actor, err) }()

	if err = domain.Authorize(actor, domain.ActionManageInventory); err != nil {
		return domain.Resource{}, err
	}

	err = w.atomically(ctx, []string{resourceKey(resourceID)}, func(ctx context.Context, tx port.Tx) error {
		var err error
		res, err = w.ledger.AddStock(ctx, tx, resourceID, quantity)
		return err
	})
	if err != nil {
		return domain.Resource{}, err
	}

	w.log.WithFields(logrus.Fields{
		"actor":       actor.ID,
		"resource_id": res.ID,
		"added":       quantity,
		"available":   res.AvailableQuantity,
	}).Info("stock added")
	return res, nil
}

func (w *Workflow) RemoveResource(ctx context.Context, actor domain.Identity, resourceID string) (res domain.Resource, err error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.RemoveResource", trace.WithAttributes(attribute.String("resource.id", resourceID)))
	defer func() { w.finish(span, "remove_resource", actor, err) }()

	if err = domain.Authorize(actor, domain.ActionManageInventory); err != nil {
		return domain.Resource{}, err
	}

	err = w.atomically(ctx, []string{resourceKey(resourceID)}, func(ctx context.Context, tx port.Tx) error {
		var err error
		res, err = w.ledger.RemoveResource(ctx, tx, resourceID)
		return err
	})
	if err != nil {
		return domain.Resource{}, err
	}

	w.log.WithFields(logrus.Fields{"actor": actor.ID, "resource_id": res.ID}).Info("resource removed")
	return res, nil
}

type SubmitInput struct {
	ResourceID string
	Reason     string
	// IdempotencyKey, when set, makes a retried submission return the
	// request created by the first attempt.
	IdempotencyKey string
}

func (w *Workflow) Submit(ctx context.Context, actor domain.Identity, in SubmitInput) (req domain.Request, err error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Submit", trace.WithAttributes(attribute.String("resource.id", in.ResourceID)))
	defer func() { w.finish(span, "submit", actor, err) }()

	if err = domain.Authorize(actor, domain.ActionSubmit); err != nil {
		return domain.Request{}, err
	}

	id := w.newID()
	if in.IdempotencyKey != "" && w.cache != nil {
		key := "submit:" + actor.ID + ":" + in.IdempotencyKey
		var bound string
		var claimed bool
		bound, claimed, err = w.cache.ClaimIdempotency(ctx, key, id)
		if err != nil {
			return domain.Request{}, fmt.Errorf("submit: %w", err)
		}
		if !claimed {
			return w.replaySubmit(ctx, bound)
		}
		defer func() {
			if err == nil {
				return
			}
			if releaseErr := w.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
				w.log.WithError(releaseErr).WithField("key", key).Warn("release idempotency key")
			}
		}()
	}

	err = w.atomically(ctx, []string{resourceKey(in.ResourceID)}, func(ctx context.Context, tx port.Tx) error {
		var err error
		req, err = w.requests.Create(ctx, tx, id, actor.ID, in.ResourceID, in.Reason)
		return err
	})
	if err != nil {
		return domain.Request{}, err
	}

	w.record(req, "", actor)
	w.log.WithFields(logrus.Fields{
		"actor":       actor.ID,
		"request_id":  req.ID,
		"resource_id": req.ResourceID,
	}).Info("request submitted")
	return req, nil
}

func (w *Workflow) replaySubmit(ctx context.Context, requestID string) (domain.Request, error) {
	existing, err := w.store.GetRequest(ctx, requestID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Request{}, fmt.Errorf("%w: a submission with this idempotency key is still in progress", domain.ErrConflict)
	}
	if err != nil {
		return domain.Request{}, err
	}
	return *existing, nil
}

func (w *Workflow) Approve(ctx context.Context, actor domain.Identity, requestID string) (domain.Request, error) {
	return w.Decide(ctx, actor, requestID, domain.RequestStatusManagerApproved)
}

func (w *Workflow) Reject(ctx context.Context, actor domain.Identity, requestID string) (domain.Request, error) {
	return w.Decide(ctx, actor, requestID, domain.RequestStatusRejected)
}

// Decide applies a manager decision. Only manager_approved and rejected are
// accepted as targets.
func (w *Workflow) Decide(ctx context.Context, actor domain.Identity, requestID string, to domain.RequestStatus) (req domain.Request, err error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Decide", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.to_status", string(to)),
	))
	defer func() { w.finish(span, "decide", actor, err) }()

	if err = domain.Authorize(actor, domain.ActionDecide); err != nil {
		return domain.Request{}, err
	}
	if to != domain.RequestStatusManagerApproved && to != domain.RequestStatusRejected {
		return domain.Request{}, fmt.Errorf("%w: decision must be %s or %s, got %q",
			domain.ErrValidation, domain.RequestStatusManagerApproved, domain.RequestStatusRejected, to)
	}

	err = w.atomically(ctx, []string{requestKey(requestID)}, func(ctx context.Context, tx port.Tx) error {
		var err error
		req, _, err = w.requests.Transition(ctx, tx, requestID, []domain.RequestStatus{domain.RequestStatusPending}, to, actor.ID)
		return err
	})
	if err != nil {
		return domain.Request{}, err
	}

	req.ResourceName = w.resourceName(ctx, req.ResourceID)
	w.record(req, domain.RequestStatusPending, actor)
	w.log.WithFields(logrus.Fields{
		"actor":      actor.ID,
		"request_id": req.ID,
		"status":     req.Status,
	}).Info("request decided")
	return req, nil
}

// Fulfill issues the item of an approved request: the stock decrement and the
// status change commit together or not at all.
func (w *Workflow) Fulfill(ctx context.Context, actor domain.Identity, requestID string) (req domain.Request, err error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Fulfill", trace.WithAttributes(attribute.String("request.id", requestID)))
	defer func() { w.finish(span, "fulfill", actor, err) }()

	if err = domain.Authorize(actor, domain.ActionFulfill); err != nil {
		return domain.Request{}, err
	}

	// resource_id never changes, so an unlocked read is enough to pick the locks
	snapshot, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}

	var res domain.Resource
	keys := []string{resourceKey(snapshot.ResourceID), requestKey(requestID)}
	err = w.atomically(ctx, keys, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.LockResource(ctx, snapshot.ResourceID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return finishedRequest(ctx, tx, requestID, err)
			}
			return err
		}
		var err error
		req, _, err = w.requests.Transition(ctx, tx, requestID,
			[]domain.RequestStatus{domain.RequestStatusManagerApproved}, domain.RequestStatusFulfilled, actor.ID)
		if err != nil {
			return err
		}
		res, err = w.ledger.DecrementOnIssue(ctx, tx, req.ResourceID)
		return err
	})
	if err != nil {
		return domain.Request{}, err
	}

	req.ResourceName = res.Name
	w.record(req, domain.RequestStatusManagerApproved, actor)
	w.log.WithFields(logrus.Fields{
		"actor":       actor.ID,
		"request_id":  req.ID,
		"resource_id": res.ID,
		"available":   res.AvailableQuantity,
	}).Info("request fulfilled")
	return req, nil
}

// resourceName looks the name up after a commit. Removed resources still
// resolve; a failed lookup only leaves the name empty.
func (w *Workflow) resourceName(ctx context.Context, resourceID string) string {
	res, err := w.store.LookupResource(ctx, resourceID)
	if err != nil {
		w.log.WithError(err).WithField("resource_id", resourceID).Warn("resolve resource name")
		return ""
	}
	return res.Name
}

// finishedRequest reports a fulfill attempt on a request whose resource has been
// removed. Removal waits for open requests, so the request is normally past
// manager_approved and the retry gets InvalidState rather than NotFound.
func finishedRequest(ctx context.Context, tx port.Tx, requestID string, lockErr error) error {
	current, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if current.Status != domain.RequestStatusManagerApproved {
		return fmt.Errorf("%w: request %s is %s", domain.ErrInvalidState, current.ID, current.Status)
	}
	return lockErr
}

func (w *Workflow) ListPending(ctx context.Context, actor domain.Identity) (iter.Seq2[domain.Request, error], error) {
	if err := domain.Authorize(actor, domain.ActionListPending); err != nil {
		return nil, err
	}
	return w.store.ListRequestsByStatus(ctx, domain.RequestStatusPending), nil
}

// ListApproved lists requests approved and waiting to be issued.
func (w *Workflow) ListApproved(ctx context.Context, actor domain.Identity) (iter.Seq2[domain.Request, error], error) {
	if err := domain.Authorize(actor, domain.ActionListApproved); err != nil {
		return nil, err
	}
	return w.store.ListRequestsByStatus(ctx, domain.RequestStatusManagerApproved), nil
}

func (w *Workflow) ListOwnRequests(ctx context.Context, actor domain.Identity) (iter.Seq2[domain.Request, error], error) {
	return w.ListEmployeeRequests(ctx, actor, actor.ID)
}

func (w *Workflow) ListEmployeeRequests(ctx context.Context, actor domain.Identity, employee string) (iter.Seq2[domain.Request, error], error) {
	action := domain.ActionViewAnyHistory
	if employee == actor.ID {
		action = domain.ActionViewOwnHistory
	}
	if err := domain.Authorize(actor, action); err != nil {
		return nil, err
	}
	return w.store.ListRequestsByEmployee(ctx, employee), nil
}

// GetRequest returns a request the actor may see. Requests of other employees
// look missing to roles that cannot view them.
func (w *Workflow) GetRequest(ctx context.Context, actor domain.Identity, requestID string) (domain.Request, error) {
	if err := domain.Authorize(actor, domain.ActionViewOwnHistory); err != nil {
		return domain.Request{}, err
	}

	req, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if req.EmployeeIdentity != actor.ID && !domain.CanPerform(actor.Role, domain.ActionViewAnyHistory) {
		return domain.Request{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
	}
	return *req, nil
}

func (w *Workflow) RequestHistory(ctx context.Context, actor domain.Identity, requestID string) ([]domain.RequestEvent, error) {
	if _, err := w.GetRequest(ctx, actor, requestID); err != nil {
		return nil, err
	}
	return w.store.ListEvents(ctx, requestID)
}

func (w *Workflow) SubmitWish(ctx context.Context, actor domain.Identity, itemName, reason string) (domain.WishlistItem, error) {
	if err := domain.Authorize(actor, domain.ActionSubmit); err != nil {
		return domain.WishlistItem{}, err
	}

	item, err := domain.NewWishlistItem(w.newID(), actor.ID, itemName, reason, w.now())
	if err != nil {
		return domain.WishlistItem{}, err
	}
	if err := w.store.InsertWishlistItem(ctx, item); err != nil {
		return domain.WishlistItem{}, err
	}

	w.log.WithFields(logrus.Fields{"actor": actor.ID, "item": item.ItemName}).Info("wishlist item added")
	return item, nil
}

func (w *Workflow) ListWishlist(ctx context.Context, actor domain.Identity) (iter.Seq2[domain.WishlistItem, error], error) {
	if err := domain.Authorize(actor, domain.ActionViewWishlist); err != nil {
		return nil, err
	}
	return w.store.ListWishlistItems(ctx), nil
}

// atomically runs fn as one unit of work while holding keys, acquired in the
// given order. Running out of time is reported as a retryable conflict.
func (w *Workflow) atomically(ctx context.Context, keys []string, fn func(ctx context.Context, tx port.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, w.txTimeout)
	defer cancel()

	for _, key := range keys {
		release, err := w.locker.Acquire(ctx, key)
		if err != nil {
			return timeoutAsConflict(err)
		}
		defer release()
	}

	return timeoutAsConflict(w.store.WithinTx(ctx, fn))
}

func timeoutAsConflict(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func (w *Workflow) record(req domain.Request, from domain.RequestStatus, actor domain.Identity) {
	w.audit.Record(domain.RequestEvent{
		ID:         w.newID(),
		RequestID:  req.ID,
		Actor:      actor.ID,
		FromStatus: from,
		ToStatus:   req.Status,
		OccurredAt: req.UpdatedAt,
	})
}

func (w *Workflow) finish(span trace.Span, op string, actor domain.Identity, err error) {
	defer span.End()
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	entry := w.log.WithError(err).WithFields(logrus.Fields{
		"op":    op,
		"actor": actor.ID,
		"role":  actor.Role,
	})
	if isDomainError(err) {
		entry.Debug("action refused")
		return
	}
	entry.Error("action failed")
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrValidation, domain.ErrNotFound, domain.ErrForbidden,
		domain.ErrInvalidState, domain.ErrOutOfStock, domain.ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func resourceKey(id string) string { return "resource:" + id }

func requestKey(id string) string { return "request:" + id }

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := make([]T, 0)
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
