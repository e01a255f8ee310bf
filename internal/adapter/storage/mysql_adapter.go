package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

// MySQL server error numbers the adapter translates.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

const resourceColumns = `id, name, total_quantity, available_quantity, version, created_at, updated_at, removed_at`

const requestColumns = `id, employee_identity, resource_id, reason, status,
	decided_by, decided_at, fulfilled_by, fulfilled_at, created_at, updated_at`

// requestView joins the resource name, removed resources included.
const requestView = `SELECT r.id, r.employee_identity, r.resource_id, r.reason, r.status,
	r.decided_by, r.decided_at, r.fulfilled_by, r.fulfilled_at, r.created_at, r.updated_at, res.name
	FROM requests r JOIN resources res ON res.id = r.resource_id`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

var _ port.Store = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translate(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	return nil
}

func (m *MySQLAdapter) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	return getResource(ctx, m.db, `SELECT `+resourceColumns+` FROM resources WHERE id = ? AND removed_at IS NULL`, id)
}

func (m *MySQLAdapter) LookupResource(ctx context.Context, id string) (*domain.Resource, error) {
	return getResource(ctx, m.db, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
}

func (m *MySQLAdapter) ListResources(ctx context.Context) iter.Seq2[domain.Resource, error] {
	return queryAll(ctx, m.db, scanResource, `
		SELECT `+resourceColumns+`
		FROM resources WHERE removed_at IS NULL
		ORDER BY active_name, id`)
}

func (m *MySQLAdapter) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	return getRequest(ctx, m.db, scanRequestView, requestView+` WHERE r.id = ?`, id)
}

func (m *MySQLAdapter) ListRequestsByStatus(ctx context.Context, status domain.RequestStatus) iter.Seq2[domain.Request, error] {
	return queryAll(ctx, m.db, scanRequestView, requestView+`
		WHERE r.status = ?
		ORDER BY r.created_at, r.id`, status)
}

func (m *MySQLAdapter) ListRequestsByEmployee(ctx context.Context, identity string) iter.Seq2[domain.Request, error] {
	return queryAll(ctx, m.db, scanRequestView, requestView+`
		WHERE r.employee_identity = ?
		ORDER BY r.created_at, r.id`, identity)
}

func (m *MySQLAdapter) AppendEvents(ctx context.Context, events ...domain.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*6)
	for _, ev := range events {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		args = append(args, ev.ID, ev.RequestID, ev.Actor, nullString(string(ev.FromStatus)), ev.ToStatus, ev.OccurredAt)
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO request_events (id, request_id, actor, from_status, to_status, occurred_at)
		VALUES `+strings.Join(placeholders, ", "), args...)
	if err != nil {
		return fmt.Errorf("insert request events: %w", translate(err))
	}
	return nil
}

func (m *MySQLAdapter) ListEvents(ctx context.Context, requestID string) ([]domain.RequestEvent, error) {
	var events []domain.RequestEvent
	for ev, err := range queryAll(ctx, m.db, scanEvent, `
		SELECT id, request_id, actor, from_status, to_status, occurred_at
		FROM request_events WHERE request_id = ?
		ORDER BY occurred_at, id`, requestID) {
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (m *MySQLAdapter) InsertWishlistItem(ctx context.Context, item domain.WishlistItem) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO wishlist_items (id, employee_identity, item_name, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.EmployeeIdentity, item.ItemName, item.Reason, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wishlist item: %w", translate(err))
	}
	return nil
}

func (m *MySQLAdapter) ListWishlistItems(ctx context.Context) iter.Seq2[domain.WishlistItem, error] {
	return queryAll(ctx, m.db, scanWishlistItem, `
		SELECT id, employee_identity, item_name, reason, created_at
		FROM wishlist_items ORDER BY created_at, id`)
}

type mysqlTx struct {
	q queryer
}

func (t *mysqlTx) InsertResource(ctx context.Context, res domain.Resource) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO resources (id, name, active_name, total_quantity, available_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Name, domain.NameKey(res.Name), res.TotalQuantity, res.AvailableQuantity,
		res.Version, res.CreatedAt, res.UpdatedAt,
	)
	if isMySQLError(err, mysqlErrDuplicateEntry) {
		return errDuplicateName(res.Name)
	}
	if err != nil {
		return fmt.Errorf("insert resource: %w", translate(err))
	}
	return nil
}

func (t *mysqlTx) LockResource(ctx context.Context, id string) (*domain.Resource, error) {
	return getResource(ctx, t.q, `SELECT `+resourceColumns+` FROM resources WHERE id = ? AND removed_at IS NULL FOR UPDATE`, id)
}

func (t *mysqlTx) UpdateResource(ctx context.Context, res *domain.Resource) error {
	var activeName sql.NullString
	if !res.Removed() {
		activeName = nullString(domain.NameKey(res.Name))
	}

	result, err := t.q.ExecContext(ctx, `
		UPDATE resources
		SET active_name = ?, total_quantity = ?, available_quantity = ?,
			version = version + 1, updated_at = ?, removed_at = ?
		WHERE id = ? AND version = ?`,
		activeName, res.TotalQuantity, res.AvailableQuantity, res.UpdatedAt, res.RemovedAt,
		res.ID, res.Version,
	)
	if err != nil {
		return fmt.Errorf("update resource: %w", translate(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	res.Version++
	return nil
}

func (t *mysqlTx) CountOpenRequests(ctx context.Context, resourceID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requests
		WHERE resource_id = ? AND status IN (?, ?)`,
		resourceID, domain.RequestStatusPending, domain.RequestStatusManagerApproved,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open requests: %w", translate(err))
	}
	return n, nil
}

func (t *mysqlTx) InsertRequest(ctx context.Context, req domain.Request) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO requests (id, employee_identity, resource_id, reason, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.EmployeeIdentity, req.ResourceID, req.Reason, req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", translate(err))
	}
	return nil
}

func (t *mysqlTx) LockRequest(ctx context.Context, id string) (*domain.Request, error) {
	return getRequest(ctx, t.q, scanRequest, `SELECT `+requestColumns+` FROM requests WHERE id = ? FOR UPDATE`, id)
}

func (t *mysqlTx) UpdateRequest(ctx context.Context, req domain.Request, from domain.RequestStatus) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, decided_by = ?, decided_at = ?, fulfilled_by = ?, fulfilled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		req.Status, req.DecidedBy, req.DecidedAt, req.FulfilledBy, req.FulfilledAt, req.UpdatedAt,
		req.ID, from,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", translate(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: request %s is no longer %s", domain.ErrInvalidState, req.ID, from)
	}
	return nil
}

func getResource(ctx context.Context, q queryer, query string, id string) (*domain.Resource, error) {
	res, err := scanResource(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errResourceNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query resource: %w", translate(err))
	}
	return &res, nil
}

func getRequest(ctx context.Context, q queryer, scan func(scanner) (domain.Request, error), query string, id string) (*domain.Request, error) {
	req, err := scan(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errRequestNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", translate(err))
	}
	return &req, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// queryAll runs the query each time the sequence is ranged over.
func queryAll[T any](ctx context.Context, q queryer, scan func(scanner) (T, error), query string, args ...any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			yield(zero, fmt.Errorf("query: %w", translate(err)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				yield(zero, fmt.Errorf("scan: %w", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("iterate rows: %w", translate(err)))
		}
	}
}

func scanResource(s scanner) (domain.Resource, error) {
	var res domain.Resource
	var removedAt sql.NullTime
	err := s.Scan(&res.ID, &res.Name, &res.TotalQuantity, &res.AvailableQuantity, &res.Version,
		&res.CreatedAt, &res.UpdatedAt, &removedAt)
	res.RemovedAt = timePtr(removedAt)
	return res, err
}

func scanRequest(s scanner) (domain.Request, error) {
	return scanRequestWith(s)
}

func scanRequestView(s scanner) (domain.Request, error) {
	var name string
	req, err := scanRequestWith(s, &name)
	req.ResourceName = name
	return req, err
}

func scanRequestWith(s scanner, extra ...any) (domain.Request, error) {
	var req domain.Request
	var decidedBy, fulfilledBy sql.NullString
	var decidedAt, fulfilledAt sql.NullTime
	dest := []any{&req.ID, &req.EmployeeIdentity, &req.ResourceID, &req.Reason, &req.Status,
		&decidedBy, &decidedAt, &fulfilledBy, &fulfilledAt, &req.CreatedAt, &req.UpdatedAt}
	err := s.Scan(append(dest, extra...)...)
	req.DecidedBy = stringPtr(decidedBy)
	req.DecidedAt = timePtr(decidedAt)
	req.FulfilledBy = stringPtr(fulfilledBy)
	req.FulfilledAt = timePtr(fulfilledAt)
	return req, err
}

func scanEvent(s scanner) (domain.RequestEvent, error) {
	var ev domain.RequestEvent
	var from sql.NullString
	err := s.Scan(&ev.ID, &ev.RequestID, &ev.Actor, &from, &ev.ToStatus, &ev.OccurredAt)
	ev.FromStatus = domain.RequestStatus(from.String)
	return ev, err
}

func scanWishlistItem(s scanner) (domain.WishlistItem, error) {
	var item domain.WishlistItem
	err := s.Scan(&item.ID, &item.EmployeeIdentity, &item.ItemName, &item.Reason, &item.CreatedAt)
	return item, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

// translate turns lock contention into the retryable domain conflict.
func translate(err error) error {
	if isMySQLError(err, mysqlErrLockWaitTimeout) || isMySQLError(err, mysqlErrDeadlock) {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}
