package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

type RequestStatus string

const (
	RequestStatusPending         RequestStatus = "pending"
	RequestStatusManagerApproved RequestStatus = "manager_approved"
	RequestStatusRejected        RequestStatus = "rejected"
	RequestStatusFulfilled       RequestStatus = "fulfilled"
)

const (
	MinReasonLength = 10
	MaxReasonLength = 500
)

// transitions is the complete lifecycle; anything not listed is rejected.
var transitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:         {RequestStatusManagerApproved, RequestStatusRejected},
	RequestStatusManagerApproved: {RequestStatusFulfilled},
}

func ParseRequestStatus(s string) (RequestStatus, error) {
	status := RequestStatus(strings.TrimSpace(s))
	switch status {
	case RequestStatusPending, RequestStatusManagerApproved, RequestStatusRejected, RequestStatusFulfilled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown request status %q", ErrValidation, s)
}

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusRejected || s == RequestStatusFulfilled
}

func CanTransition(from, to RequestStatus) bool {
	return slices.Contains(transitions[from], to)
}

// OpenStatuses lists the non-terminal statuses.
func OpenStatuses() []RequestStatus {
	return []RequestStatus{RequestStatusPending, RequestStatusManagerApproved}
}

// Request is an employee's ask for one unit of a resource. ResourceName is
// resolved from the resource when the request is read and is not stored.
type Request struct {
	ID               string        `json:"id"`
	EmployeeIdentity string        `json:"employee_identity"`
	ResourceID       string        `json:"resource_id"`
	ResourceName     string        `json:"resource_name,omitempty"`
	Reason           string        `json:"reason"`
	Status           RequestStatus `json:"status"`
	DecidedBy        *string       `json:"decided_by"`
	DecidedAt        *time.Time    `json:"decided_at"`
	FulfilledBy      *string       `json:"fulfilled_by"`
	FulfilledAt      *time.Time    `json:"fulfilled_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NormalizeReason trims the reason and enforces its length bounds in runes.
func NormalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	n := utf8.RuneCountInString(reason)
	if n < MinReasonLength {
		return "", fmt.Errorf("%w: reason must be at least %d characters, got %d", ErrValidation, MinReasonLength, n)
	}
	if n > MaxReasonLength {
		return "", fmt.Errorf("%w: reason must be at most %d characters, got %d", ErrValidation, MaxReasonLength, n)
	}
	return reason, nil
}

// Transition moves the request to status to if its current status is one of
// allowed and the lifecycle defines the edge. The acting identity is recorded
// on the decision or fulfillment fields.
func (r *Request) Transition(allowed []RequestStatus, to RequestStatus, actor string, at time.Time) error {
	if !slices.Contains(allowed, r.Status) {
		return fmt.Errorf("%w: request %s is %s", ErrInvalidState, r.ID, r.Status)
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: request %s cannot move from %s to %s", ErrInvalidState, r.ID, r.Status, to)
	}

	switch to {
	case RequestStatusManagerApproved, RequestStatusRejected:
		r.DecidedBy = &actor
		r.DecidedAt = &at
	case RequestStatusFulfilled:
		r.FulfilledBy = &actor
		r.FulfilledAt = &at
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// RequestEvent is one entry of a request's audit trail.
type RequestEvent struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"request_id"`
	Actor      string        `json:"actor"`
	FromStatus RequestStatus `json:"from_status,omitempty"`
	ToStatus   RequestStatus `json:"to_status"`
	OccurredAt time.Time     `json:"occurred_at"`
}
