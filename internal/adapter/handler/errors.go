package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/resource-allocator/internal/adapter/auth"
	"github.com/rl1809/resource-allocator/internal/core/domain"
)

type errorKind struct {
	target error
	status int
	code   codes.Code
	name   string
}

// Order matters only for errors wrapping two kinds; the first match wins.
var errorKinds = []errorKind{
	{auth.ErrUnauthenticated, http.StatusUnauthorized, codes.Unauthenticated, "unauthenticated"},
	{domain.ErrValidation, http.StatusBadRequest, codes.InvalidArgument, "validation_error"},
	{domain.ErrNotFound, http.StatusNotFound, codes.NotFound, "not_found"},
	{domain.ErrForbidden, http.StatusForbidden, codes.PermissionDenied, "forbidden"},
	{domain.ErrInvalidState, http.StatusConflict, codes.FailedPrecondition, "invalid_state"},
	{domain.ErrOutOfStock, http.StatusConflict, codes.ResourceExhausted, "out_of_stock"},
	{domain.ErrConflict, http.StatusConflict, codes.Aborted, "conflict"},
}

var internalKind = errorKind{status: http.StatusInternalServerError, code: codes.Internal, name: "internal"}

func classify(err error) errorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k
		}
	}
	return internalKind
}

// ErrorBody is the JSON error envelope of both transports.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func errorBody(err error) (errorKind, ErrorBody) {
	k := classify(err)
	msg := err.Error()
	if k.name == internalKind.name {
		msg = "internal error"
	}
	return k, ErrorBody{Code: k.name, Message: msg, Retryable: domain.IsRetryable(err)}
}
