package handler

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/resource-allocator/internal/adapter/auth"
	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/core/service"
)

type GRPCHandler struct {
	workflow *service.Workflow
	verifier *auth.TokenVerifier
	log      *logrus.Entry
}

var _ AllocatorServer = (*GRPCHandler)(nil)

func NewGRPCHandler(workflow *service.Workflow, verifier *auth.TokenVerifier, log *logrus.Logger) *GRPCHandler {
	return &GRPCHandler{
		workflow: workflow,
		verifier: verifier,
		log:      log.WithField("module", "grpc"),
	}
}

// ServerOptions returns the interceptors every call goes through.
func (h *GRPCHandler) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(h.logUnary, h.authUnary)}
}

func (h *GRPCHandler) ListResources(ctx context.Context, _ *Empty) (*ResourceList, error) {
	seq, err := h.workflow.ListResources(ctx, caller(ctx))
	items, err := collect(seq, err)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResourceList{Resources: items}, nil
}

func (h *GRPCHandler) AddResource(ctx context.Context, in *AddResourceRequest) (*domain.Resource, error) {
	res, err := h.workflow.AddResource(ctx, caller(ctx), in.Name, in.Quantity)
	return reply(&res, err)
}

func (h *GRPCHandler) AddStock(ctx context.Context, in *AddStockRequest) (*domain.Resource, error) {
	res, err := h.workflow.AddStock(ctx, caller(ctx), in.ResourceID, in.Quantity)
	return reply(&res, err)
}

func (h *GRPCHandler) RemoveResource(ctx context.Context, in *ResourceRef) (*domain.Resource, error) {
	res, err := h.workflow.RemoveResource(ctx, caller(ctx), in.ResourceID)
	return reply(&res, err)
}

func (h *GRPCHandler) Submit(ctx context.Context, in *SubmitRequest) (*domain.Request, error) {
	req, err := h.workflow.Submit(ctx, caller(ctx), service.SubmitInput{
		ResourceID:     in.ResourceID,
		Reason:         in.Reason,
		IdempotencyKey: in.IdempotencyKey,
	})
	return reply(&req, err)
}

func (h *GRPCHandler) Decide(ctx context.Context, in *DecideRequest) (*domain.Request, error) {
	if err := domain.Authorize(caller(ctx), domain.ActionDecide); err != nil {
		return nil, toStatus(err)
	}
	to, err := domain.ParseRequestStatus(in.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	req, err := h.workflow.Decide(ctx, caller(ctx), in.RequestID, to)
	return reply(&req, err)
}

func (h *GRPCHandler) Fulfill(ctx context.Context, in *RequestRef) (*domain.Request, error) {
	req, err := h.workflow.Fulfill(ctx, caller(ctx), in.RequestID)
	return reply(&req, err)
}

func (h *GRPCHandler) ListPending(ctx context.Context, _ *Empty) (*RequestList, error) {
	return requestList(h.workflow.ListPending(ctx, caller(ctx)))
}

func (h *GRPCHandler) ListApproved(ctx context.Context, _ *Empty) (*RequestList, error) {
	return requestList(h.workflow.ListApproved(ctx, caller(ctx)))
}

func (h *GRPCHandler) ListOwnRequests(ctx context.Context, _ *Empty) (*RequestList, error) {
	return requestList(h.workflow.ListOwnRequests(ctx, caller(ctx)))
}

func (h *GRPCHandler) ListEmployeeRequests(ctx context.Context, in *EmployeeRef) (*RequestList, error) {
	return requestList(h.workflow.ListEmployeeRequests(ctx, caller(ctx), in.Identity))
}

func (h *GRPCHandler) GetRequest(ctx context.Context, in *RequestRef) (*domain.Request, error) {
	req, err := h.workflow.GetRequest(ctx, caller(ctx), in.RequestID)
	return reply(&req, err)
}

func (h *GRPCHandler) RequestHistory(ctx context.Context, in *RequestRef) (*EventList, error) {
	events, err := h.workflow.RequestHistory(ctx, caller(ctx), in.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EventList{Events: events}, nil
}

func (h *GRPCHandler) SubmitWish(ctx context.Context, in *WishRequest) (*domain.WishlistItem, error) {
	item, err := h.workflow.SubmitWish(ctx, caller(ctx), in.ItemName, in.Reason)
	return reply(&item, err)
}

func (h *GRPCHandler) ListWishlist(ctx context.Context, _ *Empty) (*Wishlist, error) {
	seq, err := h.workflow.ListWishlist(ctx, caller(ctx))
	items, err := collect(seq, err)
	if err != nil {
		return nil, toStatus(err)
	}
	return &Wishlist{Items: items}, nil
}

func (h *GRPCHandler) authUnary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			token, _ = strings.CutPrefix(values[0], "Bearer ")
		}
	}

	id, err := h.verifier.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, toStatus(err)
	}
	return next(auth.WithIdentity(ctx, id), req)
}

func (h *GRPCHandler) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)

	code := status.Code(err)
	entry := h.log.WithFields(logrus.Fields{
		"method":  info.FullMethod,
		"code":    code.String(),
		"latency": time.Since(start).String(),
	})
	if code == codes.Internal || code == codes.Unknown {
		entry.WithError(err).Error("call failed")
		return resp, err
	}
	entry.Info("call handled")
	return resp, err
}

func toStatus(err error) error {
	kind, body := errorBody(err)
	return status.Error(kind.code, body.Message)
}

func reply[T any](v *T, err error) (*T, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return v, nil
}

func requestList(seq iter.Seq2[domain.Request, error], err error) (*RequestList, error) {
	items, err := collect(seq, err)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RequestList{Requests: items}, nil
}

func collect[T any](seq iter.Seq2[T, error], err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return service.Collect(seq)
}

func caller(ctx context.Context) domain.Identity {
	id, _ := auth.IdentityFrom(ctx)
	return id
}
