package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/resource-allocator/internal/core/domain"
)

const serviceName = "allocator.v1.Allocator"

type Empty struct{}

type AddResourceRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type AddStockRequest struct {
	ResourceID string `json:"resource_id"`
	Quantity   int    `json:"quantity"`
}

type ResourceRef struct {
	ResourceID string `json:"resource_id"`
}

type SubmitRequest struct {
	ResourceID     string `json:"resource_id"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type RequestRef struct {
	RequestID string `json:"request_id"`
}

type DecideRequest struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type EmployeeRef struct {
	Identity string `json:"identity"`
}

type WishRequest struct {
	ItemName string `json:"item_name"`
	Reason   string `json:"reason"`
}

type ResourceList struct {
	Resources []domain.Resource `json:"resources"`
}

type RequestList struct {
	Requests []domain.Request `json:"requests"`
}

type EventList struct {
	Events []domain.RequestEvent `json:"events"`
}

type Wishlist struct {
	Items []domain.WishlistItem `json:"items"`
}

// AllocatorServer is the server side of allocator.v1.Allocator.
type AllocatorServer interface {
	ListResources(context.Context, *Empty) (*ResourceList, error)
	AddResource(context.Context, *AddResourceRequest) (*domain.Resource, error)
	AddStock(context.Context, *AddStockRequest) (*domain.Resource, error)
	RemoveResource(context.Context, *ResourceRef) (*domain.Resource, error)
	Submit(context.Context, *SubmitRequest) (*domain.Request, error)
	Decide(context.Context, *DecideRequest) (*domain.Request, error)
	Fulfill(context.Context, *RequestRef) (*domain.Request, error)
	ListPending(context.Context, *Empty) (*RequestList, error)
	ListApproved(context.Context, *Empty) (*RequestList, error)
	ListOwnRequests(context.Context, *Empty) (*RequestList, error)
	ListEmployeeRequests(context.Context, *EmployeeRef) (*RequestList, error)
	GetRequest(context.Context, *RequestRef) (*domain.Request, error)
	RequestHistory(context.Context, *RequestRef) (*EventList, error)
	SubmitWish(context.Context, *WishRequest) (*domain.WishlistItem, error)
	ListWishlist(context.Context, *Empty) (*Wishlist, error)
}

var allocatorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AllocatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListResources", AllocatorServer.ListResources),
		unary("AddResource", AllocatorServer.AddResource),
		unary("AddStock", AllocatorServer.AddStock),
		unary("RemoveResource", AllocatorServer.RemoveResource),
		unary("Submit", AllocatorServer.Submit),
		unary("Decide", AllocatorServer.Decide),
		unary("Fulfill", AllocatorServer.Fulfill),
		unary("ListPending", AllocatorServer.ListPending),
		unary("ListApproved", AllocatorServer.ListApproved),
		unary("ListOwnRequests", AllocatorServer.ListOwnRequests),
		unary("ListEmployeeRequests", AllocatorServer.ListEmployeeRequests),
		unary("GetRequest", AllocatorServer.GetRequest),
		unary("RequestHistory", AllocatorServer.RequestHistory),
		unary("SubmitWish", AllocatorServer.SubmitWish),
		unary("ListWishlist", AllocatorServer.ListWishlist),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAllocatorServer(s grpc.ServiceRegistrar, srv AllocatorServer) {
	s.RegisterService(&allocatorServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(AllocatorServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AllocatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AllocatorServer), ctx, req.(*Req))
			})
		},
	}
}

// AllocatorClient calls allocator.v1.Allocator using the JSON codec.
type AllocatorClient struct {
	cc grpc.ClientConnInterface
}

func NewAllocatorClient(cc grpc.ClientConnInterface) *AllocatorClient {
	return &AllocatorClient{cc: cc}
}

// WithBearer attaches a bearer token to outgoing calls made with ctx.
func WithBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func invoke[Resp any](ctx context.Context, c *AllocatorClient, method string, in any) (*Resp, error) {
	out := new(Resp)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocatorClient) ListResources(ctx context.Context) (*ResourceList, error) {
	return invoke[ResourceList](ctx, c, "ListResources", &Empty{})
}

func (c *AllocatorClient) AddResource(ctx context.Context, in *AddResourceRequest) (*domain.Resource, error) {
	return invoke[domain.Resource](ctx, c, "AddResource", in)
}

func (c *AllocatorClient) AddStock(ctx context.Context, in *AddStockRequest) (*domain.Resource, error) {
	return invoke[domain.Resource](ctx, c, "AddStock", in)
}

func (c *AllocatorClient) RemoveResource(ctx context.Context, in *ResourceRef) (*domain.Resource, error) {
	return invoke[domain.Resource](ctx, c, "RemoveResource", in)
}

func (c *AllocatorClient) Submit(ctx context.Context, in *SubmitRequest) (*domain.Request, error) {
	return invoke[domain.Request](ctx, c, "Submit", in)
}

func (c *AllocatorClient) Decide(ctx context.Context, in *DecideRequest) (*domain.Request, error) {
	return invoke[domain.Request](ctx, c, "Decide", in)
}

func (c *AllocatorClient) Fulfill(ctx context.Context, in *RequestRef) (*domain.Request, error) {
	return invoke[domain.Request](ctx, c, "Fulfill", in)
}

func (c *AllocatorClient) ListPending(ctx context.Context) (*RequestList, error) {
	return invoke[RequestList](ctx, c, "ListPending", &Empty{})
}

func (c *AllocatorClient) ListApproved(ctx context.Context) (*RequestList, error) {
	return invoke[RequestList](ctx, c, "ListApproved", &Empty{})
}

func (c *AllocatorClient) ListOwnRequests(ctx context.Context) (*RequestList, error) {
	return invoke[RequestList](ctx, c, "ListOwnRequests", &Empty{})
}

func (c *AllocatorClient) ListEmployeeRequests(ctx context.Context, in *EmployeeRef) (*RequestList, error) {
	return invoke[RequestList](ctx, c, "ListEmployeeRequests", in)
}

func (c *AllocatorClient) GetRequest(ctx context.Context, in *RequestRef) (*domain.Request, error) {
	return invoke[domain.Request](ctx, c, "GetRequest", in)
}

func (c *AllocatorClient) RequestHistory(ctx context.Context, in *RequestRef) (*EventList, error) {
	return invoke[EventList](ctx, c, "RequestHistory", in)
}

func (c *AllocatorClient) SubmitWish(ctx context.Context, in *WishRequest) (*domain.WishlistItem, error) {
	return invoke[domain.WishlistItem](ctx, c, "SubmitWish", in)
}

func (c *AllocatorClient) ListWishlist(ctx context.Context) (*Wishlist, error) {
	return invoke[Wishlist](ctx, c, "ListWishlist", &Empty{})
}
