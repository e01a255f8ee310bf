package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/resource-allocator/internal/adapter/auth"
	"github.com/rl1809/resource-allocator/internal/core/domain"
)

type grpcFixture struct {
	client   *AllocatorClient
	verifier *auth.TokenVerifier
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	t.Helper()

	verifier := auth.NewTokenVerifier(testSecret)
	h := NewGRPCHandler(newWorkflow(), verifier, quietLogger())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(h.ServerOptions()...)
	RegisterAllocatorServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &grpcFixture{client: NewAllocatorClient(conn), verifier: verifier}
}

func (f *grpcFixture) as(t *testing.T, id domain.Identity) context.Context {
	t.Helper()
	token, err := f.verifier.Sign(id, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return WithBearer(ctx, token)
}

func TestGRPC_Unauthenticated(t *testing.T) {
	f := newGRPCFixture(t)

	_, err := f.client.ListResources(context.Background())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPC_Lifecycle(t *testing.T) {
	f := newGRPCFixture(t)

	laptop, err := f.client.AddResource(f.as(t, keeper), &AddResourceRequest{Name: "Laptop", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, laptop.AvailableQuantity)

	req, err := f.client.Submit(f.as(t, employee), &SubmitRequest{ResourceID: laptop.ID, Reason: "Need it for onboarding"})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusPending, req.Status)

	_, err = f.client.Decide(f.as(t, employee), &DecideRequest{RequestID: req.ID, Status: "manager_approved"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	pending, err := f.client.ListPending(f.as(t, manager))
	require.NoError(t, err)
	require.Len(t, pending.Requests, 1)

	_, err = f.client.Decide(f.as(t, manager), &DecideRequest{RequestID: req.ID, Status: "manager_approved"})
	require.NoError(t, err)
	_, err = f.client.Decide(f.as(t, manager), &DecideRequest{RequestID: req.ID, Status: "rejected"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	done, err := f.client.Fulfill(f.as(t, keeper), &RequestRef{RequestID: req.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusFulfilled, done.Status)

	resources, err := f.client.ListResources(f.as(t, employee))
	require.NoError(t, err)
	require.Len(t, resources.Resources, 1)
	assert.Equal(t, 0, resources.Resources[0].AvailableQuantity)

	got, err := f.client.GetRequest(f.as(t, employee), &RequestRef{RequestID: req.ID})
	require.NoError(t, err)
	require.NotNil(t, got.FulfilledBy)
	assert.Equal(t, keeper.ID, *got.FulfilledBy)

	mine, err := f.client.ListOwnRequests(f.as(t, employee))
	require.NoError(t, err)
	assert.Len(t, mine.Requests, 1)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	f := newGRPCFixture(t)

	mouse, err := f.client.AddResource(f.as(t, keeper), &AddResourceRequest{Name: "Mouse", Quantity: 1})
	require.NoError(t, err)

	var ids []string
	for range 2 {
		req, err := f.client.Submit(f.as(t, employee), &SubmitRequest{ResourceID: mouse.ID, Reason: "Mine is broken"})
		require.NoError(t, err)
		_, err = f.client.Decide(f.as(t, manager), &DecideRequest{RequestID: req.ID, Status: "manager_approved"})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	_, err = f.client.Fulfill(f.as(t, keeper), &RequestRef{RequestID: ids[0]})
	require.NoError(t, err)

	_, err = f.client.Submit(f.as(t, employee), &SubmitRequest{ResourceID: mouse.ID, Reason: "short"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.Decide(f.as(t, employee), &DecideRequest{RequestID: ids[1], Status: "bogus"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = f.client.GetRequest(f.as(t, manager), &RequestRef{RequestID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.client.Fulfill(f.as(t, keeper), &RequestRef{RequestID: ids[1]})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	_, err = f.client.RemoveResource(f.as(t, keeper), &ResourceRef{ResourceID: mouse.ID})
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = f.client.ListWishlist(f.as(t, employee))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestGRPC_RestockAndWishlist(t *testing.T) {
	f := newGRPCFixture(t)

	dock, err := f.client.AddResource(f.as(t, keeper), &AddResourceRequest{Name: "Dock", Quantity: 1})
	require.NoError(t, err)
	dock, err = f.client.AddStock(f.as(t, keeper), &AddStockRequest{ResourceID: dock.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, dock.TotalQuantity)
	assert.Equal(t, 3, dock.AvailableQuantity)

	_, err = f.client.SubmitWish(f.as(t, employee), &WishRequest{ItemName: "Ergonomic chair", Reason: "Long design reviews"})
	require.NoError(t, err)
	wishes, err := f.client.ListWishlist(f.as(t, manager))
	require.NoError(t, err)
	require.Len(t, wishes.Items, 1)

	history, err := f.client.ListEmployeeRequests(f.as(t, manager), &EmployeeRef{Identity: employee.ID})
	require.NoError(t, err)
	assert.Empty(t, history.Requests)

	removed, err := f.client.RemoveResource(f.as(t, keeper), &ResourceRef{ResourceID: dock.ID})
	require.NoError(t, err)
	assert.NotNil(t, removed.RemovedAt)
}
