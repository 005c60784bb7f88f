package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{card.NotFound("x"), codes.NotFound},
		{card.Rejected("use", "x", "locked"), codes.FailedPrecondition},
		{fmt.Errorf("%w: timeout", card.ErrSourceUnavailable), codes.Unavailable},
		{fmt.Errorf("%w: write", card.ErrPersistence), codes.Unavailable},
		{session.ErrScanInFlight, codes.Aborted},
		{session.ErrStale, codes.Aborted},
		{session.ErrClosed, codes.Unauthenticated},
		{context.Canceled, codes.Canceled},
		{fmt.Errorf("lookup: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.InvalidArgument, "bad"), codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}

func TestCommitted(t *testing.T) {
	persisted, err := committed(nil)
	assert.True(t, persisted)
	assert.NoError(t, err)

	persisted, err = committed(fmt.Errorf("%w: cache down", card.ErrPersistence))
	assert.False(t, persisted)
	assert.NoError(t, err)

	persisted, err = committed(card.NotFound("x"))
	assert.False(t, persisted)
	assert.ErrorIs(t, err, card.ErrNotFound)
}

func TestChainRunsInterceptorsInOrder(t *testing.T) {
	var order []string
	mark := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}
	chain := ChainUnaryInterceptors(mark("a"), mark("b"), mark("c"))
	resp, err := chain(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/y"},
		func(ctx context.Context, req any) (any, error) {
			order = append(order, "handler")
			return req, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestRecoveryInterceptorReturnsInternal(t *testing.T) {
	interceptor := RecoveryInterceptor(zaptest.NewLogger(t))
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"},
		func(context.Context, any) (any, error) {
			panic("kaboom")
		})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestAdminInterceptorIgnoresUngatedMethods(t *testing.T) {
	interceptor := AdminInterceptor(FullMethod(MethodToggleLock))
	called := false
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodScan)},
		func(context.Context, any) (any, error) {
			called = true
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, called)

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodToggleLock)},
		func(context.Context, any) (any, error) { return nil, nil })
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
