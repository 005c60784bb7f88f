package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SessionHeader carries the session id in request metadata.
const SessionHeader = "x-session-id"

type sessionKey struct{}

// SessionFromContext returns the session attached by
// SessionValidationInterceptor.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*session.Session)
	return sess, ok
}

// ChainUnaryInterceptors runs interceptors in order, the first outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor, inner := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, inner)
			}
		}
		return next(ctx, req)
	}
}

// RecoveryInterceptor turns handler panics into codes.Internal.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its outcome and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.OK, codes.NotFound, codes.FailedPrecondition, codes.Aborted:
			logger.Debug("rpc", fields...)
		case codes.Internal, codes.Unknown:
			logger.Error("rpc failed", append(fields, zap.Error(err))...)
		default:
			logger.Info("rpc failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// SessionValidationInterceptor resolves the x-session-id header into a live
// session for every method except those in public.
func SessionValidationInterceptor(sessions *session.Manager, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(public))
	for _, m := range public {
		open[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		ids := md.Get(SessionHeader)
		if len(ids) == 0 || ids[0] == "" {
			return nil, status.Errorf(codes.Unauthenticated, "missing %s", SessionHeader)
		}
		sess, ok := sessions.GetSession(ids[0])
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "session not found")
		}
		sess.UpdateActivity()
		return handler(context.WithValue(ctx, sessionKey{}, sess), req)
	}
}

// AdminInterceptor requires an admin session for the listed methods.
func AdminInterceptor(adminOnly ...string) grpc.UnaryServerInterceptor {
	gated := make(map[string]bool, len(adminOnly))
	for _, m := range adminOnly {
		gated[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !gated[info.FullMethod] {
			return handler(ctx, req)
		}
		sess, ok := SessionFromContext(ctx)
		if !ok || !sess.IsAdmin() {
			return nil, status.Errorf(codes.PermissionDenied, "admin session required")
		}
		return handler(ctx, req)
	}
}
