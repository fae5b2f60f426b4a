package grpc

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// publicPrefixes are served without an access token.
var publicPrefixes = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.v1.ServerReflection/",
	"/grpc.reflection.v1alpha.ServerReflection/",
}

func isPublic(method string) bool {
	for _, p := range publicPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// accessTokenInterceptor requires a valid access token on every non-public
// method, read from "authorization: Bearer <t>" or "access_token: <t>", and
// stores the principal in the context.
func (s *Server) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if isPublic(info.FullMethod) {
		return handler(ctx, req)
	}

	accessToken := tokenFromMetadata(ctx)
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	p, err := s.access.Authenticate(accessToken)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
	}

	return handler(auth.WithPrincipal(ctx, p), req)
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get("authorization"); len(values) > 0 {
		if token, ok := auth.BearerToken(values[0]); ok {
			return token
		}
	}
	if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// loggingInterceptor scopes a logger with request id, method and peer to
// the call and writes one line when it finishes.
func loggingInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		var rid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 && v[0] != "" {
				rid = v[0]
			}
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		peerAddr := "-"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			peerAddr = p.Addr.String()
		}

		l := base.With("request_id", rid, "method", info.FullMethod, "peer", peerAddr)
		ctx = logging.Into(ctx, l)

		resp, err := handler(ctx, req)

		l.Info(ctx, "grpc", "code", status.Code(err).String(), "dur", time.Since(start))
		return resp, err
	}
}

// recoverInterceptor answers a panicking handler with codes.Internal.
func recoverInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logging.From(ctx, base).Error(ctx, "panic recovered",
					"method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				resp, err = nil, status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
