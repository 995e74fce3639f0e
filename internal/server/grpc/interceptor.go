package grpc

import (
	"context"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// authedStream overrides the stream context with one carrying the user id.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func (s *GRPCServer) accessTokenInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {

	if info.FullMethod != connectMethod {
		return handler(srv, ss)
	}

	ctx := ss.Context()

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := s.verifier.Verify(accessToken)
	if err != nil {
		s.logger.Warn(ctx, "stream rejected", "error", err)
		return status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(srv, &authedStream{ServerStream: ss, ctx: context.WithValue(ctx, userIDKey, userID)})
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
