package agent

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// answerServer is the handler type behind AnswerMethod.
type answerServer interface {
	Answer(ctx context.Context, prompt string) (string, error)
}

var remoteServiceDesc = grpc.ServiceDesc{
	ServiceName: RemoteServiceName,
	HandlerType: (*answerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Answer",
			Handler:    answerHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "riskassistant/v1/agent.proto",
}

func answerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		answer, err := srv.(answerServer).Answer(ctx, req.(*wrapperspb.StringValue).GetValue())
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return wrapperspb.String(answer), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnswerMethod}
	return interceptor(ctx, in, info, call)
}

// NewRemoteServer exposes agent over gRPC, requiring token as a bearer credential when set.
func NewRemoteServer(agent QueryAgent, token string, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(tokenInterceptor(token, logger)))
	srv.RegisterService(&remoteServiceDesc, agent)

	hs := health.NewServer()
	hs.SetServingStatus(RemoteServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func tokenInterceptor(token string, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || info.FullMethod != AnswerMethod {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var got string
		if vals := md.Get("authorization"); len(vals) > 0 {
			got = strings.TrimPrefix(vals[0], "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			logger.Warn("Rejected remote agent call", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(ctx, req)
	}
}
