package agent

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoAgent struct {
	answer string
	err    error
	got    chan string
}

func (e *echoAgent) Answer(_ context.Context, prompt string) (string, error) {
	if e.got != nil {
		e.got <- prompt
	}
	return e.answer, e.err
}

func bufconnConfig(lis *bufconn.Listener, token string) GrpcClientConfig {
	cfg := DefaultGrpcClientConfig("passthrough:///bufnet", token)
	cfg.ConnectTimeout = 2 * time.Second
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	return cfg
}

func startRemote(t *testing.T, impl QueryAgent, serverToken, clientToken string) *RemoteAgent {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewRemoteServer(impl, serverToken, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewRemoteAgent(bufconnConfig(lis, clientToken), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRemoteAgentAnswer(t *testing.T) {
	impl := &echoAgent{answer: "MAO is 2 days", got: make(chan string, 1)}
	client := startRemote(t, impl, "secret", "secret")

	got, err := client.Answer(context.Background(), "What is the MAO for Payroll?")
	require.NoError(t, err)
	assert.Equal(t, "MAO is 2 days", got)
	assert.Equal(t, "What is the MAO for Payroll?", <-impl.got)
	require.NoError(t, client.Health(context.Background()))
	require.NoError(t, NewService(client, "grpc", "", 0, nil).Health(context.Background()))
}

func TestRemoteAgentRequiresServingHealth(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(RemoteServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	_, err := NewRemoteAgent(bufconnConfig(lis, ""), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errNotServing)
}

func TestRemoteAgentRejectsBadToken(t *testing.T) {
	client := startRemote(t, &echoAgent{answer: "x"}, "secret", "wrong")

	_, err := client.Answer(context.Background(), "q")
	require.Error(t, err)
	st, ok := status.FromError(errors.Unwrap(err))
	require.True(t, ok)
	assert.Equal(t, codes.Unauthenticated, st.Code())
}

func TestRemoteAgentPropagatesFailure(t *testing.T) {
	client := startRemote(t, &echoAgent{err: errors.New("upstream down")}, "", "")

	_, err := client.Answer(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRemoteAgentEmptyAnswer(t *testing.T) {
	client := startRemote(t, &echoAgent{answer: "  "}, "", "")

	_, err := client.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}
