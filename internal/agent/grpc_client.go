package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// AnswerMethod is the unary RPC served by a remote query agent.
// Request and response are google.protobuf.StringValue.
const AnswerMethod = "/riskassistant.v1.QueryAgent/Answer"

// RemoteServiceName is reported to the gRPC health service.
const RemoteServiceName = "riskassistant.v1.QueryAgent"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("remote agent is not serving")
)

// RemoteAgent forwards prompts to a query agent service over gRPC.
// The remote side owns its own copy of the datasets.
type RemoteAgent struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	token  string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	Token            string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig(addr, token string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		Token:            token,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewRemoteAgent connects to the remote agent and waits until the connection
// is ready and the health service reports SERVING.
func NewRemoteAgent(cfg GrpcClientConfig, logger *slog.Logger) (*RemoteAgent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote agent at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("remote agent at %s not ready: %w", cfg.Address, err)
	}

	agent := &RemoteAgent{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		token:  cfg.Token,
		logger: logger,
	}
	if err := agent.Health(connectCtx); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after health failure", "error", closeErr)
		}
		return nil, fmt.Errorf("remote agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to remote query agent", "address", cfg.Address)
	return agent, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Answer sends the prompt and returns the remote answer.
func (c *RemoteAgent) Answer(ctx context.Context, prompt string) (string, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	out := &wrapperspb.StringValue{}
	if err := c.conn.Invoke(ctx, AnswerMethod, wrapperspb.String(prompt), out); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.DeadlineExceeded {
			return "", fmt.Errorf("remote agent timed out: %w", context.DeadlineExceeded)
		}
		return "", fmt.Errorf("remote agent call failed: %w", err)
	}

	answer := out.GetValue()
	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

// Health checks the remote agent through the standard health service.
func (c *RemoteAgent) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: RemoteServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (c *RemoteAgent) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}
