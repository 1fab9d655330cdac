package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/ashureev/risk-assistant/internal/agent"
)

func newAgentServerCmd(flags *Flags) *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "agent-server",
		Short: "Expose the configured query agent over gRPC",
		Long: "Runs the query agent behind a gRPC endpoint so other processes can use it " +
			"with AGENT_PROVIDER=grpc.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := Bootstrap(cmd.Context(), *flags, true)
			if err != nil {
				return err
			}
			defer app.Close()

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			srv := agent.NewRemoteServer(app.Agent, token, app.Logger)

			go func() {
				<-cmd.Context().Done()
				app.Logger.Info("Stopping agent server", "reason", cmd.Context().Err())
				srv.GracefulStop()
			}()

			app.Logger.Info("Agent server listening", "addr", lis.Addr().String(), "provider", app.Agent.Provider())
			return srv.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token clients must send (empty disables auth)")
	return cmd
}
