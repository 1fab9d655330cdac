package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/risk-assistant/internal/api"
	"github.com/ashureev/risk-assistant/internal/identity"
	"github.com/ashureev/risk-assistant/internal/tui"
)

func newChatCmd(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := Bootstrap(cmd.Context(), *flags, false)
			if err != nil {
				return err
			}
			defer app.Close()

			session := app.Registry.GetOrCreate(identity.OwnerKey("cli", "chat"))
			return tui.Run(cmd.Context(), app.Loop, session, tui.Options{
				Title:       api.Title,
				Subtitle:    api.Subtitle,
				Placeholder: api.Placeholder,
				Markdown:    isTerminal(os.Stdout),
			})
		},
	}
}
