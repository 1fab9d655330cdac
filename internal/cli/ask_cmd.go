package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ashureev/risk-assistant/internal/conversation"
	"github.com/ashureev/risk-assistant/internal/identity"
)

func newAskCmd(flags *Flags) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   `ask "<question>"`,
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := Bootstrap(cmd.Context(), *flags, false)
			if err != nil {
				return err
			}
			defer app.Close()

			question := strings.Join(args, " ")
			ctx := conversation.WithChannel(identity.WithIdentity(cmd.Context(), "cli", "ask"), "cli")
			session := app.Registry.GetOrCreate(identity.OwnerKeyFromContext(ctx))

			turn, err := app.Loop.Submit(ctx, session, question, nil)
			if err != nil {
				return err
			}
			if turn.Ignored {
				return nil
			}
			markdown := !plain && isTerminal(os.Stdout)
			return printAnswer(cmd.OutOrStdout(), turn.Answer, markdown)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print the answer without markdown rendering")
	return cmd
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printAnswer(w io.Writer, answer string, markdown bool) error {
	if markdown {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			if out, err := r.Render(answer); err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, answer)
	return err
}
