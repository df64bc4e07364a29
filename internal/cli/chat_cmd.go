package cli

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newChatCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Work through a blueprint interactively",
		Long: `Start an interactive conversation. With a session id the chat resumes
that session; otherwise a new session is started.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.interactive() {
				return errors.New("chat needs a terminal; use the session and items commands instead")
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			p := tea.NewProgram(newChatModel(cmd.Context(), app, id),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, err := p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}
