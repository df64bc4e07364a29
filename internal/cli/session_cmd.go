package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/blueprint/internal/cli/formatter"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/repository"
)

func newSessionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"s"},
		Short:   "Start and drive blueprint sessions",
	}

	cmd.AddCommand(
		newSessionNewCmd(app),
		newSessionShowCmd(app),
		newSessionAnswerCmd(app),
		newSessionSelectCmd(app),
		newSessionControlCmd(app, "advance", "Confirm the current step again, or accept a compound step's items", domain.ActionAdvance),
		newSessionControlCmd(app, "skip", "Skip the current step when it is optional", domain.ActionSkip),
		newSessionEditCmd(app),
		newSessionResetCmd(app),
		newSessionProgressCmd(app),
		newSessionListCmd(app),
		newSessionDeleteCmd(app),
		newSessionRecapsCmd(app),
	)

	return cmd
}

func newSessionNewCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, res, err := app.Sessions.Start(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s\n\n", formatter.Bold(sess.ID))
			fmt.Fprint(out, formatter.FormatResult(res))
			return nil
		},
	}
}

func newSessionShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show every step and its captured value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.Sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := app.Sessions.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatSession(sess, p))
			return nil
		},
	}
}

func newSessionAnswerCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "answer <session-id> <text...>",
		Short: "Answer the current step",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, app, args[0], domain.TextEvent(strings.Join(args[1:], " ")), expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newSessionSelectCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "select <session-id> <n> [value...]",
		Short: "Choose offered option n (re-adds suggestion n on item steps)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1], "option")
			if err != nil {
				return err
			}
			ev := domain.SelectionEvent(idx, strings.Join(args[2:], " "))
			return sendEvent(cmd, app, args[0], ev, expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newSessionControlCmd(app *App, use, short string, action domain.ControlAction) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, app, args[0], domain.ControlEvent(action), expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newSessionEditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <session-id> [stage/step]",
		Short: "Go back to an earlier step",
		Long: `Move the cursor back to a step that has already been reached.
Without a step argument an interactive picker is shown.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target domain.StepRef
			if len(args) == 2 {
				ref, err := domain.ParseStepRef(args[1])
				if err != nil {
					return err
				}
				target = ref
			} else {
				if !app.interactive() {
					return errors.New("a target step is required when not running in a terminal")
				}
				sess, err := app.Sessions.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				ref, err := app.pickStep("Which step do you want to revisit?", reachedSteps(sess))
				if err != nil {
					return err
				}
				target = ref
			}
			return sendEvent(cmd, app, args[0], domain.EditEvent(target), "")
		},
	}
}

func newSessionResetCmd(app *App) *cobra.Command {
	var keepEarlier, yes bool
	cmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Clear captured answers and start over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "every stage"
			if keepEarlier {
				scope = "the current stage onward"
			}
			ok, err := confirmDestructive(app, yes, fmt.Sprintf("Reset %s of this session?", scope))
			if err != nil || !ok {
				return err
			}
			return sendEvent(cmd, app, args[0], domain.ResetEvent(keepEarlier), "")
		},
	}
	cmd.Flags().BoolVar(&keepEarlier, "keep-earlier", false, "Keep stages before the current one")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// confirmDestructive asks before a destructive command unless --yes was
// given. Without a terminal there is nobody to ask, so --yes is required.
func confirmDestructive(app *App, yes bool, title string) (bool, error) {
	if yes {
		return true, nil
	}
	if !app.interactive() {
		return false, errors.New("refusing to continue without --yes when not running in a terminal")
	}
	return app.confirm(title)
}

func newSessionProgressCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <session-id>",
		Short: "Show how far the session has come",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.Sessions.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.RenderProgress(p, 30))
			return nil
		},
	}
}

func newSessionListCmd(app *App) *cobra.Command {
	var complete, open bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repository.ListFilter{Limit: limit}
			switch {
			case complete:
				filter.Complete = &complete
			case open:
				done := false
				filter.Complete = &done
			}
			list, err := app.Sessions.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatSessionList(list, app.now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "Only finished sessions")
	cmd.Flags().BoolVar(&open, "open", false, "Only unfinished sessions")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions (0 for all)")
	cmd.MarkFlagsMutuallyExclusive("complete", "open")
	return cmd
}

func newSessionDeleteCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its recaps",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirmDestructive(app, yes, fmt.Sprintf("Delete session %s?", args[0]))
			if err != nil || !ok {
				return err
			}
			if err := app.Sessions.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newSessionRecapsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "recaps <session-id>",
		Short: "Show the recap of every completed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recaps, err := app.Sessions.Recaps(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatRecaps(recaps))
			return nil
		},
	}
}
