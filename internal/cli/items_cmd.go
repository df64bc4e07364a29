package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// Item numbers on the command line are 1-based, as printed by the formatter.
func newItemsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Work on the item list of a compound step",
	}

	cmd.AddCommand(
		newItemsAcceptCmd(app),
		newItemsAddCmd(app),
		newItemsRefineCmd(app),
		newItemsRenameCmd(app),
		newItemsMoveCmd(app),
		newItemsRemoveCmd(app),
		newItemsRegenerateCmd(app),
	)

	return cmd
}

func newItemsAcceptCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "accept <session-id>",
		Short: "Accept the working items and move on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, app, args[0], domain.ControlEvent(domain.ActionAcceptAll), expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newItemsAddCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "add <session-id> <text...>",
		Short: "Add items from free text (bullets, JSON or one per line)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, app, args[0], domain.TextEvent(strings.Join(args[1:], " ")), expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newItemsRefineCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "refine <session-id> <n> [instruction...]",
		Short: "Rewrite item n following an instruction",
		Long: `Rewrite item n. Without an instruction the item is marked for
refinement and the next answer is taken as the instruction.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1], "item")
			if err != nil {
				return err
			}
			ev := domain.ControlEvent(domain.ActionRefineItem)
			ev.Index = idx
			ev.Instruction = strings.Join(args[2:], " ")
			return sendEvent(cmd, app, args[0], ev, expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newItemsRenameCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "rename <session-id> <n> <title...>",
		Short: "Give item n a new title",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1], "item")
			if err != nil {
				return err
			}
			ev := domain.ControlEvent(domain.ActionRenameItem)
			ev.Index = idx
			ev.Value = strings.Join(args[2:], " ")
			return sendEvent(cmd, app, args[0], ev, expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newItemsMoveCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "move <session-id> <from> <to>",
		Short: "Move an item to a new position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseIndex(args[1], "from")
			if err != nil {
				return err
			}
			to, err := parseIndex(args[2], "to")
			if err != nil {
				return err
			}
			ev := domain.ControlEvent(domain.ActionReorder)
			ev.From, ev.To = from, to
			return sendEvent(cmd, app, args[0], ev, expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newItemsRemoveCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:     "remove <session-id> <n>",
		Aliases: []string{"rm"},
		Short:   "Drop item n from the working list",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1], "item")
			if err != nil {
				return err
			}
			ev := domain.ControlEvent(domain.ActionRemoveItem)
			ev.Index = idx
			return sendEvent(cmd, app, args[0], ev, expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}

func newItemsRegenerateCmd(app *App) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "regenerate <session-id>",
		Short: "Replace the suggestions with a fresh set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, app, args[0], domain.ControlEvent(domain.ActionRegenerate), expect)
		},
	}
	addExpectFlag(cmd, &expect)
	return cmd
}
