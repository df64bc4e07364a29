package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/blueprint/internal/cli/formatter"
	"github.com/alexanderramin/blueprint/internal/domain"
)

// parseIndex turns a 1-based item number into a 0-based index.
func parseIndex(s, what string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", what, s)
	}
	return n - 1, nil
}

// addExpectFlag registers --expect, the step the caller believes is current.
func addExpectFlag(cmd *cobra.Command, expect *string) {
	cmd.Flags().StringVar(expect, "expect", "", "Reject the event unless the session is at this step (stage/step)")
}

func withExpect(ev domain.Event, expect string) (domain.Event, error) {
	if expect == "" {
		return ev, nil
	}
	ref, err := domain.ParseStepRef(expect)
	if err != nil {
		return ev, fmt.Errorf("--expect: %w", err)
	}
	ev.Expect = ref
	return ev, nil
}

// sendEvent hands ev to the session and prints the result.
func sendEvent(cmd *cobra.Command, app *App, id string, ev domain.Event, expect string) error {
	ev, err := withExpect(ev, expect)
	if err != nil {
		return err
	}
	res, err := app.Sessions.Handle(cmd.Context(), id, ev)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), formatter.FormatResult(res))
	return nil
}

// reachedSteps lists the steps at or before the session's cursor, the valid
// edit targets.
func reachedSteps(sess *domain.Session) []domain.StepRef {
	var out []domain.StepRef
	for _, st := range domain.Stages() {
		for _, ref := range domain.StageStepRefs(st.ID) {
			pos, _ := domain.PositionOf(ref)
			if pos.Compare(sess.Cursor) > 0 {
				return out
			}
			out = append(out, ref)
		}
	}
	return out
}
