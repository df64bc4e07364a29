package intelligence

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

const composeSystemPrompt = `You are a friendly coach helping a teacher design a project-based learning unit.
The workflow has three stages (Foundation, Plan, Outputs) and a fixed list of steps.
You never change the teacher's answers; you only write the next message.

Respond with a single JSON object and nothing else:
{"message": "<next message, at most 120 words>", "next_actions": ["<action>", ...]}

Rules:
- Ask for exactly the step named in CURRENT STEP, using its objective.
- If ISSUES are listed, explain the first one kindly and suggest a fix.
- If a RECAP is present, summarise it in one sentence before moving on.
- next_actions must only use values from ALLOWED ACTIONS.`

const itemsSystemPrompt = `You suggest items for one step of a project-based learning plan.
Respond with JSON only, no prose. Use this shape:
{"items": [{"group": "<group>", "title": "<short title>", "description": "<one sentence>"}]}

Rules:
- Use only the groups listed in GROUPS, and give at least the minimum for each.
- Titles are short (2-5 words) and unique within a group.
- Ground the items in the captured answers.`

const refineSystemPrompt = `You rewrite one item of a project-based learning plan following an instruction.
Respond with JSON only: {"title": "<short title>", "description": "<one sentence>"}
Keep the item's purpose; change only what the instruction asks for.`

func buildComposeUserPrompt(req ComposeRequest, allowed []string) string {
	var b strings.Builder

	writeContext(&b, req.Context)

	b.WriteString("## ACTION\n")
	b.WriteString(string(req.Action))
	b.WriteString("\n\n## CURRENT STEP\n")
	if step, ok := domain.LookupStep(req.Step); ok {
		fmt.Fprintf(&b, "%s: %s\n", step.Title, step.Objective)
	} else {
		b.WriteString("none (the plan is complete)\n")
	}

	if len(req.Issues) > 0 {
		b.WriteString("\n## ISSUES\n")
		for _, is := range req.Issues {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", is.Type, is.Severity, is.Message)
		}
	}
	if req.Recap != nil {
		fmt.Fprintf(&b, "\n## RECAP (%s)\n%s\n", req.Recap.Stage, req.Recap.Summary)
	}

	writeCaptured(&b, req.Record)

	b.WriteString("\n## ALLOWED ACTIONS\n")
	b.WriteString(strings.Join(allowed, ", "))
	b.WriteString("\n")
	return b.String()
}

func buildItemsUserPrompt(req ItemsRequest, step domain.Step) string {
	var b strings.Builder
	writeContext(&b, req.Context)

	fmt.Fprintf(&b, "## STEP\n%s: %s\n\n## GROUPS\n", step.Title, step.Objective)
	for _, g := range step.Groups {
		fmt.Fprintf(&b, "- %s (minimum %d)\n", g.Group, g.Min)
	}
	if len(req.Avoid) > 0 {
		b.WriteString("\n## AVOID THESE TITLES\n")
		for _, a := range req.Avoid {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	writeCaptured(&b, req.Record)
	return b.String()
}

func buildRefineUserPrompt(req RefineRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## ITEM (%s)\ntitle: %s\ndescription: %s\n\n", req.Item.Group, req.Item.Title, req.Item.Description)
	fmt.Fprintf(&b, "## INSTRUCTION\n%s\n", req.Instruction)
	writeCaptured(&b, req.Record)
	return b.String()
}

func writeContext(b *strings.Builder, turns []domain.Turn) {
	if len(turns) == 0 {
		return
	}
	b.WriteString("## RECENT CONVERSATION\n")
	for _, t := range turns {
		fmt.Fprintf(b, "%s: %s\n", t.Role, t.Content)
	}
	b.WriteString("\n")
}

func writeCaptured(b *strings.Builder, rec domain.Record) {
	refs := rec.Refs()
	if len(refs) == 0 {
		return
	}
	b.WriteString("\n## CAPTURED SO FAR\n")
	for _, ref := range refs {
		if v := describeValue(rec, ref); v != "" {
			fmt.Fprintf(b, "- %s: %s\n", ref, v)
		}
	}
}
