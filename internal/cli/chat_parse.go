package cli

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// Local chat commands that do not send an event.
const (
	chatQuit     = "quit"
	chatHelp     = "help"
	chatShow     = "show"
	chatProgress = "progress"
	chatRecaps   = "recaps"
)

// chatInput is one parsed chat line: an event for the session or a local
// command.
type chatInput struct {
	Event   *domain.Event
	Command string
}

const chatHelpText = `Type an answer and press enter. Commands:
  /skip  /advance  /accept  /regenerate
  /select <n> [value]     choose option n, or re-add suggestion n
  /refine <n> [text]      rewrite item n
  /rename <n> <title>     retitle item n
  /move <from> <to>       reorder items
  /remove <n>             drop item n
  /edit <stage/step>      revisit an earlier step
  /reset [keep]           start over (keep: keep earlier stages)
  /show  /progress  /recaps  /help  /quit`

// parseChatLine turns a line typed in chat into an input. Lines that do not
// start with "/" are answers.
func parseChatLine(line string) (chatInput, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		ev := domain.TextEvent(line)
		return chatInput{Event: &ev}, nil
	}

	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return chatInput{}, fmt.Errorf("empty command, try /help")
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.Join(args, " ")

	control := func(a domain.ControlAction) (chatInput, error) {
		ev := domain.ControlEvent(a)
		return chatInput{Event: &ev}, nil
	}

	switch name {
	case "quit", "exit", "q":
		return chatInput{Command: chatQuit}, nil
	case "help", "?":
		return chatInput{Command: chatHelp}, nil
	case "show":
		return chatInput{Command: chatShow}, nil
	case "progress":
		return chatInput{Command: chatProgress}, nil
	case "recaps":
		return chatInput{Command: chatRecaps}, nil
	case "skip":
		return control(domain.ActionSkip)
	case "advance":
		return control(domain.ActionAdvance)
	case "accept":
		return control(domain.ActionAcceptAll)
	case "regenerate":
		return control(domain.ActionRegenerate)
	case "edit":
		if len(args) != 1 {
			return chatInput{}, fmt.Errorf("usage: /edit <stage/step>")
		}
		ref, err := domain.ParseStepRef(args[0])
		if err != nil {
			return chatInput{}, err
		}
		ev := domain.EditEvent(ref)
		return chatInput{Event: &ev}, nil
	case "reset":
		ev := domain.ResetEvent(rest == "keep")
		return chatInput{Event: &ev}, nil
	case "select":
		if len(args) < 1 {
			return chatInput{}, fmt.Errorf("usage: /select <n> [value]")
		}
		idx, err := parseIndex(args[0], "option")
		if err != nil {
			return chatInput{}, err
		}
		ev := domain.SelectionEvent(idx, strings.Join(args[1:], " "))
		return chatInput{Event: &ev}, nil
	case "refine":
		if len(args) < 1 {
			return chatInput{}, fmt.Errorf("usage: /refine <n> [text]")
		}
		return itemEvent(domain.ActionRefineItem, args[0], func(ev *domain.Event) { ev.Instruction = strings.Join(args[1:], " ") })
	case "rename":
		if len(args) < 2 {
			return chatInput{}, fmt.Errorf("usage: /rename <n> <title>")
		}
		return itemEvent(domain.ActionRenameItem, args[0], func(ev *domain.Event) { ev.Value = strings.Join(args[1:], " ") })
	case "remove":
		if len(args) != 1 {
			return chatInput{}, fmt.Errorf("usage: /remove <n>")
		}
		return itemEvent(domain.ActionRemoveItem, args[0], nil)
	case "move":
		if len(args) != 2 {
			return chatInput{}, fmt.Errorf("usage: /move <from> <to>")
		}
		from, err := parseIndex(args[0], "from")
		if err != nil {
			return chatInput{}, err
		}
		to, err := parseIndex(args[1], "to")
		if err != nil {
			return chatInput{}, err
		}
		ev := domain.ControlEvent(domain.ActionReorder)
		ev.From, ev.To = from, to
		return chatInput{Event: &ev}, nil
	default:
		return chatInput{}, fmt.Errorf("unknown command /%s, try /help", name)
	}
}

func itemEvent(action domain.ControlAction, n string, fill func(*domain.Event)) (chatInput, error) {
	idx, err := parseIndex(n, "item")
	if err != nil {
		return chatInput{}, err
	}
	ev := domain.ControlEvent(action)
	ev.Index = idx
	if fill != nil {
		fill(&ev)
	}
	return chatInput{Event: &ev}, nil
}
