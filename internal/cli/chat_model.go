package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexanderramin/blueprint/internal/cli/formatter"
	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/domain"
)

// Messages produced by chat commands.
type (
	chatStartedMsg struct {
		id  string
		res conversation.Result
	}
	chatResultMsg struct {
		echo string
		res  conversation.Result
	}
	chatOutputMsg struct {
		echo string
		text string
	}
	chatErrMsg struct {
		err error
	}
)

// chatModel is the bubbletea Model for "blueprint chat". Every event carries
// the step the user last saw as Expect, so a late or repeated submit is
// reported as stale instead of being applied to a later step.
type chatModel struct {
	ctx   context.Context
	app   *App
	input textinput.Model
	width int

	resumeID  string
	sessionID string
	step      domain.StepRef
	last      *conversation.Result
	lastErr   error
	busy      bool
	quitting  bool
}

func newChatModel(ctx context.Context, app *App, sessionID string) chatModel {
	ti := textinput.New()
	ti.Focus()
	ti.Prompt = ""
	ti.CharLimit = 2000
	ti.Placeholder = "type an answer or /help"

	return chatModel{ctx: ctx, app: app, input: ti, resumeID: sessionID}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.openCmd())
}

// openCmd starts a new session or resumes the one named on the command line.
func (m chatModel) openCmd() tea.Cmd {
	ctx, app, id := m.ctx, m.app, m.resumeID
	if id == "" {
		return func() tea.Msg {
			sess, res, err := app.Sessions.Start(ctx)
			if err != nil {
				return chatErrMsg{err: err}
			}
			return chatStartedMsg{id: sess.ID, res: res}
		}
	}
	return func() tea.Msg {
		sess, err := app.Sessions.Get(ctx, id)
		if err != nil {
			return chatErrMsg{err: err}
		}
		p, err := app.Sessions.Progress(ctx, id)
		if err != nil {
			return chatErrMsg{err: err}
		}
		return chatStartedMsg{id: id, res: conversation.Result{
			Outcome:   conversation.OutcomeStayed,
			Step:      sess.CurrentRef(),
			Position:  sess.Cursor,
			Message:   "Welcome back. " + describeStep(sess.CurrentRef()),
			MicroFlow: sess.MicroFlow,
			Progress:  p,
		}}
	}
}

func describeStep(ref domain.StepRef) string {
	step, ok := domain.LookupStep(ref)
	if !ok {
		return "The blueprint is complete."
	}
	return fmt.Sprintf("Current step: %s. %s", step.Title, step.Objective)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-lenPrompt(m.step)-1, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case chatStartedMsg:
		m.sessionID = msg.id
		m.step = msg.res.Step
		m.last = &msg.res
		header := fmt.Sprintf("%s %s", formatter.StyleHeader.Render("BLUEPRINT"), formatter.Dim(msg.id))
		return m, tea.Println(header + "\n\n" + formatter.FormatResult(msg.res))

	case chatResultMsg:
		m.busy = false
		m.last = &msg.res
		m.lastErr = nil
		if msg.res.Outcome != conversation.OutcomeRejected && msg.res.Outcome != conversation.OutcomeStale {
			m.step = msg.res.Step
		}
		return m, tea.Println(msg.echo + "\n" + formatter.FormatResult(msg.res))

	case chatOutputMsg:
		m.busy = false
		return m, tea.Println(msg.echo + "\n" + msg.text)

	case chatErrMsg:
		m.busy = false
		m.lastErr = msg.err
		return m, tea.Println(formatter.StyleRed.Render("error: " + msg.err.Error()))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if m.busy || m.sessionID == "" || line == "" {
		return m, nil
	}
	m.input.Reset()

	in, err := parseChatLine(line)
	if err != nil {
		m.lastErr = err
		return m, tea.Println(formatter.StyleRed.Render(err.Error()))
	}
	echo := formatter.Dim("› " + line)

	switch {
	case in.Command == chatQuit:
		m.quitting = true
		return m, tea.Quit
	case in.Command == chatHelp:
		return m, tea.Println(echo + "\n" + chatHelpText)
	case in.Event != nil:
		ev := *in.Event
		if ev.Action != domain.ActionEdit && ev.Action != domain.ActionReset {
			ev.Expect = m.step
		}
		m.busy = true
		return m, m.eventCmd(echo, ev)
	default:
		m.busy = true
		return m, m.localCmd(echo, in.Command)
	}
}

func (m chatModel) eventCmd(echo string, ev domain.Event) tea.Cmd {
	ctx, app, id := m.ctx, m.app, m.sessionID
	return func() tea.Msg {
		res, err := app.Sessions.Handle(ctx, id, ev)
		if err != nil {
			return chatErrMsg{err: err}
		}
		return chatResultMsg{echo: echo, res: res}
	}
}

func (m chatModel) localCmd(echo, command string) tea.Cmd {
	ctx, app, id := m.ctx, m.app, m.sessionID
	return func() tea.Msg {
		switch command {
		case chatShow:
			sess, err := app.Sessions.Get(ctx, id)
			if err != nil {
				return chatErrMsg{err: err}
			}
			return chatOutputMsg{echo: echo, text: formatter.FormatSession(sess, conversation.ProgressAt(sess.Cursor))}
		case chatProgress:
			p, err := app.Sessions.Progress(ctx, id)
			if err != nil {
				return chatErrMsg{err: err}
			}
			return chatOutputMsg{echo: echo, text: formatter.RenderProgress(p, 30)}
		default:
			recaps, err := app.Sessions.Recaps(ctx, id)
			if err != nil {
				return chatErrMsg{err: err}
			}
			return chatOutputMsg{echo: echo, text: formatter.FormatRecaps(recaps)}
		}
	}
}

func (m chatModel) View() string {
	if m.quitting {
		return formatter.Dim("Goodbye.") + "\n"
	}
	if m.busy {
		return formatter.Dim("thinking…")
	}
	return promptPrefix(m.step) + m.input.View()
}

func promptPrefix(step domain.StepRef) string {
	label := "done"
	if !step.IsZero() {
		label = step.String()
	}
	return formatter.StylePurple.Render("blueprint") + " " +
		formatter.Dim("(") + formatter.StyleGreen.Render(label) + formatter.Dim(")") +
		" " + formatter.Dim("❯") + " "
}

func lenPrompt(step domain.StepRef) int {
	return len("blueprint () ❯ ") + len(step.String())
}
