package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/db"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/repository"
	"github.com/alexanderramin/blueprint/internal/service"
	"github.com/alexanderramin/blueprint/internal/testutil"
)

// testApp wires an App backed by an in-memory DB and the deterministic
// composer.
func testApp(t *testing.T) *App {
	t.Helper()
	database := testutil.NewTestDB(t)
	machine := conversation.NewMachine(intelligence.NewComposer(nil),
		conversation.WithClock(func() time.Time { return testutil.FixedNow }),
	)
	svc, err := service.NewSessionService(machine,
		repository.NewSQLiteSnapshotRepo(database),
		testutil.NewTestUoW(database),
		func(tx db.DBTX) repository.SnapshotRepo { return repository.NewSQLiteSnapshotRepo(tx) },
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &App{
		Sessions: svc,
		Now:      func() time.Time { return testutil.FixedNow.Add(time.Minute) },
	}
}

// executeCmd runs a cobra command and captures stdout/stderr.
func executeCmd(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(app)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func startSession(t *testing.T, app *App) string {
	t.Helper()
	sess, _, err := app.Sessions.Start(context.Background())
	require.NoError(t, err)
	return sess.ID
}

// answerFoundation takes a session through the foundation stage and the
// duration step, leaving it on plan/phases.
func answerFoundation(t *testing.T, app *App, id string) {
	t.Helper()
	for _, a := range append(append([]string{}, testutil.FoundationAnswers...), "6 weeks") {
		out, err := executeCmd(t, app, "session", "answer", id, a)
		require.NoError(t, err)
		require.Contains(t, out, "ADVANCED")
	}
}

func currentStep(t *testing.T, app *App, id string) domain.StepRef {
	t.Helper()
	sess, err := app.Sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return sess.CurrentRef()
}

func TestSessionNew(t *testing.T) {
	app := testApp(t)

	out, err := executeCmd(t, app, "session", "new")
	require.NoError(t, err)
	assert.Contains(t, out, "Session ")
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "foundation/big_idea")

	list, err := app.Sessions.List(context.Background(), repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, out, list[0].ID)
}

func TestSessionAnswerAndShow(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	out, err := executeCmd(t, app, "session", "answer", id, "Water", "shapes", "how", "communities", "grow", "and", "thrive")
	require.NoError(t, err)
	assert.Contains(t, out, "ADVANCED")
	assert.Contains(t, out, "foundation/essential_question")

	out, err = executeCmd(t, app, "session", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, testutil.FoundationAnswers[0])
	assert.Contains(t, out, "▸ Essential question")
}

func TestSessionAnswer_ValidationFailureStays(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	out, err := executeCmd(t, app, "session", "answer", id, "water")
	require.NoError(t, err)
	assert.Contains(t, out, "STAYED")
	assert.Equal(t, domain.StepBigIdea, currentStep(t, app, id).Step)
}

func TestSessionAnswer_Expect(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	out, err := executeCmd(t, app, "session", "answer", id, testutil.FoundationAnswers[0], "--expect", "plan/duration")
	require.NoError(t, err)
	assert.Contains(t, out, "STALE")
	assert.Equal(t, domain.StepBigIdea, currentStep(t, app, id).Step)

	_, err = executeCmd(t, app, "session", "answer", id, "text", "--expect", "plan/nowhere")
	assert.Error(t, err)

	out, err = executeCmd(t, app, "session", "answer", id, testutil.FoundationAnswers[0], "--expect", "big_idea")
	require.NoError(t, err)
	assert.Contains(t, out, "ADVANCED")
}

func TestSessionSkip_RequiredStepRejected(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	out, err := executeCmd(t, app, "session", "skip", id)
	require.NoError(t, err)
	assert.Contains(t, out, "REJECTED")
}

func TestSessionUnknownID(t *testing.T) {
	app := testApp(t)

	_, err := executeCmd(t, app, "session", "show", "missing")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = executeCmd(t, app, "session", "answer", "missing", "hello")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestItemsFlow(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)
	answerFoundation(t, app, id)
	require.Equal(t, domain.StepPhases, currentStep(t, app, id).Step)

	out, err := executeCmd(t, app, "items", "remove", id, "4")
	require.NoError(t, err)
	assert.Contains(t, out, "UPDATED")
	assert.Contains(t, out, `Removed "Share".`)

	out, err = executeCmd(t, app, "items", "rename", id, "1", "Kickoff", "week")
	require.NoError(t, err)
	assert.Contains(t, out, "Kickoff week")

	out, err = executeCmd(t, app, "items", "move", id, "3", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `Moved "Create" to position 1.`)

	out, err = executeCmd(t, app, "items", "remove", id, "9")
	require.NoError(t, err)
	assert.Contains(t, out, "There is no item 9.")

	out, err = executeCmd(t, app, "items", "accept", id)
	require.NoError(t, err)
	assert.Contains(t, out, "ADVANCED")
	assert.Equal(t, domain.StepResources, currentStep(t, app, id).Step)

	sess, err := app.Sessions.Get(context.Background(), id)
	require.NoError(t, err)
	v, ok := sess.Record.Get(domain.StepRef{Stage: domain.StagePlan, Step: domain.StepPhases})
	require.True(t, ok)
	titles := make([]string, 0, len(v.Items))
	for _, it := range v.Items {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"Create", "Kickoff week", "Investigate"}, titles)
}

func TestItemsBadIndex(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	for _, args := range [][]string{
		{"items", "remove", id, "0"},
		{"items", "refine", id, "x"},
		{"items", "move", id, "1", "-2"},
	} {
		_, err := executeCmd(t, app, args...)
		assert.Error(t, err, args)
	}
}

func TestItemsOnScalarStepRejected(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	out, err := executeCmd(t, app, "items", "regenerate", id)
	require.NoError(t, err)
	assert.Contains(t, out, "REJECTED")
}

func TestSessionEdit(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)
	answerFoundation(t, app, id)

	out, err := executeCmd(t, app, "session", "edit", id, "foundation/essential_question")
	require.NoError(t, err)
	assert.Contains(t, out, "EDITED")
	assert.Equal(t, domain.StepEssentialQuestion, currentStep(t, app, id).Step)

	out, err = executeCmd(t, app, "session", "edit", id, "outputs/exhibition")
	require.NoError(t, err)
	assert.Contains(t, out, "REJECTED")
}

func TestSessionEdit_Picker(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)
	answerFoundation(t, app, id)

	_, err := executeCmd(t, app, "session", "edit", id)
	require.Error(t, err, "no picker without a terminal")

	var offered []domain.StepRef
	app.IsInteractive = func() bool { return true }
	app.PickStep = func(_ string, options []domain.StepRef) (domain.StepRef, error) {
		offered = options
		return options[0], nil
	}

	out, err := executeCmd(t, app, "session", "edit", id)
	require.NoError(t, err)
	assert.Contains(t, out, "EDITED")
	require.Len(t, offered, 5)
	assert.Equal(t, domain.StepRef{Stage: domain.StagePlan, Step: domain.StepPhases}, offered[4])
	assert.Equal(t, domain.StepBigIdea, currentStep(t, app, id).Step)
}

func TestSessionReset_Confirmation(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)
	answerFoundation(t, app, id)

	_, err := executeCmd(t, app, "session", "reset", id)
	require.Error(t, err)
	assert.Equal(t, domain.StepPhases, currentStep(t, app, id).Step)

	app.IsInteractive = func() bool { return true }
	app.Confirm = func(string) (bool, error) { return false, nil }
	_, err = executeCmd(t, app, "session", "reset", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPhases, currentStep(t, app, id).Step)

	app.Confirm = func(string) (bool, error) { return false, errors.New("user aborted") }
	_, err = executeCmd(t, app, "session", "reset", id)
	require.Error(t, err)

	out, err := executeCmd(t, app, "session", "reset", id, "--keep-earlier", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "RESET")
	assert.Equal(t, domain.StepRef{Stage: domain.StagePlan, Step: domain.StepDuration}, currentStep(t, app, id))

	out, err = executeCmd(t, app, "session", "recaps", id)
	require.NoError(t, err)
	assert.Contains(t, out, "FOUNDATION RECAP")
}

func TestSessionProgressAndRecaps(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)

	out, err := executeCmd(t, app, "session", "recaps", id)
	require.NoError(t, err)
	assert.Contains(t, out, "No stages completed yet.")

	answerFoundation(t, app, id)

	out, err = executeCmd(t, app, "session", "progress", id)
	require.NoError(t, err)
	assert.Contains(t, out, "5/8")
	assert.Contains(t, out, "plan")

	out, err = executeCmd(t, app, "session", "recaps", id)
	require.NoError(t, err)
	assert.Contains(t, out, "FOUNDATION RECAP")
}

func TestSessionListAndDelete(t *testing.T) {
	app := testApp(t)
	a := startSession(t, app)
	b := startSession(t, app)

	out, err := executeCmd(t, app, "session", "list", "--open")
	require.NoError(t, err)
	assert.Contains(t, out, a)
	assert.Contains(t, out, b)

	out, err = executeCmd(t, app, "session", "list", "--complete")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	_, err = executeCmd(t, app, "session", "list", "--complete", "--open")
	assert.Error(t, err)

	_, err = executeCmd(t, app, "session", "delete", a)
	require.Error(t, err, "delete needs --yes without a terminal")

	out, err = executeCmd(t, app, "session", "delete", a, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session "+a)

	out, err = executeCmd(t, app, "session", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, a)
	assert.Contains(t, out, b)
}

func TestWalkthroughToDone(t *testing.T) {
	app := testApp(t)
	id := startSession(t, app)
	answerFoundation(t, app, id)

	steps := [][]string{
		{"items", "accept", id},
		{"session", "skip", id},
		{"items", "accept", id},
		{"session", "answer", id, "Students present findings to the city council"},
	}
	for _, args := range steps {
		_, err := executeCmd(t, app, args...)
		require.NoError(t, err)
	}

	out, err := executeCmd(t, app, "session", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Blueprint complete")
	assert.Contains(t, out, "(skipped)")

	out, err = executeCmd(t, app, "session", "list", "--complete")
	require.NoError(t, err)
	assert.Contains(t, out, id)
}

func TestServe(t *testing.T) {
	app := testApp(t)

	_, err := executeCmd(t, app, "serve")
	require.Error(t, err)

	var gotAddr string
	app.Serve = func(_ context.Context, addr string) error {
		gotAddr = addr
		return nil
	}
	_, err = executeCmd(t, app, "serve", "--addr", ":9090")
	require.NoError(t, err)
	assert.Equal(t, ":9090", gotAddr)
}

func TestSetupHook(t *testing.T) {
	app := testApp(t)
	var got GlobalOptions
	app.Setup = func(_ context.Context, opts GlobalOptions) error {
		got = opts
		return nil
	}

	_, err := executeCmd(t, app, "--db", "/tmp/x.db", "--log-level", "debug", "session", "list")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", got.DBPath)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, ".env", got.EnvFile)
}

func TestExecute_RunsTeardownOnError(t *testing.T) {
	app := testApp(t)
	torn := false
	app.Teardown = func(context.Context) error {
		torn = true
		return nil
	}

	err := Execute(context.Background(), app, []string{"session", "show", "missing"})
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
	assert.True(t, torn)

	app.Teardown = func(context.Context) error { return errors.New("flush failed") }
	err = Execute(context.Background(), app, []string{"session", "list"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
}

func TestChatRequiresTerminal(t *testing.T) {
	app := testApp(t)
	_, err := executeCmd(t, app, "chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}
