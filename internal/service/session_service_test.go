package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/db"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/repository"
	"github.com/alexanderramin/blueprint/internal/testutil"
)

type fakeArchiver struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (f *fakeArchiver) Archive(_ context.Context, snap domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeArchiver) archived() []domain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Snapshot(nil), f.snaps...)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []UseCaseEvent
}

func (o *recordingObserver) ObserveUseCase(_ context.Context, e UseCaseEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

// gatedUoW blocks the first transaction until release is closed.
type gatedUoW struct {
	next    db.UnitOfWork
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.next.WithinTx(ctx, fn)
}

func txStore(tx db.DBTX) repository.SnapshotRepo {
	return repository.NewSQLiteSnapshotRepo(tx)
}

var fastRetry = RetryPolicy{Attempts: 2, Base: time.Millisecond}

func newTestService(t *testing.T, database *sql.DB, uow db.UnitOfWork, opts ...Option) *sessionService {
	t.Helper()
	machine := conversation.NewMachine(intelligence.NewComposer(nil),
		conversation.WithClock(func() time.Time { return testutil.FixedNow }),
	)
	opts = append([]Option{WithRetryPolicy(fastRetry)}, opts...)
	svc, err := NewSessionService(machine, repository.NewSQLiteSnapshotRepo(database), uow, txStore, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc.(*sessionService)
}

func setup(t *testing.T, opts ...Option) (*sessionService, *sql.DB) {
	t.Helper()
	database := testutil.NewTestDB(t)
	return newTestService(t, database, testutil.NewTestUoW(database), opts...), database
}

func TestStart_PersistsSnapshot(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()

	sess, res, err := svc.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeStarted, res.Outcome)
	require.NoError(t, svc.Flush(ctx))

	snap, err := repository.NewSQLiteSnapshotRepo(database).Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Position{}, snap.Cursor)
	require.Len(t, snap.History, 1)

	list, err := svc.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)
	assert.Equal(t, domain.StepBigIdea, list[0].Step)
}

func TestStart_ReturnsDetachedCopy(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	sess.Cursor = domain.DonePosition()

	live, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Position{}, live.Cursor)
}

func TestHandle_UnknownSession(t *testing.T) {
	obs := &recordingObserver{}
	svc, _ := setup(t, WithUseCaseObserver(obs))

	_, err := svc.Handle(context.Background(), "missing", domain.TextEvent("hello"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.NotEmpty(t, obs.events)
	last := obs.events[len(obs.events)-1]
	assert.Equal(t, "session.handle", last.Name)
	assert.False(t, last.Success)
}

func TestHandle_WalkthroughArchivesOnCompletion(t *testing.T) {
	arch := &fakeArchiver{}
	svc, database := setup(t, WithArchiver(arch))
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)

	var last conversation.Result
	for _, ev := range testutil.Walkthrough() {
		last, err = svc.Handle(ctx, sess.ID, ev)
		require.NoError(t, err)
		require.NotEqual(t, conversation.OutcomeRejected, last.Outcome, "event %+v: %s", ev, last.Detail)
	}
	assert.Equal(t, conversation.OutcomeCompleted, last.Outcome)
	require.NoError(t, svc.Flush(ctx))

	archived := arch.archived()
	require.Len(t, archived, 1)
	assert.Equal(t, sess.ID, archived[0].ID)
	assert.True(t, archived[0].Cursor.IsDone())

	done := true
	complete, err := repository.NewSQLiteSnapshotRepo(database).List(ctx, repository.ListFilter{Complete: &done})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, domain.StageDone, complete[0].Stage)

	progress, err := svc.Progress(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.Percentage)
}

func TestHandle_RestoresEvictedSession(t *testing.T) {
	svc, _ := setup(t, WithCacheSize(1))
	ctx := context.Background()

	a, _, err := svc.Start(ctx)
	require.NoError(t, err)
	res, err := svc.Handle(ctx, a.ID, domain.TextEvent(testutil.FoundationAnswers[0]))
	require.NoError(t, err)
	require.Equal(t, conversation.OutcomeAdvanced, res.Outcome)
	require.NoError(t, svc.Flush(ctx))

	_, _, err = svc.Start(ctx)
	require.NoError(t, err)
	assert.False(t, svc.cache.Contains(a.ID))

	res, err = svc.Handle(ctx, a.ID, domain.TextEvent(testutil.FoundationAnswers[1]))
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeAdvanced, res.Outcome)
	assert.Equal(t, domain.StepChallenge, res.Step.Step)
}

func TestHandle_RejectedEventNotQueued(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Handle(ctx, sess.ID, domain.ControlEvent(domain.ActionSkip))
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeRejected, res.Outcome)
	_, queued := svc.persist.latest(sess.ID)
	assert.False(t, queued)
}

func TestHandle_SurfacesExhaustedWritesAsWarning(t *testing.T) {
	database := testutil.NewTestDB(t)
	flaky := &testutil.FlakyUoW{Next: testutil.NewTestUoW(database), Failures: 100, Err: errors.New("disk full")}
	svc := newTestService(t, database, flaky)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.persist.wait(ctx))
	assert.Equal(t, fastRetry.Attempts, flaky.Calls())

	res, err := svc.Handle(ctx, sess.ID, domain.TextEvent(testutil.FoundationAnswers[0]))
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeAdvanced, res.Outcome)
	assert.Contains(t, res.Warning, "disk full")

	err = svc.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), sess.ID)
	assert.NoError(t, svc.Flush(ctx), "failures are reported once")
}

func TestPersist_RetriesThenSucceeds(t *testing.T) {
	database := testutil.NewTestDB(t)
	flaky := &testutil.FlakyUoW{Next: testutil.NewTestUoW(database), Failures: 1, Err: errors.New("busy")}
	svc := newTestService(t, database, flaky)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 2, flaky.Calls())

	_, err = repository.NewSQLiteSnapshotRepo(database).Load(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestPersist_CoalescesQueuedWrites(t *testing.T) {
	database := testutil.NewTestDB(t)
	gate := &gatedUoW{next: testutil.NewTestUoW(database), entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, database, gate)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	<-gate.entered

	for _, answer := range testutil.FoundationAnswers {
		res, err := svc.Handle(ctx, sess.ID, domain.TextEvent(answer))
		require.NoError(t, err)
		require.Equal(t, conversation.OutcomeAdvanced, res.Outcome)
	}
	close(gate.release)
	require.NoError(t, svc.Flush(ctx))

	assert.Equal(t, int32(2), gate.calls.Load())
	snap, err := repository.NewSQLiteSnapshotRepo(database).Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StagePlan, domain.RefAt(snap.Cursor).Stage)
}

func TestHandle_ConcurrentDuplicateSubmit(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)

	ev := domain.TextEvent(testutil.FoundationAnswers[0])
	ev.Expect = sess.CurrentRef()

	var wg sync.WaitGroup
	var advanced, stale atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Handle(ctx, sess.ID, ev)
			if err != nil {
				return
			}
			switch res.Outcome {
			case conversation.OutcomeAdvanced:
				advanced.Add(1)
			case conversation.OutcomeStale:
				stale.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), advanced.Load())
	assert.Equal(t, int32(7), stale.Load())
	assert.Zero(t, svc.locks.len())
}

func TestKeyedLocks_SerializeAndRelease(t *testing.T) {
	var k keyedLocks
	var inside atomic.Int32
	var overlap atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("s1")
			defer unlock()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Zero(t, k.len())

	unlockA := k.lock("a")
	unlockB := k.lock("b")
	assert.Equal(t, 2, k.len())
	unlockA()
	unlockB()
	assert.Zero(t, k.len())
}

func TestDelete(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	require.NoError(t, svc.Delete(ctx, sess.ID))
	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, sess.ID), ErrSessionNotFound)

	list, err := svc.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, svc.locks.len())
}

func TestDelete_BeforeFirstWrite(t *testing.T) {
	database := testutil.NewTestDB(t)
	gate := &gatedUoW{next: testutil.NewTestUoW(database), entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, database, gate)
	ctx := context.Background()

	first, _, err := svc.Start(ctx)
	require.NoError(t, err)
	<-gate.entered
	second, _, err := svc.Start(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Delete(ctx, second.ID) }()
	close(gate.release)
	require.NoError(t, <-done)

	require.NoError(t, svc.Flush(ctx))
	list, err := svc.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestDelete_DuringFailingWrite(t *testing.T) {
	database := testutil.NewTestDB(t)
	failing := &testutil.FlakyUoW{Next: testutil.NewTestUoW(database), Failures: 100, Err: errors.New("disk full")}
	gate := &gatedUoW{next: failing, entered: make(chan struct{}), release: make(chan struct{})}
	arch := &fakeArchiver{}
	svc := newTestService(t, database, gate, WithArchiver(arch))
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	<-gate.entered

	done := make(chan error, 1)
	go func() { done <- svc.Delete(ctx, sess.ID) }()
	require.Eventually(t, func() bool {
		_, queued := svc.persist.latest(sess.ID)
		return !queued
	}, time.Second, time.Millisecond)
	close(gate.release)
	require.NoError(t, <-done)

	assert.NoError(t, svc.Flush(ctx))
	assert.Empty(t, svc.persist.takeAllFailures())
	assert.Empty(t, arch.archived())
}

func TestPersist_ArchiveRequestDoesNotOutliveCompletion(t *testing.T) {
	database := testutil.NewTestDB(t)
	gate := &gatedUoW{next: testutil.NewTestUoW(database), entered: make(chan struct{}), release: make(chan struct{})}
	arch := &fakeArchiver{}
	svc := newTestService(t, database, gate, WithArchiver(arch))
	ctx := context.Background()

	_, _, err := svc.Start(ctx)
	require.NoError(t, err)
	<-gate.entered

	// Completed, then replaced by a snapshot that is no longer complete.
	svc.persist.enqueue(testutil.NewTestSession(testutil.WithID("reopened"), testutil.WithDone()).Snapshot(), true)
	svc.persist.enqueue(testutil.NewTestSession(testutil.WithID("reopened")).Snapshot(), false)

	// Completed, then replaced by a later snapshot that is still complete.
	svc.persist.enqueue(testutil.NewTestSession(testutil.WithID("finished"), testutil.WithDone()).Snapshot(), true)
	svc.persist.enqueue(testutil.NewTestSession(testutil.WithID("finished"), testutil.WithDone()).Snapshot(), false)

	close(gate.release)
	require.NoError(t, svc.Flush(ctx))

	archived := arch.archived()
	require.Len(t, archived, 1)
	assert.Equal(t, "finished", archived[0].ID)
}

func TestRecaps(t *testing.T) {
	svc, _ := setup(t, WithCacheSize(1))
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	for _, answer := range testutil.FoundationAnswers {
		_, err := svc.Handle(ctx, sess.ID, domain.TextEvent(answer))
		require.NoError(t, err)
	}

	live, err := svc.Recaps(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, domain.StageFoundation, live[0].Stage)
	assert.NotEmpty(t, live[0].Snapshot)

	require.NoError(t, svc.Flush(ctx))
	_, _, err = svc.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	stored, err := svc.Recaps(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, live[0].Summary, stored[0].Summary)

	_, err = svc.Recaps(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGet_CorruptSnapshot(t *testing.T) {
	svc, database := setup(t)

	_, err := database.Exec(`INSERT INTO sessions (id, version, current_stage, snapshot, created_at, updated_at)
		VALUES ('bad', 1, 'foundation', '{"version":1,"id":"bad","cursor":{"stage_index":9,"step_index":0}}', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrCorruptSnapshot)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestClose_DrainsQueue(t *testing.T) {
	database := testutil.NewTestDB(t)
	svc := newTestService(t, database, testutil.NewTestUoW(database))
	ctx := context.Background()

	sess, _, err := svc.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx))

	_, err = repository.NewSQLiteSnapshotRepo(database).Load(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 300*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(6))
}
