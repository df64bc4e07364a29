package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alexanderramin/blueprint/internal/archive"
	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/db"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/observability"
	"github.com/alexanderramin/blueprint/internal/repository"
)

// DefaultCacheSize is the number of live sessions kept in memory.
const DefaultCacheSize = 256

type settings struct {
	cacheSize int
	archiver  archive.Archiver
	retry     RetryPolicy
	logger    *slog.Logger
	observer  UseCaseObserver
}

// Option configures a SessionService.
type Option func(*settings)

// WithCacheSize bounds the live-session cache.
func WithCacheSize(n int) Option {
	return func(s *settings) { s.cacheSize = n }
}

// WithArchiver archives sessions once they complete.
func WithArchiver(a archive.Archiver) Option {
	return func(s *settings) { s.archiver = a }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *settings) { s.retry = p }
}

// WithLogger sets the logger for background persistence.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithUseCaseObserver receives one event per service call.
func WithUseCaseObserver(o UseCaseObserver) Option {
	return func(s *settings) { s.observer = o }
}

type sessionService struct {
	machine  *conversation.Machine
	store    repository.SnapshotRepo
	persist  *persister
	cache    *lru.Cache[string, *domain.Session]
	locks    keyedLocks
	observer UseCaseObserver
}

// NewSessionService wires the state machine to storage. store serves reads;
// writes go through uow with a repo built by txStore for each transaction.
func NewSessionService(machine *conversation.Machine, store repository.SnapshotRepo, uow db.UnitOfWork, txStore func(db.DBTX) repository.SnapshotRepo, opts ...Option) (SessionService, error) {
	cfg := settings{
		cacheSize: DefaultCacheSize,
		archiver:  archive.Noop{},
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default(),
		observer:  NoopUseCaseObserver{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &sessionService{
		machine:  machine,
		store:    store,
		observer: cfg.observer,
	}
	cache, err := lru.NewWithEvict[string, *domain.Session](cfg.cacheSize, func(id string, _ *domain.Session) {
		machine.Forget(id)
	})
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	s.cache = cache
	s.persist = newPersister(uow, txStore, cfg.archiver, cfg.retry, cfg.logger)
	return s, nil
}

func (s *sessionService) lock(id string) func() {
	return s.locks.lock(id)
}

func (s *sessionService) Start(ctx context.Context) (sess *domain.Session, res conversation.Result, err error) {
	start := time.Now()
	id := uuid.NewString()
	defer func() { s.observe(ctx, "session.start", start, err, map[string]any{"session": id}) }()

	unlock := s.lock(id)
	defer unlock()

	live, res, err := s.machine.Start(ctx, id)
	if err != nil {
		return nil, conversation.Result{}, err
	}
	s.cache.Add(id, live)
	observability.SetLiveSessions(s.cache.Len())
	s.persist.enqueue(live.Snapshot(), false)
	return live.Clone(), res, nil
}

func (s *sessionService) Handle(ctx context.Context, id string, ev domain.Event) (res conversation.Result, err error) {
	start := time.Now()
	defer func() {
		s.observe(ctx, "session.handle", start, err, map[string]any{
			"session": id,
			"kind":    string(ev.Kind),
			"outcome": string(res.Outcome),
		})
	}()

	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return conversation.Result{}, err
	}
	res, err = s.machine.Handle(ctx, sess, ev)
	if err != nil {
		return conversation.Result{}, err
	}
	if res.Outcome != conversation.OutcomeRejected && res.Outcome != conversation.OutcomeStale {
		s.persist.enqueue(sess.Snapshot(), res.Outcome == conversation.OutcomeCompleted)
	}
	if werr := s.persist.takeFailure(id); werr != nil {
		res.Warning = "recent changes may not be saved: " + werr.Error()
	}
	return res, nil
}

func (s *sessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *sessionService) Progress(ctx context.Context, id string) (conversation.Progress, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return conversation.Progress{}, err
	}
	return s.machine.Progress(sess), nil
}

// List reports stored sessions after queued writes have landed.
func (s *sessionService) List(ctx context.Context, filter repository.ListFilter) ([]repository.SessionSummary, error) {
	if err := s.persist.wait(ctx); err != nil {
		return nil, err
	}
	return s.store.List(ctx, filter)
}

func (s *sessionService) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "session.delete", start, err, map[string]any{"session": id}) }()

	unlock := s.lock(id)
	defer unlock()

	live := s.cache.Remove(id)
	queued := s.persist.drop(id)
	observability.SetLiveSessions(s.cache.Len())
	if err := s.persist.wait(ctx); err != nil {
		return err
	}

	err = s.store.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		if !live && !queued {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		err = nil
	}
	if err != nil {
		return err
	}
	s.machine.Forget(id)
	return nil
}

// Recaps returns full recaps for live or queued sessions and the stored
// summaries otherwise.
func (s *sessionService) Recaps(ctx context.Context, id string) ([]domain.StageRecap, error) {
	unlock := s.lock(id)
	defer unlock()

	if sess, ok := s.cache.Peek(id); ok {
		return orderedRecaps(sess.Recaps), nil
	}
	if snap, ok := s.persist.latest(id); ok {
		return orderedRecaps(snap.Recaps), nil
	}
	recaps, err := s.store.ListRecaps(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(recaps) == 0 {
		if _, err := s.load(ctx, id); err != nil {
			return nil, err
		}
	}
	return recaps, nil
}

func (s *sessionService) Flush(ctx context.Context) error {
	if err := s.persist.wait(ctx); err != nil {
		return err
	}
	failures := s.persist.takeAllFailures()
	if len(failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("saving session %s: %w", id, failures[id]))
	}
	return errors.Join(errs...)
}

func (s *sessionService) Close(ctx context.Context) error {
	if err := s.persist.close(ctx); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// load returns the live session for id, restoring it from the write queue
// or the store on a cache miss. Callers hold the session lock.
func (s *sessionService) load(ctx context.Context, id string) (*domain.Session, error) {
	if sess, ok := s.cache.Get(id); ok {
		return sess, nil
	}
	snap, ok := s.persist.latest(id)
	if !ok {
		var err error
		snap, err = s.store.Load(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return nil, err
		}
	}
	sess, err := domain.RestoreSession(snap)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, sess)
	observability.SetLiveSessions(s.cache.Len())
	return sess, nil
}
