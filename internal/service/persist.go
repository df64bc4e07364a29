package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexanderramin/blueprint/internal/archive"
	"github.com/alexanderramin/blueprint/internal/db"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/observability"
	"github.com/alexanderramin/blueprint/internal/repository"
)

// RetryPolicy controls how a failed snapshot write is retried.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy retries a write four times, doubling from 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Base: 100 * time.Millisecond, Max: 2 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Base * time.Duration(1<<attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// saveTimeout bounds one write attempt.
const saveTimeout = 5 * time.Second

type pendingWrite struct {
	snap    domain.Snapshot
	seq     uint64
	archive bool
}

// persister writes snapshots in the background. Writes for one session
// coalesce: only the newest queued snapshot is written.
type persister struct {
	uow      db.UnitOfWork
	txStore  func(db.DBTX) repository.SnapshotRepo
	archiver archive.Archiver
	policy   RetryPolicy
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]pendingWrite
	failures map[string]error
	seq      uint64
	busy     bool

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPersister(uow db.UnitOfWork, txStore func(db.DBTX) repository.SnapshotRepo, archiver archive.Archiver, policy RetryPolicy, logger *slog.Logger) *persister {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	p := &persister{
		uow:      uow,
		txStore:  txStore,
		archiver: archiver,
		policy:   policy,
		logger:   logger,
		pending:  map[string]pendingWrite{},
		failures: map[string]error{},
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue schedules snap for writing, replacing any older queued snapshot
// of the same session. archiveAfter requests an archive copy once the
// write succeeds. A request carried over from a replaced snapshot holds
// only while the session is still complete.
func (p *persister) enqueue(snap domain.Snapshot, archiveAfter bool) {
	p.mu.Lock()
	p.seq++
	prev := p.pending[snap.ID]
	archive := archiveAfter || (prev.archive && snap.Cursor.IsDone())
	p.pending[snap.ID] = pendingWrite{snap: snap, seq: p.seq, archive: archive}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// latest returns the queued snapshot for id, if one has not been written yet.
func (p *persister) latest(id string) (domain.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.pending[id]
	return w.snap, ok
}

// drop discards queued work and failures for id and reports whether a
// write was queued.
func (p *persister) drop(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	delete(p.pending, id)
	delete(p.failures, id)
	return ok
}

// takeFailure returns and clears the last exhausted write error for id.
func (p *persister) takeFailure(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.failures[id]
	delete(p.failures, id)
	return err
}

// takeAllFailures returns and clears every recorded failure.
func (p *persister) takeAllFailures() map[string]error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.failures
	p.failures = map[string]error{}
	return out
}

// wait blocks until nothing is queued or being written.
func (p *persister) wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		idle := len(p.pending) == 0 && !p.busy
		p.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// close drains the queue and stops the worker.
func (p *persister) close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.busy = false
			p.mu.Unlock()
			return
		}
		p.busy = true
		batch := make([]pendingWrite, 0, len(p.pending))
		for _, w := range p.pending {
			batch = append(batch, w)
		}
		p.mu.Unlock()

		for _, w := range batch {
			p.write(w)
		}
	}
}

func (p *persister) write(w pendingWrite) {
	id := w.snap.ID
	var err error
	for attempt := 0; attempt < p.policy.Attempts; attempt++ {
		if attempt > 0 {
			observability.RecordPersist("retry")
			time.Sleep(p.policy.delay(attempt - 1))
		}
		if err = p.save(w.snap); err == nil {
			break
		}
	}

	p.mu.Lock()
	cur, tracked := p.pending[id]
	if !tracked {
		// Deleted while this write was in flight.
		p.mu.Unlock()
		p.logger.Debug("dropped write for deleted session", slog.String("session", id))
		return
	}
	if cur.seq == w.seq {
		delete(p.pending, id)
	}
	if err != nil {
		p.failures[id] = err
	} else {
		delete(p.failures, id)
	}
	p.mu.Unlock()

	if err != nil {
		observability.RecordPersist("failed")
		p.logger.Warn("snapshot write failed",
			slog.String("session", id),
			slog.Int("attempts", p.policy.Attempts),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.RecordPersist("ok")

	if w.archive {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := p.archiver.Archive(ctx, w.snap); err != nil {
			p.logger.Warn("archive failed", slog.String("session", id), slog.String("error", err.Error()))
			return
		}
		p.logger.Info("session archived", slog.String("session", id))
	}
}

func (p *persister) save(snap domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	return p.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return p.txStore(tx).Save(ctx, snap)
	})
}
