package service

import (
	"context"
	"errors"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/repository"
)

// ErrSessionNotFound is returned for ids that are neither live nor stored.
var ErrSessionNotFound = errors.New("session not found")

// SessionService hosts sessions: it looks them up by id, routes events to
// the state machine and persists the result.
type SessionService interface {
	Start(ctx context.Context) (*domain.Session, conversation.Result, error)
	Handle(ctx context.Context, id string, ev domain.Event) (conversation.Result, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Progress(ctx context.Context, id string) (conversation.Progress, error)
	List(ctx context.Context, filter repository.ListFilter) ([]repository.SessionSummary, error)
	Delete(ctx context.Context, id string) error
	Recaps(ctx context.Context, id string) ([]domain.StageRecap, error)

	// Flush waits for queued writes and reports writes that exhausted
	// their retries since the last report.
	Flush(ctx context.Context) error
	// Close flushes and stops background persistence.
	Close(ctx context.Context) error
}
