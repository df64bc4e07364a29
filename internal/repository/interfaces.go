package repository

import (
	"context"
	"time"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// SessionSummary is the list view of a stored session.
type SessionSummary struct {
	ID        string
	Stage     domain.StageID
	Step      domain.StepID
	Complete  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilter narrows List results. A nil Complete lists every session.
type ListFilter struct {
	Complete *bool
	Limit    int
}

// SnapshotRepo stores session snapshots and the recap projection derived
// from them.
type SnapshotRepo interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context, id string) (domain.Snapshot, error)
	List(ctx context.Context, filter ListFilter) ([]SessionSummary, error)
	Delete(ctx context.Context, id string) error
	ListRecaps(ctx context.Context, sessionID string) ([]domain.StageRecap, error)
}
