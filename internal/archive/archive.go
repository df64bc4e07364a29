// Package archive copies finished sessions to long-term object storage.
package archive

import (
	"context"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// Archiver stores the final snapshot of a completed session.
type Archiver interface {
	Archive(ctx context.Context, snap domain.Snapshot) error
}

// Noop discards every snapshot. It is used when no archive is configured.
type Noop struct{}

func (Noop) Archive(context.Context, domain.Snapshot) error { return nil }
