package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/db"
	"github.com/alexanderramin/blueprint/internal/domain"
)

// SQLSnapshotRepo implements SnapshotRepo over database/sql. The full
// session lives in the snapshot column as versioned JSON; the cursor columns
// and stage_recaps rows are projections kept in step on every Save.
type SQLSnapshotRepo struct {
	db      db.DBTX
	dialect db.Dialect
}

// NewSQLiteSnapshotRepo creates a SnapshotRepo for a SQLite handle or tx.
func NewSQLiteSnapshotRepo(conn db.DBTX) *SQLSnapshotRepo {
	return &SQLSnapshotRepo{db: conn, dialect: db.DialectSQLite}
}

// NewPostgresSnapshotRepo creates a SnapshotRepo for a Postgres handle or tx
// opened through the pgx stdlib driver.
func NewPostgresSnapshotRepo(conn db.DBTX) *SQLSnapshotRepo {
	return &SQLSnapshotRepo{db: conn, dialect: db.DialectPostgres}
}

// NewSnapshotRepo picks the constructor for dialect.
func NewSnapshotRepo(conn db.DBTX, dialect db.Dialect) *SQLSnapshotRepo {
	return &SQLSnapshotRepo{db: conn, dialect: dialect}
}

func (r *SQLSnapshotRepo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *SQLSnapshotRepo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *SQLSnapshotRepo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...)
}

// Save upserts the snapshot and replaces the session's recap rows. Run it
// inside a UnitOfWork so both writes land together.
func (r *SQLSnapshotRepo) Save(ctx context.Context, snap domain.Snapshot) error {
	if snap.ID == "" {
		return errors.New("saving snapshot: missing session id")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	stage, step := cursorColumns(snap.Cursor)
	query := `INSERT INTO sessions (id, version, current_stage, current_step, snapshot, complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			current_stage = excluded.current_stage,
			current_step = excluded.current_step,
			snapshot = excluded.snapshot,
			complete = excluded.complete,
			updated_at = excluded.updated_at`
	_, err = r.exec(ctx, query,
		snap.ID,
		snap.Version,
		string(stage),
		string(step),
		string(payload),
		boolToInt(snap.Cursor.IsDone()),
		formatTime(snap.CreatedAt),
		formatTime(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	if _, err := r.exec(ctx, `DELETE FROM stage_recaps WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clearing stage recaps: %w", err)
	}
	for _, recap := range snap.Recaps {
		st, _, ok := domain.LookupStage(recap.Stage)
		if !ok {
			return fmt.Errorf("saving recap: unknown stage %q", recap.Stage)
		}
		_, err := r.exec(ctx,
			`INSERT INTO stage_recaps (session_id, stage, ordinal, summary, created_at) VALUES (?, ?, ?, ?, ?)`,
			snap.ID, string(recap.Stage), st.Ordinal, recap.Summary, formatTime(recap.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting stage recap: %w", err)
		}
	}
	return nil
}

// Load returns the stored snapshot. Undecodable payloads wrap
// domain.ErrCorruptSnapshot.
func (r *SQLSnapshotRepo) Load(ctx context.Context, id string) (domain.Snapshot, error) {
	var payload string
	err := r.queryRow(ctx, `SELECT snapshot FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Snapshot{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return domain.Snapshot{}, fmt.Errorf("loading session: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: session %s: %v", domain.ErrCorruptSnapshot, id, err)
	}
	if snap.ID != id {
		return domain.Snapshot{}, fmt.Errorf("%w: session %s holds snapshot for %q", domain.ErrCorruptSnapshot, id, snap.ID)
	}
	return snap, nil
}

// List returns summaries ordered by most recent update first.
func (r *SQLSnapshotRepo) List(ctx context.Context, filter ListFilter) ([]SessionSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.Complete != nil {
		where = append(where, "complete = ?")
		args = append(args, boolToInt(*filter.Complete))
	}

	query := `SELECT id, current_stage, current_step, complete, created_at, updated_at FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s                    SessionSummary
			stage, step          string
			complete             int
			createdAt, updatedAt string
		)
		if err := rows.Scan(&s.ID, &stage, &step, &complete, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		s.Stage = domain.StageID(stage)
		s.Step = domain.StepID(step)
		s.Complete = intToBool(complete)
		if s.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

// Delete removes a session; its recap rows cascade.
func (r *SQLSnapshotRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, `DELETE FROM stage_recaps WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting stage recaps: %w", err)
	}
	res, err := r.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return requireAffected(res, "session "+id)
}

// ListRecaps returns the recap projection in stage order. Only the summary
// text is stored; Snapshot is left nil.
func (r *SQLSnapshotRepo) ListRecaps(ctx context.Context, sessionID string) ([]domain.StageRecap, error) {
	rows, err := r.query(ctx,
		`SELECT stage, summary, created_at FROM stage_recaps WHERE session_id = ? ORDER BY ordinal`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stage recaps: %w", err)
	}
	defer rows.Close()

	var out []domain.StageRecap
	for rows.Next() {
		var stage, summary, createdAt string
		if err := rows.Scan(&stage, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning stage recap: %w", err)
		}
		at, err := parseTime(createdAt, "created_at")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.StageRecap{Stage: domain.StageID(stage), Summary: summary, CreatedAt: at})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stage recaps: %w", err)
	}
	return out, nil
}

func cursorColumns(p domain.Position) (domain.StageID, domain.StepID) {
	if p.IsDone() {
		return domain.StageDone, ""
	}
	ref := domain.RefAt(p)
	return ref.Stage, ref.Step
}
