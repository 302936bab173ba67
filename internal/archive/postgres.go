package archive

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InsertClosedSession archives a closed session and its decided items in
// one transaction. Re-archiving the same code is a no-op, so a retried
// closure cannot double-write.
func (s *PostgresStore) InsertClosedSession(ctx context.Context, sess ClosedSession, items []DecidedItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO closed_sessions
			(code, session_date, created_by, closed_by, closed_at, duration_seconds,
			 total_items, total_approved, total_needs_revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO NOTHING
	`, sess.Code, sess.Date, sess.CreatedBy, sess.ClosedBy, sess.ClosedAt,
		sess.DurationSeconds, sess.TotalItems, sess.TotalApproved, sess.TotalNeedsRevision)
	if err != nil {
		return fmt.Errorf("insert closed session: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decided_items
				(session_code, session_date, agenda_item_id, title, decision,
				 ballot_count, approved_count, needs_revision_count, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, sess.Code, sess.Date, item.AgendaItemID, item.Title, item.Decision,
			item.BallotCount, item.ApprovedCount, item.NeedsRevisionCount, item.DecidedAt); err != nil {
			return fmt.Errorf("insert decided item %s: %w", item.AgendaItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// ListClosedSessions returns archived sessions, newest first.
func (s *PostgresStore) ListClosedSessions(ctx context.Context, limit int) ([]ClosedSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, session_date, created_by, closed_by, closed_at, duration_seconds,
		       total_items, total_approved, total_needs_revision
		FROM closed_sessions
		ORDER BY closed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ClosedSession
	for rows.Next() {
		var sess ClosedSession
		if err := rows.Scan(&sess.Code, &sess.Date, &sess.CreatedBy, &sess.ClosedBy,
			&sess.ClosedAt, &sess.DurationSeconds, &sess.TotalItems,
			&sess.TotalApproved, &sess.TotalNeedsRevision); err != nil {
			return nil, fmt.Errorf("scan closed session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SearchDecidedItems is the search fallback when Meilisearch is down:
// case-insensitive substring match over titles and decisions.
func (s *PostgresStore) SearchDecidedItems(ctx context.Context, query string, limit int) ([]DecidedItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_code, session_date, agenda_item_id, title, decision,
		       ballot_count, approved_count, needs_revision_count, decided_at
		FROM decided_items
		WHERE title ILIKE '%' || $1 || '%' OR decision ILIKE '%' || $1 || '%'
		ORDER BY decided_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search decided items: %w", err)
	}
	defer rows.Close()

	var items []DecidedItem
	for rows.Next() {
		var item DecidedItem
		if err := rows.Scan(&item.ID, &item.SessionCode, &item.SessionDate,
			&item.AgendaItemID, &item.Title, &item.Decision, &item.BallotCount,
			&item.ApprovedCount, &item.NeedsRevisionCount, &item.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decided item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
