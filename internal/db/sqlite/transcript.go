package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/pkg/models"
)

// TranscriptStore persists per-session chat transcripts, keyed by the
// session's history name.
type TranscriptStore struct {
	store *Store
}

// NewTranscriptStore creates a new transcript store.
func NewTranscriptStore(store *Store) *TranscriptStore {
	return &TranscriptStore{store: store}
}

// AppendEntry adds one line to the transcript logName.
func (s *TranscriptStore) AppendEntry(ctx context.Context, logName, from string, fromID uuid.UUID, text string, at time.Time) (int64, error) {
	const query = `
		INSERT INTO transcripts (log_name, from_name, from_id, text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	fromIDStr := ""
	if fromID != uuid.Nil {
		fromIDStr = fromID.String()
	}
	result, err := s.store.ExecContext(ctx, query,
		logName, from, fromIDStr, text,
		at.UTC().Format(time.RFC3339Nano), at.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// LoadHistory returns the newest limit entries of logName, oldest first.
func (s *TranscriptStore) LoadHistory(ctx context.Context, logName string, limit int) ([]models.TranscriptEntry, error) {
	const query = `
		SELECT id, log_name, from_name, from_id, text, created_at_epoch
		FROM (
			SELECT id, log_name, from_name, from_id, text, created_at_epoch
			FROM transcripts
			WHERE log_name = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.QueryContext(ctx, query, logName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.TranscriptEntry
	for rows.Next() {
		var e models.TranscriptEntry
		var fromID string
		var epoch int64
		if err := rows.Scan(&e.ID, &e.LogName, &e.From, &fromID, &e.Text, &epoch); err != nil {
			return nil, err
		}
		if fromID != "" {
			e.FromID, _ = uuid.Parse(fromID)
		}
		e.CreatedAt = time.UnixMilli(epoch)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastEntry returns the newest entry of logName, or nil if the transcript
// is empty.
func (s *TranscriptStore) LastEntry(ctx context.Context, logName string) (*models.TranscriptEntry, error) {
	entries, err := s.LoadHistory(ctx, logName, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// ListLogs returns every transcript name with its entry count.
func (s *TranscriptStore) ListLogs(ctx context.Context) (map[string]int, error) {
	const query = `SELECT log_name, COUNT(*) FROM transcripts GROUP BY log_name ORDER BY log_name`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		logs[name] = n
	}
	return logs, rows.Err()
}

// DeleteOlderThan removes entries created before cutoff and returns how
// many were deleted.
func (s *TranscriptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM transcripts WHERE created_at_epoch < ?`
	result, err := s.store.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountEntries returns the number of entries in logName.
func (s *TranscriptStore) CountEntries(ctx context.Context, logName string) (int, error) {
	const query = `SELECT COUNT(*) FROM transcripts WHERE log_name = ?`
	var n int
	err := s.store.QueryRowContext(ctx, query, logName).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
