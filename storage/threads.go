package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orgchat/models"
)

// UpsertThread finds or creates the thread for an unordered participant
// pair. Creation is idempotent: concurrent creators converge on one row via
// the unique index on (org, low, high); the loser of the race re-selects.
func (s *Store) UpsertThread(ctx context.Context, orgID, participantA, participantB string) (models.Thread, error) {
	if orgID == "" {
		return models.Thread{}, errors.New("org_id is required")
	}
	if participantA == "" || participantB == "" {
		return models.Thread{}, errors.New("both participants are required")
	}
	if participantA == participantB {
		return models.Thread{}, errors.New("thread participants must differ")
	}

	low, high := models.CanonicalPair(participantA, participantB)

	for attempt := 0; attempt < 2; attempt++ {
		thread, err := s.threadByPair(ctx, orgID, low, high)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.Thread{}, err
		}

		threadID := uuid.NewString()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO threads (thread_id, org_id, participant_low, participant_high)
			VALUES (?, ?, ?, ?)`,
			threadID, orgID, low, high,
		)
		if err == nil {
			return models.Thread{
				ID:              threadID,
				OrgID:           orgID,
				ParticipantLow:  low,
				ParticipantHigh: high,
			}, nil
		}
		if isConflict(err) {
			// Lost the creation race; the next iteration finds the winner.
			continue
		}
		return models.Thread{}, fmt.Errorf("insert thread for pair (%q,%q): %w", low, high, err)
	}

	return models.Thread{}, fmt.Errorf("upsert thread for pair (%q,%q): %w", low, high, models.ErrConflict)
}

func (s *Store) threadByPair(ctx context.Context, orgID, low, high string) (models.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, org_id, participant_low, participant_high, last_message_at, last_message_id
		FROM threads
		WHERE org_id = ? AND participant_low = ? AND participant_high = ?`,
		orgID, low, high,
	)

	thread, err := scanThread(row, 0)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Thread{}, models.ErrNotFound
		}
		return models.Thread{}, fmt.Errorf("select thread for pair (%q,%q): %w", low, high, err)
	}
	return thread, nil
}

// ListThreads returns one page of threads involving userID, newest activity
// first with never-messaged threads last, with aggregate unread counts
// resolved in the same query.
func (s *Store) ListThreads(ctx context.Context, orgID, userID string, page, pageSize int) ([]models.Thread, error) {
	if orgID == "" {
		return nil, errors.New("org_id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if page < 0 {
		page = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			t.thread_id,
			t.org_id,
			t.participant_low,
			t.participant_high,
			t.last_message_at,
			t.last_message_id,
			COALESCE(u.unread, 0)
		FROM threads t
		LEFT JOIN (
			SELECT thread_id, COUNT(*) AS unread
			FROM messages
			WHERE recipient_id = ? AND read_at IS NULL
			GROUP BY thread_id
		) u ON u.thread_id = t.thread_id
		WHERE t.org_id = ? AND (t.participant_low = ? OR t.participant_high = ?)
		ORDER BY (t.last_message_at IS NULL) ASC, t.last_message_at DESC, t.thread_id ASC
		LIMIT ? OFFSET ?`,
		userID, orgID, userID, userID, pageSize, page*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list threads for user %q: %w", userID, err)
	}
	defer rows.Close()

	threads := make([]models.Thread, 0)
	for rows.Next() {
		var (
			thread models.Thread
			lastAt sql.NullInt64
			lastID sql.NullString
		)
		if err := rows.Scan(
			&thread.ID,
			&thread.OrgID,
			&thread.ParticipantLow,
			&thread.ParticipantHigh,
			&lastAt,
			&lastID,
			&thread.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		thread.LastMessageAt = timePtr(lastAt)
		if lastID.Valid {
			thread.LastMessageID = lastID.String
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}

	return threads, nil
}

// TouchThread updates the thread's last-message pointer. Best-effort from
// the engine's point of view: eventual consistency is acceptable for this
// pointer only.
func (s *Store) TouchThread(ctx context.Context, orgID, threadID, lastMessageID string, at time.Time) error {
	if threadID == "" {
		return errors.New("thread_id is required")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE threads
		SET last_message_at = ?, last_message_id = ?
		WHERE org_id = ? AND thread_id = ?`,
		timeMillis(at), lastMessageID, orgID, threadID,
	)
	if err != nil {
		return fmt.Errorf("touch thread %q: %w", threadID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for touch thread %q: %w", threadID, err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFound
	}

	return nil
}

func scanThread(row scanner, unread int) (models.Thread, error) {
	var (
		thread models.Thread
		lastAt sql.NullInt64
		lastID sql.NullString
	)
	if err := row.Scan(
		&thread.ID,
		&thread.OrgID,
		&thread.ParticipantLow,
		&thread.ParticipantHigh,
		&lastAt,
		&lastID,
	); err != nil {
		return models.Thread{}, err
	}

	thread.LastMessageAt = timePtr(lastAt)
	if lastID.Valid {
		thread.LastMessageID = lastID.String
	}
	thread.UnreadCount = unread
	return thread, nil
}
