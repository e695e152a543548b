package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orgchat/models"
)

// InsertMessage persists one ciphertext row. The store assigns created_at;
// the caller supplies the client-generated message id, which is also the
// optimistic-echo reconciliation key. A ChangeInsert event is emitted after
// the row commits.
func (s *Store) InsertMessage(ctx context.Context, orgID string, msg models.Message) (models.Message, error) {
	if orgID == "" {
		return models.Message{}, errors.New("org_id is required")
	}
	if msg.ID == "" {
		return models.Message{}, errors.New("message_id is required")
	}
	if msg.ThreadID == "" {
		return models.Message{}, errors.New("thread_id is required")
	}
	if msg.SenderID == "" || msg.RecipientID == "" {
		return models.Message{}, errors.New("sender and recipient are required")
	}
	if len(msg.Nonce) == 0 || len(msg.Ciphertext) == 0 {
		return models.Message{}, errors.New("nonce and ciphertext are required")
	}

	createdAt := time.UnixMilli(nowUnixMilli()).UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			message_id,
			thread_id,
			org_id,
			sender_id,
			recipient_id,
			created_at,
			read_at,
			nonce,
			ciphertext
		) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		msg.ID,
		msg.ThreadID,
		orgID,
		msg.SenderID,
		msg.RecipientID,
		timeMillis(createdAt),
		msg.Nonce,
		msg.Ciphertext,
	)
	if err != nil {
		if isConflict(err) {
			return models.Message{}, fmt.Errorf("insert message %q: %w", msg.ID, models.ErrConflict)
		}
		return models.Message{}, fmt.Errorf("insert message %q: %w", msg.ID, err)
	}

	// The rowid is the insert sequence: created_at has millisecond
	// resolution, so same-instant messages order by it.
	seq, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("read insert sequence for message %q: %w", msg.ID, err)
	}

	msg.Seq = seq
	msg.CreatedAt = createdAt
	msg.ReadAt = nil

	event := msg
	event.Body = models.Sealed{}
	s.emit(models.ChangeEvent{
		Table:   models.TableMessages,
		Type:    models.ChangeInsert,
		OrgID:   orgID,
		Message: event,
	})

	return msg, nil
}

// ListMessages returns one page of a thread's history in ascending
// created_at order. Page zero is the newest window; higher pages walk back
// through immutable history.
func (s *Store) ListMessages(ctx context.Context, orgID, threadID string, page, pageSize int) ([]models.Message, error) {
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			message_id,
			thread_id,
			sender_id,
			recipient_id,
			rowid,
			created_at,
			read_at,
			nonce,
			ciphertext
		FROM messages
		WHERE org_id = ? AND thread_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		orgID, threadID, pageSize, page*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for thread %q: %w", threadID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Newest-window pages are selected descending; callers see ascending.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CountUnread returns the number of unread messages addressed to readerID
// in the thread. Authoritative source for the unread badge.
func (s *Store) CountUnread(ctx context.Context, orgID, threadID, readerID string) (int, error) {
	if threadID == "" {
		return 0, errors.New("thread_id is required")
	}
	if readerID == "" {
		return 0, errors.New("reader_id is required")
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		FROM messages
		WHERE org_id = ? AND thread_id = ? AND recipient_id = ? AND read_at IS NULL`,
		orgID, threadID, readerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread for thread %q: %w", threadID, err)
	}

	return n, nil
}

// MarkThreadRead sets read_at for every unread message addressed to
// readerID in the thread, in one batched update. read_at is set exactly
// once per message. Returns the number of transitioned rows and emits a
// ChangeUpdate event when any transitioned.
func (s *Store) MarkThreadRead(ctx context.Context, orgID, threadID, readerID string, at time.Time) (int64, error) {
	if threadID == "" {
		return 0, errors.New("thread_id is required")
	}
	if readerID == "" {
		return 0, errors.New("reader_id is required")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET read_at = ?
		WHERE org_id = ? AND thread_id = ? AND recipient_id = ? AND read_at IS NULL`,
		timeMillis(at), orgID, threadID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark thread %q read: %w", threadID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for mark thread read %q: %w", threadID, err)
	}

	if rowsAffected > 0 {
		readAt := at.UTC()
		s.emit(models.ChangeEvent{
			Table: models.TableMessages,
			Type:  models.ChangeUpdate,
			OrgID: orgID,
			Message: models.Message{
				ThreadID:    threadID,
				RecipientID: readerID,
				ReadAt:      &readAt,
				Body:        models.Sealed{},
			},
		})
	}

	return rowsAffected, nil
}

func scanMessage(row scanner) (models.Message, error) {
	var (
		msg       models.Message
		createdAt int64
		readAt    sql.NullInt64
	)
	if err := row.Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Seq,
		&createdAt,
		&readAt,
		&msg.Nonce,
		&msg.Ciphertext,
	); err != nil {
		return models.Message{}, err
	}

	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	msg.ReadAt = timePtr(readAt)
	msg.Body = models.Sealed{}
	return msg, nil
}
