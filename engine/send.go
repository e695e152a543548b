package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"orgchat/crypto"
	"orgchat/models"
)

// SendMessage validates, encrypts, and persists one message to recipientID,
// creating the thread on first contact. Validation and rate limiting run
// before any store traffic. The returned message carries the plaintext body
// for immediate optimistic display; the store only ever saw ciphertext.
func (e *Engine) SendMessage(ctx context.Context, recipientID, content string) (models.Message, error) {
	if recipientID == "" {
		return models.Message{}, errors.New("recipient_id is required")
	}
	if recipientID == e.cfg.UserID {
		return models.Message{}, fmt.Errorf("%w: cannot message yourself", models.ErrInvalidContent)
	}

	identity, err := e.identity()
	if err != nil {
		return models.Message{}, err
	}

	sanitized, err := crypto.ValidateContent(content)
	if err != nil {
		return models.Message{}, err
	}

	if ok, resetAt := e.limiter.Admit(e.cfg.UserID); !ok {
		return models.Message{}, &models.RateLimitError{ResetAt: resetAt}
	}

	recipientKey, err := e.recipientKey(ctx, recipientID)
	if err != nil {
		return models.Message{}, err
	}

	thread, err := e.upsertThread(ctx, recipientID)
	if err != nil {
		return models.Message{}, err
	}

	ciphertext, nonce, err := crypto.Encrypt([]byte(sanitized), recipientKey, identity.KeyPair.Private)
	if err != nil {
		return models.Message{}, fmt.Errorf("encrypt message: %w", err)
	}

	msg := models.Message{
		ID:          uuid.NewString(),
		ThreadID:    thread.ID,
		SenderID:    e.cfg.UserID,
		RecipientID: recipientID,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}

	stored, err := e.store.InsertMessage(ctx, e.cfg.OrgID, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}
	stored.Body = models.Plaintext{Text: sanitized}

	// The pointer update is best-effort; listing falls back to message
	// rows for ordering, so a miss here costs freshness, not correctness.
	if err := e.store.TouchThread(ctx, e.cfg.OrgID, thread.ID, stored.ID, stored.CreatedAt); err != nil {
		e.log.WithError(err).WithField("thread_id", thread.ID).Warn("thread pointer update failed")
	}

	e.appendToWindow(thread.ID, stored)
	e.caches.Threads.InvalidateAll()

	e.log.WithFields(logrus.Fields{
		"thread_id":  thread.ID,
		"message_id": stored.ID,
	}).Debug("message sent")

	return stored, nil
}

// MarkThreadRead transitions every unread message addressed to this user in
// the thread to read, in one batch. The unread badge zeroes immediately;
// the store update follows. Returns how many messages transitioned.
func (e *Engine) MarkThreadRead(ctx context.Context, threadID string) (int64, error) {
	if threadID == "" {
		return 0, errors.New("thread_id is required")
	}

	e.caches.Unread.Zero(threadID)

	readAt := e.now().UTC()
	n, err := e.store.MarkThreadRead(ctx, e.cfg.OrgID, threadID, e.cfg.UserID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark thread %q read: %w", threadID, err)
	}

	if n > 0 {
		e.applyReadToWindow(threadID, e.cfg.UserID, readAt)
		e.caches.Threads.InvalidateAll()
	}

	return n, nil
}

// recipientKey resolves the recipient's published key, cache-first. A user
// with no published key cannot receive encrypted messages.
func (e *Engine) recipientKey(ctx context.Context, recipientID string) ([crypto.KeySize]byte, error) {
	if key, ok := e.caches.Keys.Get(recipientID); ok {
		return key, nil
	}

	key, err := e.dir.PublicKey(ctx, recipientID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return [crypto.KeySize]byte{}, fmt.Errorf("recipient %q has no published key: %w", recipientID, models.ErrKeyUnavailable)
		}
		return [crypto.KeySize]byte{}, fmt.Errorf("resolve recipient key: %w", err)
	}

	e.caches.Keys.Put(recipientID, key)
	return key, nil
}

// upsertThread finds or creates the conversation with recipientID, retrying
// a bounded number of times when creation races another session.
func (e *Engine) upsertThread(ctx context.Context, recipientID string) (models.Thread, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.UpsertRetries; attempt++ {
		thread, err := e.store.UpsertThread(ctx, e.cfg.OrgID, e.cfg.UserID, recipientID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return models.Thread{}, fmt.Errorf("resolve thread with %q: %w", recipientID, err)
		}
		lastErr = err
	}
	return models.Thread{}, fmt.Errorf("resolve thread with %q after %d attempts: %w", recipientID, e.cfg.UpsertRetries, lastErr)
}
