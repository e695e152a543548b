package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"orgchat/crypto"
	"orgchat/models"
)

// ListMessages returns one page of a thread's history in ascending order,
// decrypted. Page zero is the live newest window and is cache-backed;
// older pages are immutable and always read through to the store. Messages
// that cannot be decrypted surface as tombstones, never as page errors.
func (e *Engine) ListMessages(ctx context.Context, threadID string, page int) ([]models.Message, error) {
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	if page < 0 {
		page = 0
	}

	var windowVersion uint64
	if page == 0 {
		if window, ok := e.caches.Messages.Get(threadID); ok {
			return window, nil
		}
		windowVersion = e.caches.Messages.Version(threadID)
	}

	messages, err := e.store.ListMessages(ctx, e.cfg.OrgID, threadID, page, e.cfg.MessagePageSize)
	if err != nil {
		err = fmt.Errorf("list messages page %d: %w", page, errors.Join(models.ErrUnavailable, err))
	} else {
		messages, err = e.decryptPage(ctx, messages)
	}
	if err != nil {
		if page == 0 && errors.Is(err, models.ErrUnavailable) {
			if stale, ok := e.caches.Messages.Stale(threadID); ok {
				e.log.WithError(err).WithField("thread_id", threadID).Warn("serving stale message window")
				return stale, nil
			}
		}
		return nil, err
	}

	// Re-cache only if no concurrent writer advanced the window while the
	// store read and decryption were in flight.
	if page == 0 && e.caches.Messages.Version(threadID) == windowVersion {
		e.caches.Messages.Put(threadID, messages)
	}
	return messages, nil
}

// decryptPage resolves peer keys once for the page and decrypts every
// message. Short pages run inline; longer ones fan out to a bounded pool
// with a deadline, and anything still sealed when the deadline hits is
// finished inline so both paths yield the same result. A directory outage
// that leaves any message without its peer key fails the page with
// ErrUnavailable rather than tombstoning messages that are merely
// unresolvable right now.
func (e *Engine) decryptPage(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}

	identity, err := e.identity()
	if err != nil {
		return nil, err
	}

	peerIDs := make([]string, 0, len(messages))
	for i := range messages {
		peerIDs = append(peerIDs, e.messagePeer(&messages[i]))
	}
	keys, keysErr := e.peerKeys(ctx, peerIDs)
	if keysErr != nil {
		for _, peerID := range peerIDs {
			if _, ok := keys[peerID]; !ok {
				return nil, fmt.Errorf("resolve peer keys: %w", errors.Join(models.ErrUnavailable, keysErr))
			}
		}
	}

	if len(messages) <= e.cfg.DecryptPoolThreshold {
		for i := range messages {
			e.decryptOne(&messages[i], identity.KeyPair.Private, keys)
		}
		return messages, nil
	}

	poolCtx, cancel := context.WithTimeout(ctx, e.cfg.DecryptTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(poolCtx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range messages {
		if gctx.Err() != nil {
			break
		}
		msg := &messages[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			e.decryptOne(msg, identity.KeyPair.Private, keys)
			return nil
		})
	}
	_ = g.Wait()

	// Deadline stragglers.
	for i := range messages {
		if _, sealed := messages[i].Body.(models.Sealed); sealed || messages[i].Body == nil {
			e.decryptOne(&messages[i], identity.KeyPair.Private, keys)
		}
	}

	return messages, nil
}

// messagePeer returns the other party of a message from this session's
// point of view.
func (e *Engine) messagePeer(msg *models.Message) string {
	if msg.SenderID == e.cfg.UserID {
		return msg.RecipientID
	}
	return msg.SenderID
}

// decryptOne replaces the message body with Plaintext on success or
// Tombstone on any failure. The box construction derives the same shared
// key for both parties, so our own sent messages decrypt with the
// recipient's public key.
func (e *Engine) decryptOne(msg *models.Message, ownPrivate [crypto.KeySize]byte, keys map[string][crypto.KeySize]byte) {
	peerKey, ok := keys[e.messagePeer(msg)]
	if !ok {
		msg.Body = models.Tombstone{}
		return
	}

	plaintext, err := crypto.Decrypt(msg.Ciphertext, msg.Nonce, peerKey, ownPrivate)
	if err != nil {
		e.log.WithField("message_id", msg.ID).Warn("message failed authentication, tombstoning")
		msg.Body = models.Tombstone{}
		return
	}
	msg.Body = models.Plaintext{Text: string(plaintext)}
}
