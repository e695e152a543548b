package engine

import (
	"context"
	"sort"
	"time"

	"orgchat/models"
)

// ReconcileMessages folds a batch of newly persisted messages into the
// session's caches. Our own sends arrive back as echoes and are matched by
// message id, so optimistic inserts are never duplicated. Messages for the
// thread currently on screen are marked read immediately; everything else
// bumps the unread badge.
func (e *Engine) ReconcileMessages(ctx context.Context, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}

	identity, err := e.identity()
	if err != nil {
		e.log.WithError(err).Warn("dropping change batch: no session identity")
		return
	}

	peerIDs := make([]string, 0, len(msgs))
	for i := range msgs {
		peerIDs = append(peerIDs, e.messagePeer(&msgs[i]))
	}
	keys, keysErr := e.peerKeys(ctx, peerIDs)

	byThread := make(map[string][]models.Message)
	for _, msg := range msgs {
		byThread[msg.ThreadID] = append(byThread[msg.ThreadID], msg)
	}

	activeThread := e.ActiveThread()

	for threadID, batch := range byThread {
		missingKey := false
		if keysErr != nil {
			for i := range batch {
				if _, ok := keys[e.messagePeer(&batch[i])]; !ok {
					missingKey = true
					break
				}
			}
		}

		fresh := batch
		if missingKey {
			// Merging now would pin sealed entries the id-dedupe could
			// never repair; drop the window so the next read refetches
			// once the directory is back.
			e.caches.Messages.Invalidate(threadID)
			e.log.WithField("thread_id", threadID).Warn("directory outage during reconcile, dropping cached window")
		} else {
			fresh = e.mergeIntoWindow(threadID, batch, func(msg *models.Message) {
				e.decryptOne(msg, identity.KeyPair.Private, keys)
			})
		}

		e.refreshUnread(ctx, threadID, fresh, activeThread)
	}

	e.caches.Threads.InvalidateAll()
}

// refreshUnread updates the badge after new messages landed in threadID.
// The active thread is read immediately; any other thread gets the
// authoritative store count, so a badge set by an earlier thread listing is
// never double-counted by the feed delivery of the same message.
func (e *Engine) refreshUnread(ctx context.Context, threadID string, fresh []models.Message, activeThread string) {
	hasNew := false
	for i := range fresh {
		if fresh[i].RecipientID == e.cfg.UserID && !fresh[i].Read() {
			hasNew = true
			break
		}
	}
	if !hasNew {
		return
	}

	if threadID == activeThread {
		if _, err := e.MarkThreadRead(ctx, threadID); err != nil {
			e.log.WithError(err).WithField("thread_id", threadID).Warn("auto-read of active thread failed")
		}
		return
	}

	n, err := e.store.CountUnread(ctx, e.cfg.OrgID, threadID, e.cfg.UserID)
	if err != nil {
		e.log.WithError(err).WithField("thread_id", threadID).Warn("unread recount failed, bumping badge")
		for i := range fresh {
			if fresh[i].RecipientID == e.cfg.UserID && !fresh[i].Read() {
				e.caches.Unread.Bump(threadID)
			}
		}
		return
	}
	e.caches.Unread.Set(threadID, n)
}

// ApplyReadReceipt folds a remote read transition into the cached window:
// every message addressed to readerID in the thread becomes read. When the
// reader is this session (another device, or a redundant echo of our own
// batch update) the badge zeroes too.
func (e *Engine) ApplyReadReceipt(threadID, readerID string, at time.Time) {
	if threadID == "" || readerID == "" {
		return
	}

	e.applyReadToWindow(threadID, readerID, at)
	if readerID == e.cfg.UserID {
		e.caches.Unread.Zero(threadID)
	}
	e.caches.Threads.InvalidateAll()
}

// appendToWindow adds one message to the cached newest window, if the
// thread has one.
func (e *Engine) appendToWindow(threadID string, msg models.Message) {
	window, ok := e.caches.Messages.Get(threadID)
	if !ok {
		return
	}

	for i := range window {
		if window[i].ID == msg.ID {
			return
		}
	}

	next := make([]models.Message, 0, len(window)+1)
	next = append(next, window...)
	next = append(next, msg)
	sortWindow(next)
	e.caches.Messages.Put(threadID, next)
}

// mergeIntoWindow deduplicates the batch against the cached window by
// message id, decrypts the genuinely new messages, and re-caches the merged
// window in order. Returns the new messages whether or not a window was
// cached.
func (e *Engine) mergeIntoWindow(threadID string, batch []models.Message, decrypt func(*models.Message)) []models.Message {
	window, cached := e.caches.Messages.Get(threadID)

	known := make(map[string]struct{}, len(window))
	for i := range window {
		known[window[i].ID] = struct{}{}
	}

	fresh := make([]models.Message, 0, len(batch))
	for _, msg := range batch {
		if _, dup := known[msg.ID]; dup {
			continue
		}
		known[msg.ID] = struct{}{}
		decrypt(&msg)
		fresh = append(fresh, msg)
	}

	if cached && len(fresh) > 0 {
		next := make([]models.Message, 0, len(window)+len(fresh))
		next = append(next, window...)
		next = append(next, fresh...)
		sortWindow(next)
		e.caches.Messages.Put(threadID, next)
	}

	return fresh
}

// applyReadToWindow marks every unread message addressed to readerID in the
// cached window as read.
func (e *Engine) applyReadToWindow(threadID, readerID string, at time.Time) {
	window, ok := e.caches.Messages.Get(threadID)
	if !ok {
		return
	}

	readAt := at.UTC()
	changed := false
	next := make([]models.Message, len(window))
	copy(next, window)
	for i := range next {
		if next[i].RecipientID == readerID && next[i].ReadAt == nil {
			t := readAt
			next[i].ReadAt = &t
			changed = true
		}
	}

	if changed {
		e.caches.Messages.Put(threadID, next)
	}
}

func sortWindow(window []models.Message) {
	sort.SliceStable(window, func(i, j int) bool {
		if !window[i].CreatedAt.Equal(window[j].CreatedAt) {
			return window[i].CreatedAt.Before(window[j].CreatedAt)
		}
		if window[i].Seq != window[j].Seq {
			return window[i].Seq < window[j].Seq
		}
		return window[i].ID < window[j].ID
	})
}
