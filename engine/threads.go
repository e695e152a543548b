package engine

import (
	"context"
	"errors"
	"fmt"

	"orgchat/models"
)

// ListThreads returns one page of the user's conversations, newest activity
// first, with peer profiles resolved and unread counts attached. Pages are
// served from cache while fresh; when the store is unreachable the
// last-known page is returned instead of an error.
func (e *Engine) ListThreads(ctx context.Context, page int) ([]models.ThreadSummary, error) {
	if page < 0 {
		page = 0
	}

	if summaries, ok := e.caches.Threads.Get(page); ok {
		return summaries, nil
	}
	pageVersion := e.caches.Threads.Version(page)

	threads, err := e.store.ListThreads(ctx, e.cfg.OrgID, e.cfg.UserID, page, e.cfg.ThreadPageSize)
	if err != nil {
		if stale, ok := e.caches.Threads.Stale(page); ok {
			e.log.WithError(err).WithField("page", page).Warn("serving stale thread page")
			return stale, nil
		}
		return nil, fmt.Errorf("list threads page %d: %w", page, errors.Join(models.ErrUnavailable, err))
	}

	peerIDs := make([]string, 0, len(threads))
	for i := range threads {
		peerIDs = append(peerIDs, threads[i].Peer(e.cfg.UserID))
	}
	profiles := e.peerProfiles(ctx, peerIDs)

	summaries := make([]models.ThreadSummary, 0, len(threads))
	for i := range threads {
		peerID := threads[i].Peer(e.cfg.UserID)
		summaries = append(summaries, models.ThreadSummary{
			Thread: threads[i],
			Peer:   profiles[peerID],
		})
		e.caches.Unread.Set(threads[i].ID, threads[i].UnreadCount)
	}

	// Skip the re-cache if a concurrent writer touched the page meanwhile;
	// the fetched result is still returned.
	if e.caches.Threads.Version(page) == pageVersion {
		e.caches.Threads.Put(page, summaries)
	}
	return summaries, nil
}
