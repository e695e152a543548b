package storage

import (
	"errors"

	"orgchat/models"
)

type feedSubscriber struct {
	orgID string
	fn    func(models.ChangeEvent)
}

// Subscribe registers fn for change events scoped to orgID and returns a
// disposer. Events are delivered on their own goroutine per subscriber;
// consumers are expected to order by created_at themselves (the realtime
// layer sorts and dedupes).
func (s *Store) Subscribe(orgID string, fn func(models.ChangeEvent)) (func(), error) {
	if orgID == "" {
		return nil, errors.New("org_id is required")
	}
	if fn == nil {
		return nil, errors.New("subscriber callback is required")
	}

	s.feedMu.Lock()
	s.feedNextID++
	id := s.feedNextID
	s.feedSubs[id] = feedSubscriber{orgID: orgID, fn: fn}
	s.feedMu.Unlock()

	cancel := func() {
		s.feedMu.Lock()
		delete(s.feedSubs, id)
		s.feedMu.Unlock()
	}
	return cancel, nil
}

func (s *Store) emit(event models.ChangeEvent) {
	s.feedMu.Lock()
	targets := make([]func(models.ChangeEvent), 0, len(s.feedSubs))
	for _, sub := range s.feedSubs {
		if sub.orgID == event.OrgID {
			targets = append(targets, sub.fn)
		}
	}
	s.feedMu.Unlock()

	for _, fn := range targets {
		go fn(event)
	}
}

func (s *Store) dropSubscribers() {
	s.feedMu.Lock()
	s.feedSubs = make(map[int]feedSubscriber)
	s.feedMu.Unlock()
}
