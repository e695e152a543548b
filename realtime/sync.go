// Package realtime bridges the backing store's change feed to the engine.
// Events arrive unordered and include echoes of this session's own writes;
// the sync layer debounces them per table and event type, then hands the
// engine sorted, deduplicated batches.
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"orgchat/models"
)

// DefaultDebounce is how long a batch accumulates before flushing. Each new
// event restarts the window.
const DefaultDebounce = 500 * time.Millisecond

// Feed is the change-event source. Implemented by storage.Store.
type Feed interface {
	Subscribe(orgID string, fn func(models.ChangeEvent)) (func(), error)
}

// Sink consumes flushed batches. Implemented by engine.Engine.
type Sink interface {
	ReconcileMessages(ctx context.Context, msgs []models.Message)
	ApplyReadReceipt(threadID, readerID string, at time.Time)
}

type batchKey struct {
	table string
	typ   models.ChangeType
}

type batch struct {
	timer  *time.Timer
	events []models.ChangeEvent
}

// Sync owns one feed subscription and its debounce state.
type Sync struct {
	sink     Sink
	debounce time.Duration
	log      *logrus.Entry

	ctx       context.Context
	ctxCancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	pending     map[batchKey]*batch
}

// Option adjusts Sync construction.
type Option func(*Sync)

// WithDebounce overrides the flush window.
func WithDebounce(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Start subscribes to the feed for orgID and begins delivering batches to
// the sink. Close releases the subscription.
func Start(feed Feed, orgID string, sink Sink, opts ...Option) (*Sync, error) {
	if feed == nil || sink == nil {
		return nil, errors.New("feed and sink are required")
	}
	if orgID == "" {
		return nil, errors.New("org_id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sync{
		sink:      sink,
		debounce:  DefaultDebounce,
		log:       logrus.WithFields(logrus.Fields{"component": "realtime", "org_id": orgID}),
		ctx:       ctx,
		ctxCancel: cancel,
		pending:   make(map[batchKey]*batch),
	}
	for _, opt := range opts {
		opt(s)
	}

	unsubscribe, err := feed.Subscribe(orgID, s.onEvent)
	if err != nil {
		cancel()
		return nil, err
	}
	s.unsubscribe = unsubscribe

	return s, nil
}

// Close cancels the subscription and discards undelivered batches. Safe to
// call more than once.
func (s *Sync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	for key, b := range s.pending {
		b.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	s.ctxCancel()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// onEvent folds one feed event into its debounce batch. The window restarts
// on every event so a burst flushes once.
func (s *Sync) onEvent(event models.ChangeEvent) {
	if event.Table != models.TableMessages {
		return
	}

	key := batchKey{table: event.Table, typ: event.Type}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	b, ok := s.pending[key]
	if !ok {
		b = &batch{}
		b.timer = time.AfterFunc(s.debounce, func() { s.flush(key) })
		s.pending[key] = b
	} else {
		b.timer.Reset(s.debounce)
	}
	b.events = append(b.events, event)
}

func (s *Sync) flush(key batchKey) {
	s.mu.Lock()
	b, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	closed := s.closed
	s.mu.Unlock()

	if !ok || closed || len(b.events) == 0 {
		return
	}

	switch key.typ {
	case models.ChangeInsert:
		s.flushInserts(b.events)
	case models.ChangeUpdate:
		s.flushUpdates(b.events)
	default:
		s.log.WithField("type", string(key.typ)).Warn("dropping batch of unknown event type")
	}
}

// flushInserts delivers new messages oldest first, deduplicated by id.
func (s *Sync) flushInserts(events []models.ChangeEvent) {
	seen := make(map[string]struct{}, len(events))
	msgs := make([]models.Message, 0, len(events))
	for i := range events {
		msg := events[i].Message
		if msg.ID == "" {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		msgs = append(msgs, msg)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		if msgs[i].Seq != msgs[j].Seq {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].ID < msgs[j].ID
	})

	if len(msgs) > 0 {
		s.sink.ReconcileMessages(s.ctx, msgs)
	}
}

// flushUpdates coalesces read receipts to one per (thread, reader), keeping
// the latest timestamp.
func (s *Sync) flushUpdates(events []models.ChangeEvent) {
	type receiptKey struct {
		threadID string
		readerID string
	}

	latest := make(map[receiptKey]time.Time, len(events))
	var order []receiptKey
	for i := range events {
		threadID, readerID, at := events[i].ReadReceipt()
		if threadID == "" || readerID == "" {
			continue
		}
		key := receiptKey{threadID: threadID, readerID: readerID}
		prev, ok := latest[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || at.After(prev) {
			latest[key] = at
		}
	}

	for _, key := range order {
		s.sink.ApplyReadReceipt(key.threadID, key.readerID, latest[key])
	}
}
