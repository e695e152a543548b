// Package engine orchestrates the messaging session: thread listing,
// history reads, sending, and read receipts. It composes the keystore,
// directory, caches, rate limiter, and backing store; plaintext exists only
// inside this layer and its callers, never in the store.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"orgchat/cache"
	"orgchat/crypto"
	"orgchat/directory"
	"orgchat/keystore"
	"orgchat/models"
	"orgchat/ratelimit"
)

const (
	// DefaultThreadPageSize is the thread-list page size.
	DefaultThreadPageSize = 20
	// DefaultMessagePageSize is the message-history page size.
	DefaultMessagePageSize = 50
	// DefaultDecryptPoolThreshold is the page length above which decryption
	// fans out to a worker pool.
	DefaultDecryptPoolThreshold = 5
	// DefaultDecryptTimeout bounds a pooled decrypt pass; whatever is left
	// sealed afterwards is finished inline.
	DefaultDecryptTimeout = 10 * time.Second
	// DefaultUpsertRetries bounds find-or-create attempts when thread
	// creation races another session.
	DefaultUpsertRetries = 3
)

// Store is the persistence surface the engine drives. Implemented by
// storage.Store.
type Store interface {
	UpsertThread(ctx context.Context, orgID, participantA, participantB string) (models.Thread, error)
	ListThreads(ctx context.Context, orgID, userID string, page, pageSize int) ([]models.Thread, error)
	TouchThread(ctx context.Context, orgID, threadID, lastMessageID string, at time.Time) error
	InsertMessage(ctx context.Context, orgID string, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, orgID, threadID string, page, pageSize int) ([]models.Message, error)
	CountUnread(ctx context.Context, orgID, threadID, readerID string) (int, error)
	MarkThreadRead(ctx context.Context, orgID, threadID, readerID string, at time.Time) (int64, error)
}

// Config carries the per-session engine parameters. Zero values fall back
// to the package defaults.
type Config struct {
	OrgID  string
	UserID string

	ThreadPageSize       int
	MessagePageSize      int
	DecryptPoolThreshold int
	DecryptTimeout       time.Duration
	UpsertRetries        int
}

func (c Config) withDefaults() Config {
	out := c
	if out.ThreadPageSize <= 0 {
		out.ThreadPageSize = DefaultThreadPageSize
	}
	if out.MessagePageSize <= 0 {
		out.MessagePageSize = DefaultMessagePageSize
	}
	if out.DecryptPoolThreshold <= 0 {
		out.DecryptPoolThreshold = DefaultDecryptPoolThreshold
	}
	if out.DecryptTimeout <= 0 {
		out.DecryptTimeout = DefaultDecryptTimeout
	}
	if out.UpsertRetries <= 0 {
		out.UpsertRetries = DefaultUpsertRetries
	}
	return out
}

// Engine is one user's messaging session within one organization.
type Engine struct {
	cfg     Config
	store   Store
	dir     directory.Directory
	keys    *keystore.KeyStore
	caches  *cache.Caches
	limiter *ratelimit.Limiter
	log     *logrus.Entry
	now     func() time.Time

	mu           sync.Mutex
	activeThread string
}

// New wires an engine. All collaborators are required except the limiter,
// which defaults to the standard per-minute budget.
func New(cfg Config, store Store, dir directory.Directory, keys *keystore.KeyStore, caches *cache.Caches, limiter *ratelimit.Limiter) (*Engine, error) {
	if cfg.OrgID == "" {
		return nil, errors.New("org_id is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if store == nil || dir == nil || keys == nil || caches == nil {
		return nil, errors.New("store, directory, keystore, and caches are required")
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultBudget)
	}

	return &Engine{
		cfg:     cfg.withDefaults(),
		store:   store,
		dir:     dir,
		keys:    keys,
		caches:  caches,
		limiter: limiter,
		log: logrus.WithFields(logrus.Fields{
			"component": "engine",
			"org_id":    cfg.OrgID,
			"user_id":   cfg.UserID,
		}),
		now: time.Now,
	}, nil
}

// SetActiveThread records which thread the user is currently viewing.
// Incoming messages for the active thread are marked read on arrival.
func (e *Engine) SetActiveThread(threadID string) {
	e.mu.Lock()
	e.activeThread = threadID
	e.mu.Unlock()
}

// ActiveThread returns the currently viewed thread id, if any.
func (e *Engine) ActiveThread() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeThread
}

// identity returns the session keypair or ErrKeyUnavailable when the
// keystore has no current identity.
func (e *Engine) identity() (*keystore.Identity, error) {
	id, ok := e.keys.Current()
	if !ok {
		return nil, models.ErrKeyUnavailable
	}
	if id.UserID != e.cfg.UserID {
		return nil, models.ErrKeyUnavailable
	}
	return id, nil
}

// peerKeys resolves published public keys cache-first, batch-fetching the
// misses. A directory failure returns whatever the cache held along with
// the error, so callers can tell a transient outage apart from a user who
// genuinely has no published key.
func (e *Engine) peerKeys(ctx context.Context, userIDs []string) (map[string][crypto.KeySize]byte, error) {
	keys := make(map[string][crypto.KeySize]byte, len(userIDs))
	var missing []string
	for _, userID := range userIDs {
		if _, seen := keys[userID]; seen {
			continue
		}
		if key, ok := e.caches.Keys.Get(userID); ok {
			keys[userID] = key
		} else {
			missing = append(missing, userID)
		}
	}

	if len(missing) > 0 {
		fetched, err := e.dir.PublicKeys(ctx, missing)
		if err != nil {
			e.log.WithError(err).Warn("directory key lookup failed")
			return keys, err
		}
		for userID, key := range fetched {
			keys[userID] = key
			e.caches.Keys.Put(userID, key)
		}
	}

	return keys, nil
}

// peerProfiles resolves directory profiles cache-first. Users without a
// published profile come back as a bare Profile carrying only the id.
func (e *Engine) peerProfiles(ctx context.Context, userIDs []string) map[string]models.Profile {
	profiles := make(map[string]models.Profile, len(userIDs))
	var missing []string
	for _, userID := range userIDs {
		if _, seen := profiles[userID]; seen {
			continue
		}
		if profile, ok := e.caches.Profiles.Get(userID); ok {
			profiles[userID] = profile
		} else {
			missing = append(missing, userID)
		}
	}

	if len(missing) > 0 {
		fetched, err := e.dir.Profiles(ctx, missing)
		if err != nil {
			e.log.WithError(err).Warn("directory profile lookup failed")
		}
		for _, userID := range missing {
			profile, ok := fetched[userID]
			if ok {
				e.caches.Profiles.Put(userID, profile)
			} else {
				// Placeholder only; not cached, so a later lookup retries.
				profile = models.Profile{UserID: userID}
			}
			profiles[userID] = profile
		}
	}

	return profiles
}
