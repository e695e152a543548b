package engine

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"orgchat/cache"
	"orgchat/crypto"
	"orgchat/keystore"
	"orgchat/models"
	"orgchat/ratelimit"
)

const (
	testOrg  = "org-1"
	testSelf = "user-a"
	testPeer = "user-b"
)

// fakeStore is an in-memory Store that counts calls and injects failures.
type fakeStore struct {
	mu       sync.Mutex
	calls    map[string]int
	threads  map[string]models.Thread
	messages []models.Message
	clock    time.Time
	seq      int64

	upsertErrs      []error
	listThreadsErr  error
	listMessagesErr error
	insertErr       error
	touchErr        error
	countUnreadErr  error

	// Run mid-read, after the error check. Let tests interleave cache
	// writes with an in-flight store read.
	listMessagesHook func()
	listThreadsHook  func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:   make(map[string]int),
		threads: make(map[string]models.Thread),
		clock:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeStore) UpsertThread(ctx context.Context, orgID, participantA, participantB string) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["UpsertThread"]++

	if len(s.upsertErrs) > 0 {
		err := s.upsertErrs[0]
		s.upsertErrs = s.upsertErrs[1:]
		if err != nil {
			return models.Thread{}, err
		}
	}

	low, high := models.CanonicalPair(participantA, participantB)
	key := orgID + "|" + low + "|" + high
	if thread, ok := s.threads[key]; ok {
		return thread, nil
	}
	thread := models.Thread{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		ParticipantLow:  low,
		ParticipantHigh: high,
	}
	s.threads[key] = thread
	return thread, nil
}

func (s *fakeStore) ListThreads(ctx context.Context, orgID, userID string, page, pageSize int) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListThreads"]++

	if s.listThreadsErr != nil {
		return nil, s.listThreadsErr
	}
	if s.listThreadsHook != nil {
		s.listThreadsHook()
	}

	var threads []models.Thread
	for _, thread := range s.threads {
		if thread.OrgID != orgID {
			continue
		}
		if thread.ParticipantLow != userID && thread.ParticipantHigh != userID {
			continue
		}
		unread := 0
		for i := range s.messages {
			if s.messages[i].ThreadID == thread.ID && s.messages[i].RecipientID == userID && s.messages[i].ReadAt == nil {
				unread++
			}
		}
		thread.UnreadCount = unread
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads, nil
}

func (s *fakeStore) TouchThread(ctx context.Context, orgID, threadID, lastMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["TouchThread"]++
	return s.touchErr
}

func (s *fakeStore) InsertMessage(ctx context.Context, orgID string, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["InsertMessage"]++

	if s.insertErr != nil {
		return models.Message{}, s.insertErr
	}

	s.clock = s.clock.Add(time.Second)
	s.seq++
	msg.Seq = s.seq
	msg.CreatedAt = s.clock
	msg.ReadAt = nil
	msg.Body = models.Sealed{}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, orgID, threadID string, page, pageSize int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListMessages"]++

	if s.listMessagesErr != nil {
		return nil, s.listMessagesErr
	}
	if s.listMessagesHook != nil {
		s.listMessagesHook()
	}

	var all []models.Message
	for i := range s.messages {
		if s.messages[i].ThreadID == threadID {
			all = append(all, s.messages[i])
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].Seq < all[j].Seq
	})

	// Page zero is the newest window, ascending within the page.
	end := len(all) - page*pageSize
	if end <= 0 {
		return []models.Message{}, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	out := make([]models.Message, end-start)
	copy(out, all[start:end])
	for i := range out {
		out[i].Body = models.Sealed{}
	}
	return out, nil
}

func (s *fakeStore) CountUnread(ctx context.Context, orgID, threadID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["CountUnread"]++

	if s.countUnreadErr != nil {
		return 0, s.countUnreadErr
	}

	n := 0
	for i := range s.messages {
		if s.messages[i].ThreadID == threadID && s.messages[i].RecipientID == readerID && s.messages[i].ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) MarkThreadRead(ctx context.Context, orgID, threadID, readerID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["MarkThreadRead"]++

	var n int64
	readAt := at.UTC()
	for i := range s.messages {
		if s.messages[i].ThreadID == threadID && s.messages[i].RecipientID == readerID && s.messages[i].ReadAt == nil {
			t := readAt
			s.messages[i].ReadAt = &t
			n++
		}
	}
	return n, nil
}

// fakeDirectory serves keys and profiles from memory.
type fakeDirectory struct {
	mu       sync.Mutex
	keys     map[string][crypto.KeySize]byte
	profiles map[string]models.Profile
	err      error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		keys:     make(map[string][crypto.KeySize]byte),
		profiles: make(map[string]models.Profile),
	}
}

func (d *fakeDirectory) Publish(ctx context.Context, profile models.Profile, publicKey [crypto.KeySize]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[profile.UserID] = publicKey
	d.profiles[profile.UserID] = profile
	return nil
}

func (d *fakeDirectory) PublicKey(ctx context.Context, userID string) ([crypto.KeySize]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return [crypto.KeySize]byte{}, d.err
	}
	key, ok := d.keys[userID]
	if !ok {
		return [crypto.KeySize]byte{}, models.ErrNotFound
	}
	return key, nil
}

func (d *fakeDirectory) PublicKeys(ctx context.Context, userIDs []string) (map[string][crypto.KeySize]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string][crypto.KeySize]byte)
	for _, id := range userIDs {
		if key, ok := d.keys[id]; ok {
			out[id] = key
		}
	}
	return out, nil
}

func (d *fakeDirectory) Profile(ctx context.Context, userID string) (models.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	profile, ok := d.profiles[userID]
	if !ok {
		return models.Profile{}, models.ErrNotFound
	}
	return profile, nil
}

func (d *fakeDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]models.Profile)
	for _, id := range userIDs {
		if profile, ok := d.profiles[id]; ok {
			out[id] = profile
		}
	}
	return out, nil
}

type testRig struct {
	engine *Engine
	store  *fakeStore
	dir    *fakeDirectory
	caches *cache.Caches
	keys   *keystore.KeyStore
	self   *keystore.Identity
	peer   *crypto.KeyPair
}

type rigOption func(*Config, *time.Duration, *int)

func withCacheTTL(ttl time.Duration) rigOption {
	return func(cfg *Config, cacheTTL *time.Duration, budget *int) { *cacheTTL = ttl }
}

func withBudget(budget int) rigOption {
	return func(cfg *Config, cacheTTL *time.Duration, b *int) { *b = budget }
}

// newTestRig builds an engine over fakes with a real keystore identity for
// testSelf and a published peer key for testPeer.
func newTestRig(t *testing.T, opts ...rigOption) *testRig {
	t.Helper()

	cfg := Config{OrgID: testOrg, UserID: testSelf}
	cacheTTL := cache.DefaultBaseTTL
	budget := ratelimit.DefaultBudget
	for _, opt := range opts {
		opt(&cfg, &cacheTTL, &budget)
	}

	store := newFakeStore()
	dir := newFakeDirectory()

	fileStorage, err := keystore.NewFileStorage(filepath.Join(t.TempDir(), "keys"))
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	ks := keystore.New(fileStorage, dir)
	self, err := ks.EnsureIdentity(context.Background(), testSelf)
	if err != nil {
		t.Fatalf("EnsureIdentity failed: %v", err)
	}

	peer, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	dir.keys[testPeer] = peer.Public
	dir.profiles[testPeer] = models.Profile{UserID: testPeer, DisplayName: "Bob"}

	caches := cache.New(cacheTTL)
	eng, err := New(cfg, store, dir, ks, caches, ratelimit.New(budget))
	if err != nil {
		t.Fatalf("New engine failed: %v", err)
	}

	return &testRig{engine: eng, store: store, dir: dir, caches: caches, keys: ks, self: self, peer: peer}
}

// sealFromPeer encrypts content as testPeer would when sending to testSelf.
func (r *testRig) sealFromPeer(t *testing.T, content string) (ciphertext, nonce []byte) {
	t.Helper()
	ciphertext, nonce, err := crypto.Encrypt([]byte(content), r.self.KeyPair.Public, r.peer.Private)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	return ciphertext, nonce
}

// seedIncoming plants a message from testPeer to testSelf directly in the
// fake store, as if another session had sent it.
func (r *testRig) seedIncoming(t *testing.T, threadID, content string) models.Message {
	t.Helper()
	ciphertext, nonce := r.sealFromPeer(t, content)
	msg, err := r.store.InsertMessage(context.Background(), testOrg, models.Message{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		SenderID:    testPeer,
		RecipientID: testSelf,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	})
	if err != nil {
		t.Fatalf("seed incoming message failed: %v", err)
	}
	return msg
}
