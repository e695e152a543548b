// Package keystore owns the session identity: the local user's box keypair,
// its secure at-rest storage, and publication of the public half to the
// directory. Exactly one identity may be current per KeyStore; switching
// users requires Clear first so decrypted state never crosses sessions.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"orgchat/crypto"
	"orgchat/directory"
	"orgchat/models"
)

// Identity is the session's resolved keypair. The private half lives only
// here and in secure storage; callers log fingerprints, never keys.
type Identity struct {
	UserID  string
	KeyPair crypto.KeyPair
}

// Fingerprint returns the public key fingerprint for display and logging.
func (id *Identity) Fingerprint() string {
	return crypto.Fingerprint(id.KeyPair.Public)
}

// KeyStore manages identity creation, retrieval, and teardown for one
// session.
type KeyStore struct {
	storage SecureStorage
	dir     directory.Directory
	log     *logrus.Entry

	mu      sync.Mutex
	current *Identity
}

// New creates a KeyStore over the given secure storage and directory.
func New(storage SecureStorage, dir directory.Directory) *KeyStore {
	return &KeyStore{
		storage: storage,
		dir:     dir,
		log:     logrus.WithField("component", "keystore"),
	}
}

// EnsureIdentity resolves the keypair for userID. First use generates a
// fresh keypair, persists the private half, and publishes the public half.
// A published key with no local private half fails with
// models.ErrKeyUnavailable: recoverable by reauthorizing this device, not
// fatal to the process.
func (k *KeyStore) EnsureIdentity(ctx context.Context, userID string) (*Identity, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.current != nil {
		if k.current.UserID == userID {
			return k.current, nil
		}
		return nil, fmt.Errorf("identity %q still active: clear it before ensuring %q", k.current.UserID, userID)
	}

	published, err := k.dir.PublicKey(ctx, userID)
	switch {
	case err == nil:
		identity, loadErr := k.loadLocal(userID, published)
		if loadErr != nil {
			return nil, loadErr
		}
		k.current = identity
	case errors.Is(err, models.ErrNotFound):
		identity, genErr := k.generate(ctx, userID)
		if genErr != nil {
			return nil, genErr
		}
		k.current = identity
	default:
		return nil, fmt.Errorf("look up published key for %q: %w", userID, err)
	}

	k.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"fingerprint": k.current.Fingerprint(),
	}).Info("identity ready")

	return k.current, nil
}

// Current returns the active identity, if any.
func (k *KeyStore) Current() (*Identity, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == nil {
		return nil, false
	}
	return k.current, true
}

// Clear wipes the private key material for userID, both at rest and in
// memory. Idempotent; must run on every session teardown path.
func (k *KeyStore) Clear(userID string) error {
	if userID == "" {
		return errors.New("user_id is required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.storage.Clear(userID); err != nil {
		return fmt.Errorf("clear stored key for %q: %w", userID, err)
	}

	if k.current != nil && k.current.UserID == userID {
		k.current.KeyPair.Zero()
		k.current = nil
	}

	k.log.WithField("user_id", userID).Info("identity cleared")
	return nil
}

// Close forgets the in-memory identity without touching stored keys. For
// process shutdown; Clear is for explicit sign-out.
func (k *KeyStore) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current != nil {
		k.current.KeyPair.Zero()
		k.current = nil
	}
}

func (k *KeyStore) loadLocal(userID string, published [crypto.KeySize]byte) (*Identity, error) {
	private, err := k.storage.Retrieve(userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("user %q: %w", userID, models.ErrKeyUnavailable)
		}
		return nil, fmt.Errorf("retrieve private key for %q: %w", userID, err)
	}

	keyPair, err := crypto.FromPrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("rebuild keypair for %q: %w", userID, err)
	}
	if keyPair.Public != published {
		// Directory moved on without us, e.g. reset from another device.
		return nil, fmt.Errorf("user %q: local key does not match published key: %w", userID, models.ErrKeyUnavailable)
	}

	return &Identity{UserID: userID, KeyPair: *keyPair}, nil
}

func (k *KeyStore) generate(ctx context.Context, userID string) (*Identity, error) {
	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := k.storage.Store(userID, keyPair.Private); err != nil {
		return nil, fmt.Errorf("persist private key for %q: %w", userID, err)
	}
	if err := k.dir.Publish(ctx, models.Profile{UserID: userID}, keyPair.Public); err != nil {
		// Roll back so a retry regenerates instead of stranding an
		// unpublished key.
		_ = k.storage.Clear(userID)
		return nil, fmt.Errorf("publish public key for %q: %w", userID, err)
	}

	k.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"fingerprint": crypto.Fingerprint(keyPair.Public),
	}).Info("generated new identity")

	return &Identity{UserID: userID, KeyPair: *keyPair}, nil
}
