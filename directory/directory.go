// Package directory resolves users to published public keys and display
// profiles. The engine treats it as an opaque capability; two
// implementations ship here: one backed by the organization's SQLite store
// and one that announces and browses over mDNS for serverless LAN use.
package directory

import (
	"context"
	"fmt"

	"orgchat/crypto"
	"orgchat/models"
	"orgchat/storage"
)

// Directory is the engine's view of the profile/key service. Lookups for
// unknown users fail with models.ErrNotFound; batch variants simply omit
// absent ids.
type Directory interface {
	Publish(ctx context.Context, profile models.Profile, publicKey [crypto.KeySize]byte) error
	PublicKey(ctx context.Context, userID string) ([crypto.KeySize]byte, error)
	PublicKeys(ctx context.Context, userIDs []string) (map[string][crypto.KeySize]byte, error)
	Profile(ctx context.Context, userID string) (models.Profile, error)
	Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error)
}

// StoreDirectory is the SQLite-backed directory for one organization.
type StoreDirectory struct {
	store *storage.Store
	orgID string
}

// NewStoreDirectory wraps a store as the directory for orgID.
func NewStoreDirectory(store *storage.Store, orgID string) *StoreDirectory {
	return &StoreDirectory{store: store, orgID: orgID}
}

func (d *StoreDirectory) Publish(ctx context.Context, profile models.Profile, publicKey [crypto.KeySize]byte) error {
	return d.store.PublishDirectoryUser(ctx, d.orgID, profile, publicKey[:])
}

func (d *StoreDirectory) PublicKey(ctx context.Context, userID string) ([crypto.KeySize]byte, error) {
	entry, err := d.store.DirectoryUser(ctx, d.orgID, userID)
	if err != nil {
		return [crypto.KeySize]byte{}, err
	}
	return keyFromBytes(entry.PublicKey)
}

func (d *StoreDirectory) PublicKeys(ctx context.Context, userIDs []string) (map[string][crypto.KeySize]byte, error) {
	entries, err := d.store.DirectoryUsers(ctx, d.orgID, userIDs)
	if err != nil {
		return nil, err
	}

	keys := make(map[string][crypto.KeySize]byte, len(entries))
	for userID, entry := range entries {
		key, err := keyFromBytes(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("directory user %q: %w", userID, err)
		}
		keys[userID] = key
	}
	return keys, nil
}

func (d *StoreDirectory) Profile(ctx context.Context, userID string) (models.Profile, error) {
	entry, err := d.store.DirectoryUser(ctx, d.orgID, userID)
	if err != nil {
		return models.Profile{}, err
	}
	return entry.Profile, nil
}

func (d *StoreDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	entries, err := d.store.DirectoryUsers(ctx, d.orgID, userIDs)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]models.Profile, len(entries))
	for userID, entry := range entries {
		profiles[userID] = entry.Profile
	}
	return profiles, nil
}

func keyFromBytes(raw []byte) ([crypto.KeySize]byte, error) {
	var key [crypto.KeySize]byte
	if len(raw) != crypto.KeySize {
		return key, fmt.Errorf("invalid published key size %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
