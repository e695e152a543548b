package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"orgchat/crypto"
	"orgchat/models"
)

// SecureStorage holds private key material at rest. Implementations must
// guarantee keys never reach logs or general-purpose caches.
type SecureStorage interface {
	Store(userID string, private [crypto.KeySize]byte) error
	Retrieve(userID string) ([crypto.KeySize]byte, error)
	Clear(userID string) error
}

// FileStorage keeps one PEM file per user under a 0700 directory, each
// written with 0600 permissions.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the key directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("key directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) Store(userID string, private [crypto.KeySize]byte) error {
	path, err := s.keyPath(userID)
	if err != nil {
		return err
	}
	return crypto.SavePrivateKey(path, private)
}

func (s *FileStorage) Retrieve(userID string) ([crypto.KeySize]byte, error) {
	path, err := s.keyPath(userID)
	if err != nil {
		return [crypto.KeySize]byte{}, err
	}

	key, err := crypto.LoadPrivateKey(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return [crypto.KeySize]byte{}, models.ErrNotFound
		}
		return [crypto.KeySize]byte{}, err
	}
	return key, nil
}

func (s *FileStorage) Clear(userID string) error {
	path, err := s.keyPath(userID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove key file: %w", err)
	}
	return nil
}

func (s *FileStorage) keyPath(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user_id is required")
	}
	// Defuse path traversal in hostile user ids.
	name := filepath.Base(userID) + ".pem"
	return filepath.Join(s.dir, name), nil
}
