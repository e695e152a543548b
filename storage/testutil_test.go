package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"orgchat/models"
)

const testOrg = "org-1"

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close test store failed: %v", err)
		}
	})

	return store
}

func mustUpsertThread(t *testing.T, store *Store, a, b string) models.Thread {
	t.Helper()

	thread, err := store.UpsertThread(context.Background(), testOrg, a, b)
	if err != nil {
		t.Fatalf("UpsertThread(%q,%q) failed: %v", a, b, err)
	}
	return thread
}

func mustInsertMessage(t *testing.T, store *Store, threadID, sender, recipient string) models.Message {
	t.Helper()

	msg, err := store.InsertMessage(context.Background(), testOrg, models.Message{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		SenderID:    sender,
		RecipientID: recipient,
		Nonce:       []byte("nonce-bytes"),
		Ciphertext:  []byte("ciphertext-bytes"),
		Body:        models.Sealed{},
	})
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	return msg
}
