package models

import "time"

// TombstoneText is the placeholder content rendered for a message that could
// not be decrypted.
const TombstoneText = "[undecryptable]"

// Message is one encrypted direct message. The envelope fields are plaintext
// metadata persisted by the backing store; the ciphertext and nonce are
// opaque to it. Body carries the in-memory decryption state and is never
// persisted.
type Message struct {
	ID          string
	ThreadID    string
	SenderID    string
	RecipientID string
	// Seq is the store-assigned insert sequence. CreatedAt has millisecond
	// resolution, so Seq is the tie-break that keeps same-instant messages
	// in insert order.
	Seq        int64
	CreatedAt  time.Time
	ReadAt     *time.Time
	Nonce      []byte
	Ciphertext []byte
	Body       Body
}

// Body is the tagged decryption state of a message. Exactly one of Sealed,
// Plaintext, or Tombstone; callers cannot read plaintext that does not
// exist.
type Body interface {
	isBody()
}

// Sealed marks a message whose ciphertext has not been decrypted yet.
type Sealed struct{}

// Plaintext carries decrypted content. Ephemeral: exists only in memory for
// the session.
type Plaintext struct {
	Text string
}

// Tombstone stands in for a message whose decryption failed.
type Tombstone struct{}

func (Sealed) isBody()    {}
func (Plaintext) isBody() {}
func (Tombstone) isBody() {}

// Content returns the displayable text for the message and whether it is
// genuine decrypted plaintext. Tombstoned messages yield the placeholder
// text with ok=false; sealed messages yield empty text.
func (m *Message) Content() (text string, ok bool) {
	switch body := m.Body.(type) {
	case Plaintext:
		return body.Text, true
	case Tombstone:
		return TombstoneText, false
	default:
		return "", false
	}
}

// Read reports whether the recipient has read the message.
func (m *Message) Read() bool {
	return m.ReadAt != nil
}
