package models

import "time"

// ChangeType identifies the kind of backing-store mutation carried by a
// change event.
type ChangeType string

const (
	// ChangeInsert is emitted for newly persisted messages.
	ChangeInsert ChangeType = "INSERT"
	// ChangeUpdate is emitted for read-state transitions.
	ChangeUpdate ChangeType = "UPDATE"
)

// TableMessages is the logical table name carried by message change events.
const TableMessages = "messages"

// ChangeEvent is one entry in the backing store's change feed, scoped to an
// organization.
type ChangeEvent struct {
	Table string
	Type  ChangeType
	OrgID string

	// Message holds the inserted row for ChangeInsert. For ChangeUpdate it
	// carries the thread id, the reader in RecipientID, and the new ReadAt;
	// the remaining fields are zero.
	Message Message
}

// ReadReceipt extracts the read-transition view of an update event.
func (e *ChangeEvent) ReadReceipt() (threadID, readerID string, at time.Time) {
	var t time.Time
	if e.Message.ReadAt != nil {
		t = *e.Message.ReadAt
	}
	return e.Message.ThreadID, e.Message.RecipientID, t
}
