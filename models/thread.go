package models

import "time"

// Thread is the conversation container for exactly one unordered pair of
// participants. Participants are stored canonicalized so lookups by (A,B)
// and (B,A) resolve to the same row.
type Thread struct {
	ID              string
	OrgID           string
	ParticipantLow  string
	ParticipantHigh string
	LastMessageAt   *time.Time
	LastMessageID   string
	UnreadCount     int
}

// CanonicalPair orders two participant ids lexicographically so thread
// lookups are direction-independent.
func CanonicalPair(a, b string) (low, high string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Peer returns the participant that is not selfID.
func (t *Thread) Peer(selfID string) string {
	if t.ParticipantLow == selfID {
		return t.ParticipantHigh
	}
	return t.ParticipantLow
}

// ThreadSummary pairs a thread with the resolved profile of the remote
// participant, as returned by thread listing.
type ThreadSummary struct {
	Thread Thread
	Peer   Profile
}
