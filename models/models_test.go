package models

import (
	"errors"
	"testing"
	"time"
)

func TestCanonicalPair(t *testing.T) {
	low, high := CanonicalPair("user-b", "user-a")
	if low != "user-a" || high != "user-b" {
		t.Fatalf("CanonicalPair(b,a) = (%q,%q), want (user-a,user-b)", low, high)
	}

	low2, high2 := CanonicalPair("user-a", "user-b")
	if low2 != low || high2 != high {
		t.Fatalf("CanonicalPair is direction-dependent: (%q,%q) vs (%q,%q)", low, high, low2, high2)
	}

	same1, same2 := CanonicalPair("user-a", "user-a")
	if same1 != "user-a" || same2 != "user-a" {
		t.Fatalf("CanonicalPair(a,a) = (%q,%q)", same1, same2)
	}
}

func TestThreadPeer(t *testing.T) {
	thread := Thread{ParticipantLow: "user-a", ParticipantHigh: "user-b"}

	if got := thread.Peer("user-a"); got != "user-b" {
		t.Fatalf("Peer(user-a) = %q, want user-b", got)
	}
	if got := thread.Peer("user-b"); got != "user-a" {
		t.Fatalf("Peer(user-b) = %q, want user-a", got)
	}
}

func TestMessageContent(t *testing.T) {
	sealed := Message{Body: Sealed{}}
	if text, ok := sealed.Content(); ok || text != "" {
		t.Fatalf("sealed Content() = (%q,%v), want (\"\",false)", text, ok)
	}

	decrypted := Message{Body: Plaintext{Text: "hello"}}
	if text, ok := decrypted.Content(); !ok || text != "hello" {
		t.Fatalf("decrypted Content() = (%q,%v), want (hello,true)", text, ok)
	}

	tombstoned := Message{Body: Tombstone{}}
	if text, ok := tombstoned.Content(); ok || text != TombstoneText {
		t.Fatalf("tombstoned Content() = (%q,%v), want (%q,false)", text, ok, TombstoneText)
	}
}

func TestRateLimitError(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	var err error = &RateLimitError{ResetAt: reset}

	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("RateLimitError does not unwrap to ErrRateLimited")
	}

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatal("errors.As failed for RateLimitError")
	}
	if !rle.ResetAt.Equal(reset) {
		t.Fatalf("ResetAt = %v, want %v", rle.ResetAt, reset)
	}
}
