package crypto

import (
	"errors"
	"strings"
	"testing"

	"orgchat/models"
)

func TestValidateContentLength(t *testing.T) {
	atLimit := strings.Repeat("x", MaxContentRunes)
	if _, err := ValidateContent(atLimit); err != nil {
		t.Fatalf("content at limit rejected: %v", err)
	}

	overLimit := strings.Repeat("x", MaxContentRunes+1)
	if _, err := ValidateContent(overLimit); !errors.Is(err, models.ErrInvalidContent) {
		t.Fatalf("501 code points not rejected with ErrInvalidContent: %v", err)
	}

	// Limit counts code points, not bytes.
	multibyte := strings.Repeat("日", MaxContentRunes)
	if _, err := ValidateContent(multibyte); err != nil {
		t.Fatalf("multibyte content at limit rejected: %v", err)
	}
}

func TestValidateContentEmpty(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t", "​​"} {
		if _, err := ValidateContent(content); !errors.Is(err, models.ErrInvalidContent) {
			t.Fatalf("content %q not rejected as empty: %v", content, err)
		}
	}
}

func TestValidateContentSanitizes(t *testing.T) {
	got, err := ValidateContent("hel​lo\x1b[31m world\x00")
	if err != nil {
		t.Fatalf("ValidateContent failed: %v", err)
	}
	if got != "hello[31m world" {
		t.Fatalf("sanitized content = %q", got)
	}
}

func TestSanitizeKeepsNewlinesAndTabs(t *testing.T) {
	if got := Sanitize("line one\n\tline two"); got != "line one\n\tline two" {
		t.Fatalf("Sanitize mangled whitespace: %q", got)
	}
}

func TestValidateContentInvalidUTF8(t *testing.T) {
	if _, err := ValidateContent(string([]byte{0xff, 0xfe})); !errors.Is(err, models.ErrInvalidContent) {
		t.Fatalf("invalid UTF-8 not rejected: %v", err)
	}
}
