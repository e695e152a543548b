package crypto

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"orgchat/models"
)

// MaxContentRunes is the maximum message length in code points.
const MaxContentRunes = 500

// ValidateContent canonicalizes message content before encryption: strips
// zero-width and control characters (newlines and tabs survive), then
// rejects content that is empty or too long. The returned string is what
// gets encrypted.
func ValidateContent(content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: not valid UTF-8", models.ErrInvalidContent)
	}

	sanitized := Sanitize(content)
	if strings.TrimSpace(sanitized) == "" {
		return "", fmt.Errorf("%w: empty content", models.ErrInvalidContent)
	}
	if n := utf8.RuneCountInString(sanitized); n > MaxContentRunes {
		return "", fmt.Errorf("%w: %d code points exceeds limit %d", models.ErrInvalidContent, n, MaxContentRunes)
	}

	return sanitized, nil
}

// Sanitize removes zero-width characters and control characters other than
// newline and tab.
func Sanitize(content string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || isZeroWidth(r) {
			return -1
		}
		return r
	}, content)
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}