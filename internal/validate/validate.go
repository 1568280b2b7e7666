// Package validate checks inbound user text before it reaches a provider.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the longest message accepted, in characters.
const DefaultMaxLength = 2000

// IsValid reports whether text is non-blank and at most maxLength
// characters long. A non-positive maxLength means DefaultMaxLength.
func IsValid(text string, maxLength int) bool {
	return Error(text, maxLength) == ""
}

// Error returns a user-facing reason why text is rejected, or "" when it is
// acceptable.
func Error(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if strings.TrimSpace(text) == "" {
		return "❌ Сообщение не может быть пустым."
	}
	if utf8.RuneCountInString(text) > maxLength {
		return fmt.Sprintf("❌ Сообщение слишком длинное. Максимум %d символов.", maxLength)
	}
	return ""
}
