// Package sanitize validates free-text task descriptions before they are
// embedded in a task file.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const DefaultMaxLen = 500

// allowedPunct is the punctuation accepted besides letters, digits and
// whitespace.
const allowedPunct = "-_.,!?"

type Kind string

const (
	KindTooLong        Kind = "too_long"
	KindForbiddenChars Kind = "forbidden_chars"
	KindPathTraversal  Kind = "path_traversal"
)

var (
	ErrTooLong        = errors.New("description too long")
	ErrForbiddenChars = errors.New("description contains forbidden characters")
	ErrPathTraversal  = errors.New("description contains a path sequence")
)

// ValidationError reports the first rule a description broke.
type ValidationError struct {
	Kind   Kind
	Rune   rune // offending rune for KindForbiddenChars
	Length int  // rune count for KindTooLong
	Limit  int
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindTooLong:
		return fmt.Sprintf("%v: %d characters, limit %d", ErrTooLong, e.Length, e.Limit)
	case KindForbiddenChars:
		return fmt.Sprintf("%v: %q", ErrForbiddenChars, e.Rune)
	default:
		return ErrPathTraversal.Error()
	}
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrTooLong:
		return e.Kind == KindTooLong
	case ErrForbiddenChars:
		return e.Kind == KindForbiddenChars
	case ErrPathTraversal:
		return e.Kind == KindPathTraversal
	}
	return false
}

// IsValidationError reports whether err came from this package.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type Sanitizer struct {
	maxLen int
}

func New(maxLen int) *Sanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Sanitizer{maxLen: maxLen}
}

// MaxLen returns the configured rune limit.
func (s *Sanitizer) MaxLen() int { return s.maxLen }

// Description trims raw and checks, in order: length, allowed characters,
// path sequences. The first violation is returned.
func (s *Sanitizer) Description(raw string) (string, error) {
	text := strings.TrimSpace(raw)

	if n := utf8.RuneCountInString(text); n > s.maxLen {
		return "", &ValidationError{Kind: KindTooLong, Length: n, Limit: s.maxLen}
	}

	for _, r := range text {
		if !allowed(r) {
			return "", &ValidationError{Kind: KindForbiddenChars, Rune: r}
		}
	}

	if strings.ContainsAny(text, `/\`) || strings.Contains(text, "..") {
		return "", &ValidationError{Kind: KindPathTraversal}
	}

	return text, nil
}

func allowed(r rune) bool {
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) ||
		strings.ContainsRune(allowedPunct, r)
}

var defaultSanitizer = New(DefaultMaxLen)

// Description sanitizes raw with the default limit.
func Description(raw string) (string, error) {
	return defaultSanitizer.Description(raw)
}
