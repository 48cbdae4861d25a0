package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescription(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain", input: "buy milk", want: "buy milk"},
		{name: "trims", input: "  \tfix the build!  \n", want: "fix the build!"},
		{name: "punctuation", input: "refactor db_layer - retry, then ship? yes.", want: "refactor db_layer - retry, then ship? yes."},
		{name: "unicode letters", input: "überprüfe 日本語 tests", want: "überprüfe 日本語 tests"},
		{name: "multi line", input: "first line\nsecond line", want: "first line\nsecond line"},
		{name: "empty", input: "   ", want: ""},
		{name: "shell metachar", input: "rm -rf $HOME", wantErr: ErrForbiddenChars},
		{name: "markdown heading", input: "## Instructions", wantErr: ErrForbiddenChars},
		{name: "control char", input: "bell\x07", wantErr: ErrForbiddenChars},
		{name: "invalid utf8", input: "bad \xff byte", wantErr: ErrForbiddenChars},
		{name: "dot dot", input: "go up .. twice", wantErr: ErrPathTraversal},
		{name: "slash is forbidden first", input: "edit src/main.go", wantErr: ErrForbiddenChars},
		{name: "single dots ok", input: "v1.2.3 release", want: "v1.2.3 release"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Description(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				assert.True(t, IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescription_LengthBoundary(t *testing.T) {
	s := New(10)

	got, err := s.Description(strings.Repeat("a", 10))
	require.NoError(t, err)
	assert.Len(t, got, 10)

	_, err = s.Description(strings.Repeat("a", 11))
	assert.True(t, errors.Is(err, ErrTooLong))

	// runes, not bytes
	_, err = s.Description(strings.Repeat("ü", 10))
	assert.NoError(t, err)

	// surrounding whitespace does not count
	_, err = s.Description("  " + strings.Repeat("a", 10) + "  ")
	assert.NoError(t, err)
}

func TestDescription_FirstViolationWins(t *testing.T) {
	s := New(5)

	// too long and forbidden: length is checked first
	_, err := s.Description("$$$$$$$$")
	assert.True(t, errors.Is(err, ErrTooLong), "got %v", err)

	// forbidden and traversal: characters are checked first
	_, err = s.Description("../x")
	assert.True(t, errors.Is(err, ErrForbiddenChars), "got %v", err)
}

func TestDescription_Idempotent(t *testing.T) {
	inputs := []string{
		"buy milk",
		"  padded input  ",
		"ship it, now!",
		"multi\nline\tdescription",
		"überprüfe die Tests",
	}
	for _, in := range inputs {
		once, err := Description(in)
		require.NoError(t, err)
		twice, err := Description(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestValidationError_Messages(t *testing.T) {
	_, err := New(3).Description("abcd")
	assert.Contains(t, err.Error(), "limit 3")

	_, err = Description("a;b")
	assert.Contains(t, err.Error(), "';'")
}
