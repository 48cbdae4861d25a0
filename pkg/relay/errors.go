package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sipeed/picorelay/pkg/breaker"
	"github.com/sipeed/picorelay/pkg/ratelimit"
	"github.com/sipeed/picorelay/pkg/safefile"
	"github.com/sipeed/picorelay/pkg/sanitize"
)

// errEmptyDescription is returned by /task without arguments.
var errEmptyDescription = errors.New("empty task description")

const usageTask = "❌ Usage: /task <description>"

// userMessage maps an error to the text shown to the operator. Paths and
// other internal details stay in the log.
func userMessage(err error) string {
	var exceeded *ratelimit.ExceededError
	var open *breaker.OpenError
	var invalid *sanitize.ValidationError

	switch {
	case errors.Is(err, errEmptyDescription):
		return usageTask
	case errors.As(err, &exceeded):
		return fmt.Sprintf("⏳ Rate limit exceeded. Try again in %s.", roundUp(exceeded.RetryAfter))
	case errors.As(err, &open):
		if open.RetryAfter > 0 {
			return fmt.Sprintf("🔌 File operations are paused after repeated failures. Try again in %s.", roundUp(open.RetryAfter))
		}
		return "🔌 File operations are paused after repeated failures. Try again shortly."
	case errors.As(err, &invalid):
		switch invalid.Kind {
		case sanitize.KindTooLong:
			return fmt.Sprintf("❌ Task description is too long (%d characters, max %d).", invalid.Length, invalid.Limit)
		case sanitize.KindForbiddenChars:
			return "❌ Task description contains characters that are not allowed. Use letters, digits, spaces and - _ . , ! ?"
		case sanitize.KindPathTraversal:
			return "❌ Task description must not contain path separators or \"..\"."
		}
		return "❌ Invalid task description."
	case errors.Is(err, safefile.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return "⏱️ File operation timed out. Try again later."
	case errors.Is(err, safefile.ErrTooLarge):
		return "❌ Agent file is too large to read."
	case errors.Is(err, safefile.ErrInvalidEncoding):
		return "❌ Agent file is not valid UTF-8 text."
	default:
		return "❌ Command failed. Check the relay logs."
	}
}

// isInputError reports operator mistakes caught before any file is touched.
func isInputError(err error) bool {
	return errors.Is(err, errEmptyDescription) || sanitize.IsValidationError(err)
}

// countsAsFileFailure decides which command errors trip the breaker.
// Operator mistakes are not file failures.
func countsAsFileFailure(err error) bool {
	return err != nil && !isInputError(err)
}

func roundUp(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	r := d.Round(time.Second)
	if r < d {
		r += time.Second
	}
	return r
}
