package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/sipeed/picorelay/pkg/audit"
	"github.com/sipeed/picorelay/pkg/breaker"
	"github.com/sipeed/picorelay/pkg/commands"
	"github.com/sipeed/picorelay/pkg/guard"
	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/ratelimit"
)

type gate struct {
	name  string
	check commands.Check
}

// gates returns the pipeline in evaluation order.
func (r *Relay) gates() []gate {
	return []gate{
		{name: "authorize", check: r.authorize},
		{name: "throttle", check: r.throttle},
		{name: "admit", check: r.admit},
	}
}

func (r *Relay) authorize(ctx context.Context, def commands.Definition, req commands.Request) error {
	return r.guard.Check(ctx, req.SenderID, def.Name)
}

func (r *Relay) throttle(_ context.Context, _ commands.Definition, req commands.Request) error {
	return r.limiter.CheckAndRecord(req.SenderID)
}

// admit is the last gate: once it lets a file command through, the command
// body must report its result to the breaker.
func (r *Relay) admit(_ context.Context, def commands.Definition, _ commands.Request) error {
	if !def.TouchesFiles {
		return nil
	}
	return r.breaker.Allow()
}

// rejected answers a request stopped by a gate and writes its audit record.
// Unauthorized requests were already audited by the guard.
func (r *Relay) rejected(_ context.Context, def commands.Definition, req commands.Request, err error) {
	fields := map[string]any{
		"identity": req.SenderID,
		"command":  def.Name,
		"error":    err.Error(),
	}

	var exceeded *ratelimit.ExceededError
	var open *breaker.OpenError

	switch {
	case errors.Is(err, guard.ErrUnauthorized):
		if def.Public {
			r.reply(req, "⛔ Unauthorized")
		}

	case errors.As(err, &exceeded):
		logger.WarnCF("relay", "Rate limit exceeded", fields)
		r.record(audit.Event{
			Identity: req.SenderID,
			Kind:     audit.EventRateLimitExceeded,
			Outcome:  audit.OutcomeFailure,
			Command:  def.Name,
			Details: map[string]any{
				"limit":       exceeded.Limit,
				"window":      exceeded.Window.String(),
				"retry_after": exceeded.RetryAfter.String(),
			},
		})
		r.reply(req, userMessage(err))

	case errors.As(err, &open):
		logger.WarnCF("relay", "File command rejected by open circuit", fields)
		r.record(audit.Event{
			Identity: req.SenderID,
			Kind:     audit.EventCommandFailed,
			Outcome:  audit.OutcomeFailure,
			Command:  def.Name,
			Details: map[string]any{
				"reason":      "circuit_open",
				"retry_after": open.RetryAfter.String(),
			},
		})
		r.reply(req, userMessage(err))

	default:
		logger.ErrorCF("relay", "Gate failed", fields)
		r.record(audit.Event{
			Identity: req.SenderID,
			Kind:     audit.EventCommandFailed,
			Outcome:  audit.OutcomeFailure,
			Command:  def.Name,
			Details:  map[string]any{"reason": fmt.Sprintf("gate: %v", err)},
		})
		r.reply(req, userMessage(err))
	}
}
