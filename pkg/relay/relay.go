// Package relay turns operator commands into agent-file operations.
//
// Every command passes the same ordered gates before its body runs:
// authorize, throttle, then admit (the file-operations circuit breaker, for
// commands that touch files). The first failing gate decides the reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sipeed/picorelay/pkg/agentfiles"
	"github.com/sipeed/picorelay/pkg/audit"
	"github.com/sipeed/picorelay/pkg/breaker"
	"github.com/sipeed/picorelay/pkg/bus"
	"github.com/sipeed/picorelay/pkg/commands"
	"github.com/sipeed/picorelay/pkg/guard"
	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/ratelimit"
	"github.com/sipeed/picorelay/pkg/sanitize"
)

const (
	defaultTaskListLimit = 5
	systemIdentity       = "system"
)

// Auditor receives one record per handled command.
type Auditor interface {
	Log(event audit.Event) error
}

// Deps are the collaborators a Relay is built from. Guard, Limiter, Store
// and Auditor are required.
type Deps struct {
	Guard     *guard.Guard
	Limiter   *ratelimit.Limiter
	Store     *agentfiles.Store
	Sanitizer *sanitize.Sanitizer
	Auditor   Auditor
	Bus       *bus.MessageBus

	Breaker breaker.Config
	// Clock drives the breaker. Defaults to time.Now.
	Clock func() time.Time
	// TaskListLimit caps /tasks output.
	TaskListLimit int
}

type Relay struct {
	guard     *guard.Guard
	limiter   *ratelimit.Limiter
	breaker   *breaker.Breaker
	store     *agentfiles.Store
	sanitizer *sanitize.Sanitizer
	auditor   Auditor
	bus       *bus.MessageBus

	taskListLimit int
	registry      *commands.Registry
	dispatcher    *commands.Dispatcher
}

// Outcome summarizes one handled message.
type Outcome struct {
	Command string
	// Reply is the text sent back, empty when the caller got no answer.
	Reply string
	Err   error
}

func New(d Deps) (*Relay, error) {
	switch {
	case d.Guard == nil:
		return nil, errors.New("relay: guard is required")
	case d.Limiter == nil:
		return nil, errors.New("relay: rate limiter is required")
	case d.Store == nil:
		return nil, errors.New("relay: agent file store is required")
	case d.Auditor == nil:
		return nil, errors.New("relay: auditor is required")
	}
	if d.Sanitizer == nil {
		d.Sanitizer = sanitize.New(sanitize.DefaultMaxLen)
	}
	if d.TaskListLimit <= 0 {
		d.TaskListLimit = defaultTaskListLimit
	}

	r := &Relay{
		guard:         d.Guard,
		limiter:       d.Limiter,
		store:         d.Store,
		sanitizer:     d.Sanitizer,
		auditor:       d.Auditor,
		bus:           d.Bus,
		taskListLimit: d.TaskListLimit,
	}

	opts := []breaker.Option{
		breaker.WithFailureClassifier(countsAsFileFailure),
		breaker.WithStateListener(r.onBreakerTransition),
	}
	if d.Clock != nil {
		opts = append(opts, breaker.WithClock(d.Clock))
	}
	r.breaker = breaker.New(d.Breaker, opts...)

	r.registry = commands.NewRegistry(r.definitions())
	checks := make([]commands.Check, 0, len(r.gates()))
	for _, g := range r.gates() {
		checks = append(checks, g.check)
	}
	r.dispatcher = commands.NewDispatcher(r.registry, checks...)
	return r, nil
}

// Breaker exposes the file-operations breaker for status output.
func (r *Relay) Breaker() *breaker.Breaker { return r.breaker }

// Limiter exposes the rate limiter so the janitor can prune it.
func (r *Relay) Limiter() *ratelimit.Limiter { return r.limiter }

// Definitions lists the commands the relay answers, for menu registration.
func (r *Relay) Definitions() []commands.Definition { return r.registry.Definitions() }

// Handle runs one request through the gates and the command body. Exactly
// one reply (possibly none, for silenced denials) is sent through
// req.Reply.
func (r *Relay) Handle(ctx context.Context, req commands.Request) Outcome {
	var out Outcome
	send := req.Reply
	req.Reply = func(text string) error {
		out.Reply = text
		if send == nil {
			return nil
		}
		return send(text)
	}

	res := r.dispatcher.Dispatch(ctx, req)
	out.Command = res.Command
	out.Err = res.Err

	switch {
	case res.Blocked:
		r.rejected(ctx, res.Definition, req, res.Err)
	case res.Handled:
		// The command body already replied and audited.
	case !r.guard.IsAuthorized(ctx, req.SenderID):
		// Unknown commands and plain text from strangers are recorded but
		// never answered.
		out.Err = r.guard.Check(ctx, req.SenderID, res.Command)
	case res.Command != "":
		r.reply(req, fmt.Sprintf("❓ Unknown command /%s. Send /help for the list.", res.Command))
	}
	return out
}

// Run consumes inbound messages until ctx is done or the bus closes.
// Messages are handled one at a time.
func (r *Relay) Run(ctx context.Context) error {
	if r.bus == nil {
		return errors.New("relay: no message bus")
	}
	logger.InfoCF("relay", "Relay loop started", nil)
	defer logger.InfoCF("relay", "Relay loop stopped", nil)

	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			return ctx.Err()
		}
		r.Handle(ctx, r.requestFor(ctx, msg))
	}
}

func (r *Relay) requestFor(ctx context.Context, msg bus.InboundMessage) commands.Request {
	return commands.Request{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Text:      msg.Content,
		MessageID: msg.MessageID,
		Reply: func(text string) error {
			return r.bus.PublishOutbound(ctx, bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: text,
				ReplyTo: msg.MessageID,
			})
		},
	}
}

func (r *Relay) reply(req commands.Request, text string) {
	if err := commands.Reply(req, text); err != nil {
		logger.ErrorCF("relay", "Failed to send reply", map[string]any{
			"chat_id": req.ChatID,
			"error":   err.Error(),
		})
	}
}

func (r *Relay) record(event audit.Event) {
	if err := r.auditor.Log(event); err != nil {
		logger.ErrorCF("relay", "Failed to write audit event", map[string]any{
			"event": string(event.Kind),
			"error": err.Error(),
		})
	}
}

func (r *Relay) onBreakerTransition(t breaker.Transition) {
	fields := map[string]any{
		"breaker":  t.Name,
		"from":     t.From.String(),
		"to":       t.To.String(),
		"failures": t.Failures,
	}
	if t.Err != nil {
		fields["error"] = t.Err.Error()
	}

	switch {
	case t.To == breaker.Open:
		logger.ErrorCF("relay", "Circuit breaker opened, file operations suspended", fields)
		r.record(audit.Event{
			Identity: systemIdentity,
			Kind:     audit.EventCircuitOpened,
			Outcome:  audit.OutcomeFailure,
			Severity: audit.SeverityCritical,
			Details:  fields,
		})
	case t.To == breaker.Closed:
		logger.InfoCF("relay", "Circuit breaker closed, file operations resumed", fields)
		r.record(audit.Event{
			Identity: systemIdentity,
			Kind:     audit.EventCircuitClosed,
			Details:  fields,
		})
	default:
		logger.InfoCF("relay", "Circuit breaker probing", fields)
	}
}
