package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sipeed/picorelay/pkg/agentfiles"
	"github.com/sipeed/picorelay/pkg/audit"
	"github.com/sipeed/picorelay/pkg/commands"
	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/safefile"
)

const previewLen = 80

// result is what a successful command body hands back to its wrapper.
type result struct {
	reply   string
	kind    audit.EventKind
	details map[string]any
}

type body func(ctx context.Context, req commands.Request) (result, error)

func (r *Relay) definitions() []commands.Definition {
	defs := []commands.Definition{
		{
			Name:        "start",
			Description: "Show the welcome message",
			Public:      true,
		},
		{
			Name:        "help",
			Description: "List commands",
			Public:      true,
		},
		{
			Name:         "task",
			Usage:        "/task <desc>",
			Description:  "Create task",
			TouchesFiles: true,
		},
		{
			Name:         "tasks",
			Description:  "List tasks",
			TouchesFiles: true,
		},
		{
			Name:         "status",
			Description:  "Current status",
			TouchesFiles: true,
		},
		{
			Name:         "approve",
			Description:  "Approve action",
			TouchesFiles: true,
		},
		{
			Name:         "reject",
			Description:  "Reject action",
			TouchesFiles: true,
		},
		{
			Name:        "ping",
			Description: "Test bot",
		},
	}

	bodies := map[string]body{
		"start":   r.start,
		"help":    r.help,
		"task":    r.createTask,
		"tasks":   r.listTasks,
		"status":  r.status,
		"approve": r.decide(agentfiles.Approved),
		"reject":  r.decide(agentfiles.Rejected),
		"ping":    r.ping,
	}
	for i := range defs {
		defs[i].Handler = r.wrap(defs[i], bodies[defs[i].Name])
	}
	return defs
}

// wrap turns a body into a handler that reports to the breaker, writes the
// audit record and sends the single reply.
func (r *Relay) wrap(def commands.Definition, fn body) commands.Handler {
	return func(ctx context.Context, req commands.Request) error {
		res, err := fn(ctx, req)
		if def.TouchesFiles {
			if isInputError(err) {
				r.breaker.Release()
			} else {
				r.breaker.Record(err)
			}
		}

		if err != nil {
			r.failed(def, req, err)
			return err
		}

		kind := res.kind
		if kind == "" {
			kind = audit.EventCommandExecuted
		}
		r.record(audit.Event{
			Identity: req.SenderID,
			Kind:     kind,
			Outcome:  audit.OutcomeSuccess,
			Command:  def.Name,
			Details:  res.details,
		})
		r.reply(req, res.reply)
		return nil
	}
}

func (r *Relay) failed(def commands.Definition, req commands.Request, err error) {
	kind := audit.EventCommandFailed
	if isInputError(err) {
		kind = audit.EventValidationFailed
		logger.WarnCF("relay", "Rejected command input", map[string]any{
			"command": def.Name,
			"error":   err.Error(),
		})
	} else {
		logger.ErrorCF("relay", "Command failed", map[string]any{
			"command": def.Name,
			"error":   err.Error(),
		})
	}

	r.record(audit.Event{
		Identity: req.SenderID,
		Kind:     kind,
		Outcome:  audit.OutcomeFailure,
		Command:  def.Name,
		Details:  map[string]any{"error": err.Error()},
	})
	r.reply(req, userMessage(err))
}

func (r *Relay) helpText() string {
	return commands.FormatHelpMessage(r.registry.Definitions())
}

func (r *Relay) start(context.Context, commands.Request) (result, error) {
	return result{reply: "✅ Agent Remote Control\n\n" + r.helpText()}, nil
}

func (r *Relay) help(context.Context, commands.Request) (result, error) {
	return result{reply: r.helpText()}, nil
}

func (r *Relay) ping(context.Context, commands.Request) (result, error) {
	return result{reply: "🏓 Pong!"}, nil
}

func (r *Relay) status(ctx context.Context, _ commands.Request) (result, error) {
	text, pending, err := StatusReport(ctx, r.store)
	if err != nil {
		return result{}, err
	}
	return result{
		reply:   text,
		kind:    audit.EventStatusChecked,
		details: map[string]any{"approval_pending": pending},
	}, nil
}

// StatusReport renders the status document and pending-approval marker.
// A missing status document is not an error.
func StatusReport(ctx context.Context, store *agentfiles.Store) (string, bool, error) {
	var b strings.Builder
	b.WriteString("📊 Status\n\n")

	text, err := store.ReadStatus(ctx)
	switch {
	case err == nil:
		b.WriteString(strings.TrimRight(text, "\n"))
	case errors.Is(err, safefile.ErrNotFound):
		b.WriteString("⚪ No status file")
	default:
		return "", false, err
	}

	pending, err := store.PendingApproval(ctx)
	if err != nil {
		return "", false, err
	}
	if pending {
		b.WriteString("\n\n🚨 APPROVAL PENDING\nReply /approve or /reject")
	}
	return b.String(), pending, nil
}

func (r *Relay) createTask(ctx context.Context, req commands.Request) (result, error) {
	raw := commands.Args(req.Text)
	if raw == "" {
		return result{}, errEmptyDescription
	}

	desc, err := r.sanitizer.Description(raw)
	if err != nil {
		return result{}, err
	}

	rec, err := r.store.CreateTask(ctx, req.SenderID, desc)
	if err != nil {
		return result{}, err
	}
	if err := r.store.WriteStatus(ctx, rec); err != nil {
		return result{}, err
	}

	return result{
		reply: fmt.Sprintf("✅ Task Created\n\n%s\n\n%s", desc, rec.FileName),
		kind:  audit.EventTaskCreated,
		details: map[string]any{
			"task_id": rec.ID,
			"file":    rec.FileName,
			"length":  utf8.RuneCountInString(desc),
		},
	}, nil
}

func (r *Relay) listTasks(ctx context.Context, _ commands.Request) (result, error) {
	tasks, err := r.store.ListTasks(ctx, r.taskListLimit)
	if err != nil {
		return result{}, err
	}

	res := result{
		kind:    audit.EventTasksListed,
		details: map[string]any{"count": len(tasks)},
	}
	if len(tasks) == 0 {
		res.reply = "📭 No tasks yet"
		return res, nil
	}

	var b strings.Builder
	b.WriteString("📋 Recent tasks\n")
	for i, t := range tasks {
		status := t.Status
		if status == "" {
			status = "unknown"
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s\n   %s", i+1, status, preview(t.Description), t.FileName)
	}
	res.reply = b.String()
	return res, nil
}

func (r *Relay) decide(d agentfiles.Decision) body {
	return func(ctx context.Context, _ commands.Request) (result, error) {
		request, pending, err := r.store.Decide(ctx, d)
		if err != nil {
			return result{}, err
		}
		if !pending {
			return result{
				reply:   "✅ No pending approvals",
				kind:    audit.EventApprovalDecided,
				details: map[string]any{"pending": false},
			}, nil
		}

		reply := "✅ APPROVED"
		if d == agentfiles.Rejected {
			reply = "❌ REJECTED"
		}
		return result{
			reply: reply,
			kind:  audit.EventApprovalDecided,
			details: map[string]any{
				"pending":  true,
				"decision": string(d),
				"request":  preview(request),
			},
		}, nil
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewLen-1]) + "…"
}
