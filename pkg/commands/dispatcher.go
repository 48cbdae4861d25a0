package commands

import (
	"context"
	"strings"
)

type Handler func(ctx context.Context, req Request) error

type Request struct {
	Channel   string
	ChatID    string
	SenderID  string
	Text      string
	MessageID string
	Reply     func(text string) error
}

// Check runs after a command is matched and before its handler. A non-nil
// error blocks the handler.
type Check func(ctx context.Context, def Definition, req Request) error

type Result struct {
	Matched bool
	Handled bool
	Command string
	// Blocked is set when a Check rejected the command; Err holds its error.
	Blocked    bool
	Definition Definition
	Err        error
}

type Dispatcher struct {
	reg    *Registry
	checks []Check
}

type Dispatching interface {
	Dispatch(ctx context.Context, req Request) Result
}

type DispatchFunc func(ctx context.Context, req Request) Result

func (f DispatchFunc) Dispatch(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// NewDispatcher returns a dispatcher that runs checks in order before every
// matched handler.
func NewDispatcher(reg *Registry, checks ...Check) *Dispatcher {
	return &Dispatcher{reg: reg, checks: checks}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	cmdName, ok := ParseCommandName(req.Text)
	if !ok {
		return Result{Matched: false}
	}

	def, ok := d.reg.Lookup(req.Channel, cmdName)
	if !ok {
		return Result{Matched: false, Command: cmdName}
	}
	if def.Handler == nil {
		// Definition-only command (menu registration / discovery).
		return Result{Matched: false, Command: def.Name, Definition: def}
	}

	for _, check := range d.checks {
		if err := check(ctx, def, req); err != nil {
			return Result{Matched: true, Command: def.Name, Blocked: true, Definition: def, Err: err}
		}
	}

	err := def.Handler(ctx, req)
	return Result{Matched: true, Handled: true, Command: def.Name, Definition: def, Err: err}
}

func firstToken(input string) string {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// ParseCommandName extracts the command name from "/name args" or
// "/name@bot args". ok is false for text that is not a command.
func ParseCommandName(input string) (string, bool) {
	token := firstToken(input)
	if token == "" || !strings.HasPrefix(token, "/") {
		return "", false
	}

	name := strings.TrimPrefix(token, "/")
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	return name, true
}

// Args returns the text after the command token without surrounding
// whitespace.
func Args(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' })
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i+1:])
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
