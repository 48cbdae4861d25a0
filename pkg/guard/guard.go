// Package guard decides whether a caller may drive the relay.
package guard

import (
	"context"
	"errors"
	"strings"

	"github.com/sipeed/picorelay/pkg/audit"
	"github.com/sipeed/picorelay/pkg/logger"
)

var (
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoOperator is returned by New when no operator identity is set and
	// open access was not requested.
	ErrNoOperator = errors.New("no authorized operator identity configured")
)

// Auditor receives access decisions.
type Auditor interface {
	Log(event audit.Event) error
}

// Guard compares caller identities against the single operator identity.
// The identity is fixed at construction.
type Guard struct {
	authorizedID string
	allowAny     bool
	auditor      Auditor
}

// New builds a Guard. An empty authorizedID is an error unless allowAny is
// set, in which case every caller is admitted and a warning is logged.
func New(authorizedID string, allowAny bool, auditor Auditor) (*Guard, error) {
	authorizedID = strings.TrimSpace(authorizedID)
	if authorizedID == "" && !allowAny {
		return nil, ErrNoOperator
	}

	g := &Guard{
		authorizedID: authorizedID,
		allowAny:     authorizedID == "" && allowAny,
		auditor:      auditor,
	}
	if g.allowAny {
		logger.WarnCF("guard", "Open access enabled: every Telegram user can control the agent", nil)
		g.record(audit.Event{
			Kind:    audit.EventOpenAccessWarning,
			Outcome: audit.OutcomeSuccess,
		})
	}
	return g, nil
}

// OpenAccess reports whether the guard admits everyone.
func (g *Guard) OpenAccess() bool {
	return g.allowAny
}

// AuthorizedID returns the configured operator identity.
func (g *Guard) AuthorizedID() string {
	return g.authorizedID
}

// IsAuthorized reports whether identity may use the relay.
func (g *Guard) IsAuthorized(_ context.Context, identity string) bool {
	if g.allowAny {
		return true
	}
	return identity != "" && identity == g.authorizedID
}

// Check is IsAuthorized with an audit trail: a denied call returns
// ErrUnauthorized and records UNAUTHORIZED_ACCESS for the command.
func (g *Guard) Check(ctx context.Context, identity, command string) error {
	if g.IsAuthorized(ctx, identity) {
		if g.allowAny {
			logger.WarnCF("guard", "Admitting caller under open access", map[string]any{
				"identity": identity,
				"command":  command,
			})
		}
		return nil
	}

	logger.WarnCF("guard", "Unauthorized access attempt", map[string]any{
		"identity": identity,
		"command":  command,
	})
	g.record(audit.Event{
		Identity: identity,
		Kind:     audit.EventUnauthorizedAccess,
		Outcome:  audit.OutcomeFailure,
		Command:  command,
	})
	return ErrUnauthorized
}

func (g *Guard) record(event audit.Event) {
	if g.auditor == nil {
		return
	}
	if err := g.auditor.Log(event); err != nil {
		logger.ErrorCF("guard", "Failed to write audit event", map[string]any{
			"event": string(event.Kind),
			"error": err.Error(),
		})
	}
}
