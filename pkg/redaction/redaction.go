// Package redaction masks secrets before they reach log output.
// The relay only ever handles a bot token and operator-written text, so the
// rule set is limited to credentials; numeric user ids are left intact
// because they are the audit subject.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Config holds redaction configuration.
type Config struct {
	// Enabled controls whether redaction is active.
	Enabled bool `json:"enabled"`

	// Secrets lists literal values that must never be logged, such as the
	// bot token loaded from configuration.
	Secrets []string `json:"-"`

	// CustomPatterns allows additional regex patterns to redact.
	CustomPatterns []string `json:"custom_patterns"`

	// Replacement is the string used to replace sensitive data.
	Replacement string `json:"replacement"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Replacement: "[REDACTED]",
	}
}

var builtinPatterns = []*regexp.Regexp{
	// Telegram bot token: <bot id>:<35 char secret>
	regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_-]{30,}\b`),
	// bot API URLs embed the token in the path
	regexp.MustCompile(`/bot\d{6,12}:[A-Za-z0-9_-]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]{20,}`),
	regexp.MustCompile(`(?i)(?:api[_-]?key|secret|token|password)\s*[=:]\s*['"]?[^'"\s]{8,}['"]?`),
}

// Redactor provides sensitive data redaction capabilities.
type Redactor struct {
	mu       sync.RWMutex
	config   Config
	patterns []*regexp.Regexp
	secrets  []string
}

// NewRedactor creates a new Redactor with the given configuration.
// Invalid custom patterns are skipped.
func NewRedactor(config Config) *Redactor {
	if config.Replacement == "" {
		config.Replacement = "[REDACTED]"
	}

	r := &Redactor{
		config:   config,
		patterns: append([]*regexp.Regexp(nil), builtinPatterns...),
	}
	for _, p := range config.CustomPatterns {
		if re, err := regexp.Compile(p); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	for _, s := range config.Secrets {
		if s = strings.TrimSpace(s); s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// Redact applies all configured redaction rules to the input string.
func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.config.Enabled || input == "" {
		return input
	}

	result := input
	for _, s := range r.secrets {
		result = strings.ReplaceAll(result, s, r.config.Replacement)
	}
	for _, re := range r.patterns {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}
	return result
}

// RedactFields redacts sensitive values in a map. Keys that look like
// credentials are replaced wholesale; string values are scanned.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	r.mu.RLock()
	enabled := r.config.Enabled
	replacement := r.config.Replacement
	r.mu.RUnlock()
	if !enabled {
		return fields
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(strings.ToLower(k)) {
			result[k] = replacement
			continue
		}
		switch val := v.(type) {
		case string:
			result[k] = r.Redact(val)
		case error:
			result[k] = r.Redact(val.Error())
		case map[string]any:
			result[k] = r.RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

// AddSecret registers a literal value to mask from now on.
func (r *Redactor) AddSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = append(r.secrets, secret)
}

func isSensitiveKey(key string) bool {
	for _, sk := range []string{"password", "secret", "token", "api_key", "apikey", "credential"} {
		if strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

var (
	globalMu       sync.RWMutex
	globalRedactor = NewRedactor(DefaultConfig())
)

// Redact applies redaction using the global redactor.
func Redact(input string) string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRedactor.Redact(input)
}

// RedactFields redacts fields using the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRedactor.RedactFields(fields)
}

// SetGlobalConfig sets the configuration for the global redactor.
func SetGlobalConfig(config Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRedactor = NewRedactor(config)
}
