package agentfiles

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StatusPending = "pending"

	taskHeading         = "# Task from Telegram"
	descriptionHeading  = "## Description\n"
	instructionsHeading = "\n\n## Instructions\n"
	instructionsText    = "Execute autonomously. Report progress to status file."

	frontMatterDelim = "---"
	createdLayout    = "2006-01-02 15:04:05"
)

var ErrMalformedRecord = errors.New("malformed task record")

// TaskRecord is a task handed to the agent. It is written once and never
// modified by the relay.
type TaskRecord struct {
	ID          string
	CreatedAt   time.Time
	User        string
	Status      string
	Description string

	// FileName is the base name inside the tasks directory. It is not part
	// of the file content.
	FileName string
}

type frontMatter struct {
	ID      string    `yaml:"id"`
	Created time.Time `yaml:"created"`
	User    string    `yaml:"user"`
	Status  string    `yaml:"status"`
}

// Render produces the markdown document stored on disk: YAML front matter
// followed by the human-readable body. The description is copied verbatim.
func (r TaskRecord) Render() (string, error) {
	status := r.Status
	if status == "" {
		status = StatusPending
	}

	meta, err := yaml.Marshal(frontMatter{
		ID:      r.ID,
		Created: r.CreatedAt,
		User:    r.User,
		Status:  status,
	})
	if err != nil {
		return "", fmt.Errorf("encode front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	b.Write(meta)
	b.WriteString(frontMatterDelim + "\n")
	b.WriteString(taskHeading + "\n\n")
	fmt.Fprintf(&b, "**Created:** %s\n", r.CreatedAt.Format(createdLayout))
	fmt.Fprintf(&b, "**Status:** %s\n\n", status)
	b.WriteString(descriptionHeading)
	b.WriteString(r.Description)
	b.WriteString(instructionsHeading)
	b.WriteString(instructionsText + "\n")
	return b.String(), nil
}

// ParseTaskRecord reads a rendered task record. Records without front
// matter are accepted; their status and creation time come from the body.
func ParseTaskRecord(content string) (TaskRecord, error) {
	var rec TaskRecord
	body := content

	if strings.HasPrefix(content, frontMatterDelim+"\n") {
		rest := content[len(frontMatterDelim)+1:]
		end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
		if end < 0 {
			return rec, fmt.Errorf("%w: unterminated front matter", ErrMalformedRecord)
		}
		var meta frontMatter
		dec := yaml.NewDecoder(bytes.NewReader([]byte(rest[:end+1])))
		if err := dec.Decode(&meta); err != nil {
			return rec, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		rec.ID = meta.ID
		rec.CreatedAt = meta.Created
		rec.User = meta.User
		rec.Status = meta.Status
		body = rest[end+len(frontMatterDelim)+2:]
	}

	start := strings.Index(body, descriptionHeading)
	if start < 0 {
		return rec, fmt.Errorf("%w: missing description", ErrMalformedRecord)
	}
	desc := body[start+len(descriptionHeading):]
	if end := strings.LastIndex(desc, instructionsHeading); end >= 0 {
		desc = desc[:end]
	} else {
		desc = strings.TrimRight(desc, "\n")
	}
	rec.Description = desc

	if rec.Status == "" {
		rec.Status = bodyField(body, "**Status:**")
	}
	if rec.CreatedAt.IsZero() {
		if v := bodyField(body, "**Created:**"); v != "" {
			if t, err := time.ParseInLocation(createdLayout, v, time.Local); err == nil {
				rec.CreatedAt = t
			}
		}
	}
	return rec, nil
}

func bodyField(body, label string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, label) {
			return strings.TrimSpace(strings.TrimPrefix(line, label))
		}
		if strings.HasPrefix(line, descriptionHeading[:len(descriptionHeading)-1]) {
			break
		}
	}
	return ""
}

// StatusText is the status document written when a task is created.
func StatusText(rec TaskRecord) string {
	return fmt.Sprintf("🟢 New Task\n\nTask: %s\nStarted: %s\nFile: %s\n",
		rec.Description, rec.CreatedAt.Format("03:04 PM"), rec.FileName)
}

// TaskFileName is the base name for a record created at t.
func TaskFileName(t time.Time) string {
	return t.Format("telegram_20060102_150405") + ".md"
}
