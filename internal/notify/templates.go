package notify

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"dataportal/internal/ctxlog"
)

// Submitter identifies the user behind a submission event.
type Submitter struct {
	ID        int
	FirstName string
	LastName  string
	Email     string
}

// SubmissionEvent describes a committed submission.
type SubmissionEvent struct {
	SubmissionID   int64
	SubmissionType string // new or update
	ShortName      string
	LongName       string
	PreviousName   string // set when the short name changed
	Submitter      Submitter
}

var templates = template.Must(template.New("mail").Parse(`
{{define "admin.subject"}}Data submission {{.SubmissionType}}: {{.ShortName}}{{end}}
{{define "admin.body"}}{{.Submitter.FirstName}} {{.Submitter.LastName}} ({{.Submitter.Email}}) committed a {{.SubmissionType}} submission.

Submission ID: {{.SubmissionID}}
Short name: {{.ShortName}}
Long name: {{.LongName}}
{{- if .PreviousName}}
Renamed from: {{.PreviousName}}
{{- end}}
{{end}}
{{define "user.subject"}}We received your submission {{.ShortName}}{{end}}
{{define "user.body"}}Hello {{.Submitter.FirstName}},

Your {{.SubmissionType}} submission {{.ShortName}} ({{.LongName}}) has been received
and is queued for quality control. Reference: {{.SubmissionID}}.
{{end}}
{{define "rename.subject"}}Submission renamed to {{.ShortName}}{{end}}
{{define "rename.body"}}Submission {{.SubmissionID}} was renamed from {{.PreviousName}} to {{.ShortName}}.
{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func build(kind, recipient string, ev SubmissionEvent) (Message, error) {
	subject, err := render(kind+".subject", ev)
	if err != nil {
		return Message{}, err
	}
	body, err := render(kind+".body", ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Recipient: recipient, Subject: subject, Content: body}, nil
}

// Enqueuer accepts messages for asynchronous delivery.
type Enqueuer interface {
	Enqueue(msg Message) error
}

// Notifier renders workflow events into messages and hands them to an
// Enqueuer. Every failure is logged and swallowed.
type Notifier struct {
	queue Enqueuer
	admin string
}

// NewNotifier returns a notifier copying admin on every submission event.
// A nil queue yields a notifier that drops everything.
func NewNotifier(queue Enqueuer, admin string) *Notifier {
	return &Notifier{queue: queue, admin: admin}
}

// SubmissionCommitted notifies the admin and the submitter.
func (n *Notifier) SubmissionCommitted(ctx context.Context, ev SubmissionEvent) {
	if n == nil {
		return
	}
	if n.admin != "" {
		n.enqueue(ctx, "admin", n.admin, ev)
	}
	if ev.Submitter.Email != "" {
		n.enqueue(ctx, "user", ev.Submitter.Email, ev)
	}
}

// SubmissionRenamed notifies the admin of a short-name change.
func (n *Notifier) SubmissionRenamed(ctx context.Context, ev SubmissionEvent) {
	if n != nil && n.admin != "" {
		n.enqueue(ctx, "rename", n.admin, ev)
	}
}

func (n *Notifier) enqueue(ctx context.Context, kind, recipient string, ev SubmissionEvent) {
	if n.queue == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	msg, err := build(kind, recipient, ev)
	if err != nil {
		logger.Error("render notification", "kind", kind, "error", err)
		return
	}
	if err := n.queue.Enqueue(msg); err != nil {
		logger.Warn("notification not queued", "kind", kind, "recipient", recipient, "error", err)
	}
}
