// Package logmail writes notification email to the structured log instead of
// delivering it. Used in development.
package logmail

import (
	"context"
	"log/slog"

	"dataportal/internal/notify"
)

// Sender logs each message at info level.
type Sender struct {
	logger *slog.Logger
}

var _ notify.Sender = (*Sender)(nil)

// New returns a sender writing to logger, or slog.Default when nil.
func New(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{logger: logger}
}

func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	s.logger.InfoContext(ctx, "mail", "recipient", msg.Recipient, "subject", msg.Subject, "content", msg.Content)
	return nil
}
