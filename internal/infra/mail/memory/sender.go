// Package memory captures notification email in process memory for tests.
package memory

import (
	"context"
	"sync"

	"dataportal/internal/notify"
)

// Sender records every message it is asked to send.
type Sender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

var _ notify.Sender = (*Sender)(nil)

func New() *Sender { return &Sender{} }

// FailWith makes subsequent sends return err; nil restores success.
func (s *Sender) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Sender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages in order.
func (s *Sender) Sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.sent...)
}
