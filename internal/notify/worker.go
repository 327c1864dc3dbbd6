// Package notify delivers transactional email on a background worker so that
// send failures never reach the request that triggered them.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"dataportal/internal/ctxlog"
	"dataportal/internal/observability"
)

// Message is one outbound email.
type Message struct {
	Recipient string
	Subject   string
	Content   string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("notify: queue full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("notify: worker stopped")

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 30 * time.Second
)

// Options tunes a Worker.
type Options struct {
	QueueSize   int
	SendTimeout time.Duration
	Metrics     observability.Recorder
}

// Worker drains a buffered queue of messages through a Sender.
type Worker struct {
	sender  Sender
	metrics observability.Recorder
	timeout time.Duration

	queue   chan Message
	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker. base supplies the logger used while
// sending; its cancellation is not inherited.
func NewWorker(base context.Context, sender Sender, opts Options) *Worker {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(base))
	return &Worker{
		sender:  sender,
		metrics: observability.OrNoop(opts.Metrics),
		timeout: timeout,
		queue:   make(chan Message, size),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing queued messages.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop refuses new messages, drains what is already queued and waits for the
// loop to exit or ctx to expire. Messages still queued when ctx expires are
// dropped.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

// Enqueue schedules msg without blocking.
func (w *Worker) Enqueue(msg Message) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- msg:
		return nil
	default:
		w.metrics.Count(w.ctx, "notify.enqueue", "dropped")
		return ErrQueueFull
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for msg := range w.queue {
		if w.ctx.Err() != nil {
			w.metrics.Count(w.ctx, "notify.send", "dropped")
			continue
		}
		w.send(msg)
	}
}

func (w *Worker) send(msg Message) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	start := time.Now()
	err := w.sender.Send(ctx, msg)
	w.metrics.Observe(ctx, "notify.send", err == nil, time.Since(start))
	logger := ctxlog.FromContext(ctx)
	if err != nil {
		logger.Error("notification failed", "recipient", msg.Recipient, "subject", msg.Subject, "error", err)
		return
	}
	logger.Debug("notification sent", "recipient", msg.Recipient, "subject", msg.Subject)
}
