// Package submission implements the data-submission workflows: upload
// sessions, committing uploads into the submission folder, and renaming a
// submission. Each workflow spans remote storage and a SQL transaction and
// compensates remote changes when a later stage fails.
package submission

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"dataportal/internal/notify"
	"dataportal/internal/observability"
	"dataportal/internal/remote"
	"dataportal/internal/retry"
)

// Submission types accepted by Commit.
const (
	TypeNew    = "new"
	TypeUpdate = "update"
)

// Phases recorded on tblData_Submissions.Phase_ID.
const (
	PhaseAwaitingQC1 = 1
	PhaseAwaitingQC2 = 3
)

// ErrNotFound is returned by repositories for a missing submission.
var ErrNotFound = errors.New("submission: not found")

var shortNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,99}$`)

// Record is one row of tblData_Submissions.
type Record struct {
	ID           int64
	SubmitterID  int
	ShortName    string
	LongName     string
	FileNameRoot string
	PhaseID      int
	QC1Complete  bool
}

// Notifier receives workflow events after the database commit.
type Notifier interface {
	SubmissionCommitted(ctx context.Context, ev notify.SubmissionEvent)
	SubmissionRenamed(ctx context.Context, ev notify.SubmissionEvent)
}

// Options wires a Service.
type Options struct {
	Remote   remote.Storage
	Repo     Repository
	Poller   *retry.Poller
	Notifier Notifier
	Metrics  observability.Recorder
	// Now and NewSuffix are replaced in tests.
	Now       func() time.Time
	NewSuffix func() string
}

// Service runs the submission workflows.
type Service struct {
	remote    remote.Storage
	repo      Repository
	poller    *retry.Poller
	notifier  Notifier
	metrics   observability.Recorder
	now       func() time.Time
	newSuffix func() string
	locks     *keyedLocks
}

// DefaultCopyAttempts bounds copy-job polling when Options.Poller is nil.
const DefaultCopyAttempts = 8

// NewService constructs a Service.
func NewService(opts Options) *Service {
	s := &Service{
		remote:    opts.Remote,
		repo:      opts.Repo,
		poller:    opts.Poller,
		notifier:  opts.Notifier,
		metrics:   observability.OrNoop(opts.Metrics),
		now:       opts.Now,
		newSuffix: opts.NewSuffix,
		locks:     newKeyedLocks(),
	}
	if s.poller == nil {
		s.poller = retry.New(DefaultCopyAttempts, true)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newSuffix == nil {
		s.newSuffix = uuid.NewString
	}
	return s
}

func (s *Service) notifyCommitted(ctx context.Context, ev notify.SubmissionEvent) {
	if s.notifier != nil {
		s.notifier.SubmissionCommitted(ctx, ev)
	}
}

func (s *Service) notifyRenamed(ctx context.Context, ev notify.SubmissionEvent) {
	if s.notifier != nil {
		s.notifier.SubmissionRenamed(ctx, ev)
	}
}

func (s *Service) stage(ctx context.Context, workflow, stage string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.Count(ctx, workflow+"."+stage, outcome)
}

func folderPath(name string) string { return "/" + name }
