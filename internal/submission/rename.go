package submission

import (
	"context"
	"errors"
	"strings"
	"time"

	"dataportal/internal/apperr"
	"dataportal/internal/ctxlog"
	"dataportal/internal/identity"
	"dataportal/internal/notify"
)

// RenameRequest is the body of change-submission-name.
type RenameRequest struct {
	SubmissionID int64  `json:"submissionId"`
	ShortName    string `json:"shortName"`
}

// RenameResult reports the new folder.
type RenameResult struct {
	SubmissionID int64  `json:"submissionId"`
	ShortName    string `json:"shortName"`
	Folder       string `json:"folder"`
}

// Rename moves a submission's folder to a new short name and records the
// change. A failed database update moves the folder back.
func (s *Service) Rename(ctx context.Context, user identity.User, req RenameRequest) (RenameResult, error) {
	start := time.Now()
	res, err := s.rename(ctx, user, req)
	s.metrics.Observe(ctx, "workflow.rename", err == nil, time.Since(start))
	return res, err
}

func (s *Service) rename(ctx context.Context, user identity.User, req RenameRequest) (RenameResult, error) {
	req.ShortName = strings.TrimSpace(req.ShortName)
	ctx = ctxlog.With(ctx, "workflow", "rename", "submission_id", req.SubmissionID, "short_name", req.ShortName)
	logger := ctxlog.FromContext(ctx)

	var problems []string
	if req.SubmissionID <= 0 {
		problems = append(problems, "submissionId is required")
	}
	switch {
	case req.ShortName == "":
		problems = append(problems, "shortName is required")
	case !shortNamePattern.MatchString(req.ShortName):
		problems = append(problems, "shortName may contain only letters, digits, '_' and '-'")
	}
	if len(problems) > 0 {
		err := apperr.New(apperr.CodeInvalid, strings.Join(problems, ", "))
		s.stage(ctx, "rename", "validate", err)
		return RenameResult{}, err
	}
	s.stage(ctx, "rename", "validate", nil)

	unlock := s.locks.Lock(req.ShortName, submissionKey(req.SubmissionID))
	defer func() { unlock() }()

	rec, err := s.lockRoot(ctx, req.ShortName, req.SubmissionID, &unlock)
	switch {
	case errors.Is(err, ErrNotFound):
		err = apperr.Newf(apperr.CodeNotFound, "submission %d not found", req.SubmissionID)
	case err == nil && !user.CanManage(rec.SubmitterID):
		err = apperr.New(apperr.CodeUnauthorized, "not permitted to rename this submission")
	case err == nil && req.ShortName == rec.FileNameRoot:
		err = apperr.Newf(apperr.CodeInvalid, "submission is already named %q", req.ShortName)
	}
	s.stage(ctx, "rename", "load", err)
	if err != nil {
		return RenameResult{}, internal(err, "load submission")
	}

	err = s.checkShortName(ctx, req.ShortName, rec.FileNameRoot, rec.ID)
	s.stage(ctx, "rename", "short_name", err)
	if err != nil {
		return RenameResult{}, internal(err, "check short name")
	}

	from, to := folderPath(rec.FileNameRoot), folderPath(req.ShortName)
	err = s.remote.Move(ctx, from, to)
	s.stage(ctx, "rename", "move", err)
	if err != nil {
		return RenameResult{}, apperr.Wrap(err, apperr.CodeInternal, "move submission folder")
	}

	err = s.repo.WithTx(ctx, func(tx TxRepository) error {
		return tx.Rename(ctx, rec.ID, req.ShortName)
	})
	s.stage(ctx, "rename", "database", err)
	if err != nil {
		merr := s.remote.Move(context.WithoutCancel(ctx), to, from)
		s.metrics.Count(ctx, "compensation.move_back", outcomeOf(merr))
		if merr != nil {
			logger.Error("compensation failed", "from", to, "to", from, "error", merr)
		} else {
			logger.Warn("compensation moved folder back", "folder", from)
		}
		return RenameResult{}, apperr.Wrap(err, apperr.CodeInternal, "record rename")
	}

	s.notifyRenamed(ctx, notify.SubmissionEvent{
		SubmissionID: rec.ID,
		ShortName:    req.ShortName,
		LongName:     rec.LongName,
		PreviousName: rec.FileNameRoot,
		Submitter:    notify.Submitter{ID: user.ID, FirstName: user.FirstName, LastName: user.LastName, Email: user.Email},
	})
	logger.Info("submission renamed", "previous", rec.FileNameRoot)
	return RenameResult{SubmissionID: rec.ID, ShortName: req.ShortName, Folder: to}, nil
}
