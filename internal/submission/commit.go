package submission

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"dataportal/internal/apperr"
	"dataportal/internal/ctxlog"
	"dataportal/internal/identity"
	"dataportal/internal/notify"
	"dataportal/internal/remote"
	"dataportal/internal/retry"
)

// UploadRef points at an upload session ready to be finished.
type UploadRef struct {
	SessionID string `json:"sessionId"`
	Offset    int64  `json:"offset"`
	// FileName is the name inside the submission folder. When blank a
	// timestamped name derived from the short name is used.
	FileName string `json:"fileName,omitempty"`
}

// CommitRequest is the body of commit-upload.
type CommitRequest struct {
	SubmissionType string      `json:"submissionType"`
	SubmissionID   int64       `json:"submissionId,omitempty"`
	ShortName      string      `json:"shortName"`
	LongName       string      `json:"longName"`
	Uploads        []UploadRef `json:"uploads"`
}

// CommitResult is returned after the database commit.
type CommitResult struct {
	SubmissionID int64    `json:"submissionId"`
	ShortName    string   `json:"shortName"`
	Folder       string   `json:"folder"`
	Files        []string `json:"files"`
}

// WorkflowState tracks which remote side effects a commit has made so a
// failure can undo exactly those.
type WorkflowState struct {
	SubmissionType      string
	FileNameRoot        string
	ShortName           string
	NameChangeRequested bool
	TempFolderPath      string
	UploadsFinished     bool
	CopySucceeded       bool
	RenameSucceeded     bool
	SubmissionID        int64
}

// uploadFolder is where stage 6 finishes the sessions.
func (st *WorkflowState) uploadFolder() string {
	if st.TempFolderPath != "" {
		return st.TempFolderPath
	}
	return folderPath(st.FileNameRoot)
}

func expectedUploads(kind string) int {
	if kind == TypeNew {
		return 2
	}
	return 1
}

func validateCommit(req CommitRequest) error {
	var problems []string
	kind := req.SubmissionType
	switch kind {
	case TypeNew, TypeUpdate:
	default:
		problems = append(problems, "submissionType must be one of new, update")
	}
	switch {
	case strings.TrimSpace(req.ShortName) == "":
		problems = append(problems, "shortName is required")
	case !shortNamePattern.MatchString(req.ShortName):
		problems = append(problems, "shortName may contain only letters, digits, '_' and '-'")
	}
	if kind == TypeNew && strings.TrimSpace(req.LongName) == "" {
		problems = append(problems, "longName is required")
	}
	if kind == TypeUpdate && req.SubmissionID <= 0 {
		problems = append(problems, "submissionId is required for update")
	}
	if kind == TypeNew || kind == TypeUpdate {
		if want := expectedUploads(kind); len(req.Uploads) != want {
			problems = append(problems, fmt.Sprintf("%s submissions require exactly %d upload sessions", kind, want))
		}
	}
	seen := make(map[string]bool)
	for i, u := range req.Uploads {
		if strings.TrimSpace(u.SessionID) == "" {
			problems = append(problems, fmt.Sprintf("uploads[%d].sessionId is required", i))
		}
		if u.Offset < 0 {
			problems = append(problems, fmt.Sprintf("uploads[%d].offset must not be negative", i))
		}
		if u.FileName != "" {
			if u.FileName != path.Base(u.FileName) || u.FileName == ".." || strings.ContainsAny(u.FileName, `/\`) {
				problems = append(problems, fmt.Sprintf("uploads[%d].fileName must be a plain file name", i))
			} else if seen[strings.ToLower(u.FileName)] {
				problems = append(problems, fmt.Sprintf("uploads[%d].fileName is duplicated", i))
			}
			seen[strings.ToLower(u.FileName)] = true
		}
	}
	if len(problems) > 0 {
		return apperr.New(apperr.CodeInvalid, strings.Join(problems, ", "))
	}
	return nil
}

// Commit finishes the uploaded sessions into the submission folder and
// records the submission. When an update changes the short name the files
// are assembled in a temporary folder that replaces the old folder only
// after the database commit.
func (s *Service) Commit(ctx context.Context, user identity.User, req CommitRequest) (CommitResult, error) {
	start := time.Now()
	res, err := s.commit(ctx, user, req)
	s.metrics.Observe(ctx, "workflow.commit", err == nil, time.Since(start))
	return res, err
}

func (s *Service) commit(ctx context.Context, user identity.User, req CommitRequest) (CommitResult, error) {
	req.ShortName = strings.TrimSpace(req.ShortName)
	req.LongName = strings.TrimSpace(req.LongName)
	ctx = ctxlog.With(ctx, "workflow", "commit", "submission_type", req.SubmissionType, "short_name", req.ShortName)
	logger := ctxlog.FromContext(ctx)

	// 1. validate
	err := validateCommit(req)
	s.stage(ctx, "commit", "validate", err)
	if err != nil {
		return CommitResult{}, err
	}

	unlock := s.locks.Lock(req.ShortName, submissionKey(req.SubmissionID))
	defer func() { unlock() }()

	st := &WorkflowState{
		SubmissionType: req.SubmissionType,
		ShortName:      req.ShortName,
		FileNameRoot:   req.ShortName,
		SubmissionID:   req.SubmissionID,
	}

	// 2. long name uniqueness
	var existing Record
	if req.SubmissionType == TypeNew || req.LongName != "" {
		inUse, err := s.repo.LongNameInUse(ctx, req.LongName, user.ID, req.SubmissionID)
		if err == nil && inUse {
			err = apperr.Newf(apperr.CodeConflict, "long name %q is already in use", req.LongName)
		}
		s.stage(ctx, "commit", "long_name", err)
		if err != nil {
			return CommitResult{}, internal(err, "check long name")
		}
	}

	// 3. resolve current file-name root
	if req.SubmissionType == TypeUpdate {
		existing, err = s.lockRoot(ctx, req.ShortName, req.SubmissionID, &unlock)
		if err == nil && !user.CanManage(existing.SubmitterID) {
			err = apperr.New(apperr.CodeUnauthorized, "not permitted to modify this submission")
		}
		s.stage(ctx, "commit", "resolve_root", err)
		if err != nil {
			return CommitResult{}, internal(err, "resolve file name root")
		}
		st.FileNameRoot = existing.FileNameRoot
		if req.LongName == "" {
			req.LongName = existing.LongName
		}
	}

	// 4. short name change detection and uniqueness
	st.NameChangeRequested = req.SubmissionType == TypeUpdate && req.ShortName != st.FileNameRoot
	if req.SubmissionType == TypeNew || st.NameChangeRequested {
		err = s.checkShortName(ctx, req.ShortName, st.FileNameRoot, req.SubmissionID)
		s.stage(ctx, "commit", "short_name", err)
		if err != nil {
			return CommitResult{}, internal(err, "check short name")
		}
	}
	if req.SubmissionType == TypeNew {
		err = s.requireAbsent(ctx, folderPath(req.ShortName))
		s.stage(ctx, "commit", "destination", err)
		if err != nil {
			return CommitResult{}, internal(err, "check destination folder")
		}
	}

	// 5. temp folder
	if st.NameChangeRequested {
		temp := folderPath(st.FileNameRoot + "_" + s.newSuffix())
		err = s.remote.CreateFolder(ctx, temp)
		s.stage(ctx, "commit", "temp_folder", err)
		if err != nil {
			return CommitResult{}, apperr.Wrap(err, apperr.CodeInternal, "create temp folder")
		}
		st.TempFolderPath = temp
	}

	// 6. finish upload sessions
	names := s.fileNames(req)
	err = s.finishUploads(ctx, st.uploadFolder(), req.Uploads, names)
	s.stage(ctx, "commit", "finish_uploads", err)
	if err != nil {
		s.compensate(ctx, st)
		return CommitResult{}, apperr.Wrap(err, apperr.CodeInternal, "finish uploads")
	}
	st.UploadsFinished = true

	// 7. copy prior files
	if st.NameChangeRequested {
		err = s.copyPrior(ctx, folderPath(st.FileNameRoot), st.TempFolderPath, names)
		s.stage(ctx, "commit", "copy", err)
		if err != nil {
			s.compensate(ctx, st)
			return CommitResult{}, apperr.Wrap(err, apperr.CodeInternal, "copy prior files")
		}
		st.CopySucceeded = true
	}

	// 8. rename temp to final
	if st.NameChangeRequested {
		err = s.remote.Move(ctx, st.TempFolderPath, folderPath(req.ShortName))
		s.stage(ctx, "commit", "rename", err)
		if err != nil {
			s.compensate(ctx, st)
			return CommitResult{}, apperr.Wrap(err, apperr.CodeInternal, "rename temp folder")
		}
		st.RenameSucceeded = true
	}

	// 9. database transaction
	err = s.repo.WithTx(ctx, func(tx TxRepository) error {
		rec := Record{
			ID:           req.SubmissionID,
			SubmitterID:  user.ID,
			ShortName:    req.ShortName,
			LongName:     req.LongName,
			FileNameRoot: req.ShortName,
			PhaseID:      PhaseAwaitingQC1,
		}
		if req.SubmissionType == TypeNew {
			id, err := tx.Insert(ctx, rec)
			if err != nil {
				return err
			}
			st.SubmissionID = id
		} else {
			if existing.QC1Complete {
				rec.PhaseID = PhaseAwaitingQC2
			}
			if err := tx.Update(ctx, rec); err != nil {
				return err
			}
		}
		return tx.AddFile(ctx, st.SubmissionID, names[0])
	})
	s.stage(ctx, "commit", "database", err)
	if err != nil {
		s.compensate(ctx, st)
		return CommitResult{}, apperr.Wrap(err, apperr.CodeInternal, "record submission")
	}

	// 10. post-commit cleanup
	if st.RenameSucceeded {
		old := folderPath(st.FileNameRoot)
		derr := s.remote.Delete(context.WithoutCancel(ctx), old)
		s.metrics.Count(ctx, "compensation.delete_old_folder", outcomeOf(derr))
		if derr != nil {
			logger.Error("delete old folder after rename", "folder", old, "error", derr)
		}
	}

	// 11. respond and notify
	final := folderPath(req.ShortName)
	if req.SubmissionType == TypeUpdate && !st.NameChangeRequested {
		final = folderPath(st.FileNameRoot)
	}
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = final + "/" + n
	}
	ev := notify.SubmissionEvent{
		SubmissionID:   st.SubmissionID,
		SubmissionType: req.SubmissionType,
		ShortName:      req.ShortName,
		LongName:       req.LongName,
		Submitter:      notify.Submitter{ID: user.ID, FirstName: user.FirstName, LastName: user.LastName, Email: user.Email},
	}
	if st.RenameSucceeded {
		ev.PreviousName = st.FileNameRoot
	}
	s.notifyCommitted(ctx, ev)
	logger.Info("submission committed", "submission_id", st.SubmissionID, "renamed", st.RenameSucceeded)
	return CommitResult{SubmissionID: st.SubmissionID, ShortName: req.ShortName, Folder: final, Files: files}, nil
}

// lockRoot extends the held locks to the folder root the submission
// currently uses, so a new submission cannot claim that name while the old
// folder still awaits cleanup. All keys are re-acquired in sorted order and
// the record is read again until the root is stable under the lock.
func (s *Service) lockRoot(ctx context.Context, shortName string, id int64, unlock *func()) (Record, error) {
	rec, err := s.repo.Get(ctx, id)
	for err == nil && !strings.EqualFold(rec.FileNameRoot, shortName) {
		root := rec.FileNameRoot
		(*unlock)()
		*unlock = s.locks.Lock(shortName, root, submissionKey(id))
		rec, err = s.repo.Get(ctx, id)
		if err == nil && strings.EqualFold(rec.FileNameRoot, root) {
			break
		}
	}
	return rec, err
}

// requireAbsent fails with a conflict when folder already exists.
func (s *Service) requireAbsent(ctx context.Context, folder string) error {
	_, err := s.remote.ListFolder(ctx, folder)
	switch {
	case err == nil:
		return apperr.Newf(apperr.CodeConflict, "folder %s already exists", folder)
	case errors.Is(err, remote.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("list %s: %w", folder, err)
	}
}

// checkShortName rejects a case-only change of current and any name held by
// a dataset or another submission.
func (s *Service) checkShortName(ctx context.Context, name, current string, exclude int64) error {
	if current != "" && name != current && strings.EqualFold(name, current) {
		return apperr.Newf(apperr.CodeConflict, "short name %q differs from %q only by letter case", name, current)
	}
	inUse, err := s.repo.ShortNameInUse(ctx, name, exclude)
	if err != nil {
		return err
	}
	if inUse {
		return apperr.Newf(apperr.CodeConflict, "short name %q is already in use", name)
	}
	return nil
}

func (s *Service) fileNames(req CommitRequest) []string {
	stampText := s.now().UTC().Format("2006-01-02T15-04-05")
	names := make([]string, len(req.Uploads))
	for i, u := range req.Uploads {
		if u.FileName != "" {
			names[i] = u.FileName
			continue
		}
		names[i] = req.ShortName + "_" + stampText + "_" + strconv.Itoa(i+1) + ".xlsx"
	}
	return names
}

func (s *Service) finishUploads(ctx context.Context, folder string, uploads []UploadRef, names []string) error {
	entries := make([]remote.FinishEntry, len(uploads))
	for i, u := range uploads {
		entries[i] = remote.FinishEntry{
			Cursor: remote.Cursor{SessionID: u.SessionID, Offset: u.Offset},
			Path:   folder + "/" + names[i],
		}
	}
	results, err := s.remote.FinishUploadBatch(ctx, entries)
	if err != nil {
		return err
	}
	if len(results) != len(entries) {
		return fmt.Errorf("finish batch returned %d results for %d entries", len(results), len(entries))
	}
	var failed []string
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r.Path+": "+r.Error)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("finish batch: %s", strings.Join(failed, "; "))
	}
	return nil
}

// copyPrior copies every child of from into to, skipping names that were
// just uploaded, and waits for the batch job to settle.
func (s *Service) copyPrior(ctx context.Context, from, to string, uploaded []string) error {
	entries, err := s.remote.ListFolder(ctx, from)
	if err != nil {
		return fmt.Errorf("list %s: %w", from, err)
	}
	skip := make(map[string]bool, len(uploaded))
	for _, n := range uploaded {
		skip[strings.ToLower(n)] = true
	}
	pairs := make([]remote.RelocationPair, 0, len(entries))
	for _, e := range entries {
		if skip[strings.ToLower(e.Name)] {
			continue
		}
		pairs = append(pairs, remote.RelocationPair{From: e.Path, To: to + "/" + e.Name})
	}
	if len(pairs) == 0 {
		return nil
	}
	job, err := s.remote.CopyBatch(ctx, pairs)
	if err != nil {
		return fmt.Errorf("submit copy batch: %w", err)
	}
	status := remote.JobStatus{Tag: job.Tag}
	if job.Tag == remote.JobInProgress {
		var stats retry.Stats
		status, stats, err = retry.Poll(ctx, s.poller, func(ctx context.Context) (remote.JobStatus, error) {
			return s.remote.CheckCopyJob(ctx, job.JobID)
		}, func(st remote.JobStatus) bool { return st.Tag != remote.JobInProgress })
		s.metrics.Count(ctx, "commit.copy_poll", outcomeOf(err))
		ctxlog.FromContext(ctx).Debug("copy job polled", "job_id", job.JobID,
			"attempts", stats.Attempts, "max_attempts", s.poller.MaxAttempts(), "elapsed", stats.Elapsed)
		if err != nil {
			return fmt.Errorf("await copy job %s: %w", job.JobID, err)
		}
	}
	if status.Tag != remote.JobComplete {
		return fmt.Errorf("copy job %s ended %s: %s", job.JobID, status.Tag, strings.Join(status.Failures, "; "))
	}
	return nil
}

// compensate removes the one folder the workflow created: the renamed
// folder once the rename happened, otherwise the temp folder. Failures are
// logged only.
func (s *Service) compensate(ctx context.Context, st *WorkflowState) {
	var target string
	switch {
	case st.RenameSucceeded:
		target = folderPath(st.ShortName)
	case st.TempFolderPath != "":
		target = st.TempFolderPath
	default:
		return
	}
	err := s.remote.Delete(context.WithoutCancel(ctx), target)
	s.metrics.Count(ctx, "compensation.delete_folder", outcomeOf(err))
	logger := ctxlog.FromContext(ctx)
	if err != nil {
		logger.Error("compensation failed", "folder", target, "error", err)
		return
	}
	logger.Warn("compensation removed folder", "folder", target)
}

// internal keeps coded errors and marks everything else as internal.
func internal(err error, msg string) error {
	if apperr.CodeOf(err) != apperr.CodeInternal {
		return err
	}
	return apperr.Wrap(err, apperr.CodeInternal, msg)
}

func submissionKey(id int64) string {
	if id <= 0 {
		return ""
	}
	return "submission:" + strconv.FormatInt(id, 10)
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
