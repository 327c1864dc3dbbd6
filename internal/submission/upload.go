package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"dataportal/internal/apperr"
	"dataportal/internal/remote"
	"dataportal/pkg/result"
)

// MaxParallelSessions caps the sessions started by one BeginUpload.
const MaxParallelSessions = 2

// BeginResult names the started sessions and the offset of the next chunk.
type BeginResult struct {
	SessionIDs []string `json:"sessionIds"`
	Offset     int64    `json:"offset"`
}

// AppendResult is the offset after an append.
type AppendResult struct {
	Offset int64 `json:"offset"`
}

// BeginUpload starts count sessions, each holding chunk. A new submission
// commits two sessions, so clients usually start both at once.
func (s *Service) BeginUpload(ctx context.Context, chunk []byte, count int) (BeginResult, error) {
	if count == 0 {
		count = 1
	}
	if count < 0 || count > MaxParallelSessions {
		return BeginResult{}, apperr.Newf(apperr.CodeInvalid, "sessions must be between 1 and %d", MaxParallelSessions)
	}
	if len(chunk) == 0 {
		return BeginResult{}, apperr.New(apperr.CodeInvalid, "first chunk must not be empty")
	}
	futures := make([]*result.Future[string], count)
	for i := range futures {
		futures[i] = result.Go(ctx, func(ctx context.Context) (string, error) {
			return s.remote.StartUploadSession(ctx, bytes.NewReader(chunk))
		})
	}
	ids, errs := result.Partition(settleAll(futures))
	s.stage(ctx, "upload", "begin", errors.Join(errs...))
	if len(errs) > 0 {
		return BeginResult{}, apperr.Wrap(errors.Join(errs...), apperr.CodeInternal, "start upload session")
	}
	return BeginResult{SessionIDs: ids, Offset: int64(len(chunk))}, nil
}

// AppendUpload appends chunk at offset to every listed session.
func (s *Service) AppendUpload(ctx context.Context, sessionIDs []string, offset int64, chunk []byte) (AppendResult, error) {
	var problems []string
	if len(sessionIDs) == 0 || len(sessionIDs) > MaxParallelSessions {
		problems = append(problems, fmt.Sprintf("between 1 and %d sessionIds are required", MaxParallelSessions))
	}
	for i, id := range sessionIDs {
		if strings.TrimSpace(id) == "" {
			problems = append(problems, fmt.Sprintf("sessionIds[%d] must not be blank", i))
		}
	}
	if offset < 0 {
		problems = append(problems, "offset must not be negative")
	}
	if len(problems) > 0 {
		return AppendResult{}, apperr.New(apperr.CodeInvalid, strings.Join(problems, ", "))
	}
	futures := make([]*result.Future[string], len(sessionIDs))
	for i, id := range sessionIDs {
		id := id
		futures[i] = result.Go(ctx, func(ctx context.Context) (string, error) {
			return id, s.remote.AppendToSession(ctx, remote.Cursor{SessionID: id, Offset: offset}, bytes.NewReader(chunk))
		})
	}
	_, errs := result.Partition(settleAll(futures))
	err := errors.Join(errs...)
	s.stage(ctx, "upload", "append", err)
	switch {
	case err == nil:
		return AppendResult{Offset: offset + int64(len(chunk))}, nil
	case errors.Is(err, remote.ErrIncorrectOffset):
		return AppendResult{}, apperr.Wrap(err, apperr.CodeConflict, "incorrect upload offset")
	case errors.Is(err, remote.ErrUnknownSession):
		return AppendResult{}, apperr.Wrap(err, apperr.CodeNotFound, "unknown upload session")
	default:
		return AppendResult{}, apperr.Wrap(err, apperr.CodeInternal, "append upload")
	}
}

// settleAll waits for every future. Started work always runs to completion,
// so none is abandoned when a sibling fails.
func settleAll[T any](futures []*result.Future[T]) []result.Result[T] {
	return result.Settle(futures...).Wait().Value()
}
