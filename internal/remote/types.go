// Package remote re-exports the remote storage contract and selects a driver.
// Packages outside internal/remote depend on remote.Storage rather than on
// the infra drivers directly.
package remote

import (
	"dataportal/internal/remote/core"
)

type (
	// Driver identifies a storage backend.
	Driver = core.Driver
	// Storage is the remote file-storage API.
	Storage = core.Storage
	// Cursor addresses the end of an upload session.
	Cursor = core.Cursor
	// FinishEntry commits one session to a destination.
	FinishEntry = core.FinishEntry
	// EntryResult reports one batch entry outcome.
	EntryResult = core.EntryResult
	// Entry is one listed child.
	Entry = core.Entry
	// RelocationPair names a copy source and destination.
	RelocationPair = core.RelocationPair
	// JobTag is an async job state.
	JobTag = core.JobTag
	// BatchJob is the answer to a batch submission.
	BatchJob = core.BatchJob
	// JobStatus is the polled state of a job.
	JobStatus = core.JobStatus
)

const (
	DriverMemory  = core.DriverMemory
	DriverFS      = core.DriverFS
	DriverS3      = core.DriverS3
	DriverDropbox = core.DriverDropbox

	JobInProgress = core.JobInProgress
	JobComplete   = core.JobComplete
	JobFailed     = core.JobFailed
)

var (
	ErrNotFound        = core.ErrNotFound
	ErrConflict        = core.ErrConflict
	ErrIncorrectOffset = core.ErrIncorrectOffset
	ErrUnknownSession  = core.ErrUnknownSession
	ErrUnknownJob      = core.ErrUnknownJob
)

// CleanPath normalizes a slash-rooted remote path.
func CleanPath(p string) (string, error) { return core.CleanPath(p) }
