// Package core defines the remote file-storage contract shared by the
// storage drivers and the workflows that drive them.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Driver identifies a concrete remote storage backend.
type Driver string

const (
	DriverMemory  Driver = "memory"  // in-process (tests, dev)
	DriverFS      Driver = "fs"      // local directory (dev)
	DriverS3      Driver = "s3"      // S3 / MinIO compatible
	DriverDropbox Driver = "dropbox" // Dropbox HTTP API v2
)

// Cursor addresses the end of the data written so far to an upload session.
type Cursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

// FinishEntry commits one upload session to a destination path.
type FinishEntry struct {
	Cursor Cursor
	Path   string
}

// EntryResult reports the outcome of one batch entry.
type EntryResult struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Entry is one child of a listed folder.
type Entry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Folder bool   `json:"folder"`
	Size   int64  `json:"size"`
}

// RelocationPair names a copy or move source and destination.
type RelocationPair struct {
	From string `json:"from_path"`
	To   string `json:"to_path"`
}

// JobTag is the state of an asynchronous batch job.
type JobTag string

const (
	JobInProgress JobTag = "in_progress"
	JobComplete   JobTag = "complete"
	JobFailed     JobTag = "failed"
)

// BatchJob is the immediate answer to a batch submission: either a finished
// job (Tag complete or failed) or an id to poll.
type BatchJob struct {
	JobID string
	Tag   JobTag
}

// JobStatus is the polled state of an asynchronous job.
type JobStatus struct {
	Tag      JobTag
	Failures []string
}

// Storage is the remote file-storage API consumed by submission workflows.
// Paths are slash-rooted, e.g. "/SST_2024/file.xlsx".
type Storage interface {
	StartUploadSession(ctx context.Context, r io.Reader) (string, error)
	AppendToSession(ctx context.Context, cursor Cursor, r io.Reader) error
	FinishUploadBatch(ctx context.Context, entries []FinishEntry) ([]EntryResult, error)
	ListFolder(ctx context.Context, path string) ([]Entry, error)
	CreateFolder(ctx context.Context, path string) error
	CopyBatch(ctx context.Context, pairs []RelocationPair) (BatchJob, error)
	CheckCopyJob(ctx context.Context, jobID string) (JobStatus, error)
	Move(ctx context.Context, from, to string) error
	Delete(ctx context.Context, path string) error
	Driver() Driver
}

var (
	ErrNotFound        = errors.New("remote: path not found")
	ErrConflict        = errors.New("remote: path already exists")
	ErrIncorrectOffset = errors.New("remote: incorrect upload offset")
	ErrUnknownSession  = errors.New("remote: unknown upload session")
	ErrUnknownJob      = errors.New("remote: unknown job")
)

// CleanPath normalizes p to a slash-rooted path without a trailing slash and
// rejects traversal.
func CleanPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("remote: empty path")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("remote: invalid path %q", p)
		}
	}
	clean := path.Clean("/" + p)
	return clean, nil
}

// Fold returns the case-insensitive comparison key for a path.
func Fold(p string) string { return strings.ToLower(p) }

// Within reports whether child equals parent or sits below it, ignoring case.
func Within(child, parent string) bool {
	c, p := Fold(child), Fold(parent)
	if p == "/" {
		return true
	}
	return c == p || strings.HasPrefix(c, p+"/")
}
