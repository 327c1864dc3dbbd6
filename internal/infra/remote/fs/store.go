// Package fs implements remote Storage on a local directory tree. It is
// meant for development; name comparison follows the host filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"dataportal/internal/remote/core"
)

// sessionDir holds in-flight upload sessions and is hidden from listings.
const sessionDir = ".sessions"

type job struct {
	status core.JobStatus
}

// Store implements core.Storage under root. Upload sessions are files under
// root/.sessions; copy jobs run on background goroutines.
type Store struct {
	root string

	mu   sync.RWMutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

var _ core.Storage = (*Store)(nil)

// New returns a store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./remotedata"
	}
	if err := os.MkdirAll(filepath.Join(root, sessionDir), 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, jobs: make(map[string]*job)}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFS }

// Wait blocks until every running copy job has settled.
func (s *Store) Wait() { s.wg.Wait() }

func (s *Store) local(p string) (string, error) {
	clean, err := core.CleanPath(p)
	if err != nil {
		return "", err
	}
	if clean == "/"+sessionDir || strings.HasPrefix(clean, "/"+sessionDir+"/") {
		return "", fmt.Errorf("remote: reserved path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *Store) sessionPath(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", core.ErrUnknownSession
	}
	return filepath.Join(s.root, sessionDir, id), nil
}

func (s *Store) StartUploadSession(_ context.Context, r io.Reader) (string, error) {
	id := uuid.NewString()
	p, _ := s.sessionPath(id)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) AppendToSession(_ context.Context, cursor core.Cursor, r io.Reader) error {
	p, err := s.sessionPath(cursor.SessionID)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return core.ErrUnknownSession
	}
	if err != nil {
		return err
	}
	if info.Size() != cursor.Offset {
		return fmt.Errorf("%w: expected %d, got %d", core.ErrIncorrectOffset, info.Size(), cursor.Offset)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) FinishUploadBatch(_ context.Context, entries []core.FinishEntry) ([]core.EntryResult, error) {
	out := make([]core.EntryResult, len(entries))
	for i, e := range entries {
		out[i] = core.EntryResult{Path: e.Path}
		if err := s.finishOne(e); err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Success = true
	}
	return out, nil
}

func (s *Store) finishOne(e core.FinishEntry) error {
	src, err := s.sessionPath(e.Cursor.SessionID)
	if err != nil {
		return err
	}
	dst, err := s.local(e.Path)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return core.ErrUnknownSession
	}
	if err != nil {
		return err
	}
	if info.Size() != e.Cursor.Offset {
		return core.ErrIncorrectOffset
	}
	if _, err := os.Stat(dst); err == nil {
		return core.ErrConflict
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// atomically move into place
	return os.Rename(src, dst)
}

func (s *Store) ListFolder(_ context.Context, p string) ([]core.Entry, error) {
	dir, err := s.local(p)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	clean, _ := core.CleanPath(p)
	out := make([]core.Entry, 0, len(des))
	for _, de := range des {
		if clean == "/" && de.Name() == sessionDir {
			continue
		}
		e := core.Entry{Name: de.Name(), Path: path.Join(clean, de.Name()), Folder: de.IsDir()}
		if !de.IsDir() {
			if info, err := de.Info(); err == nil {
				e.Size = info.Size()
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) CreateFolder(_ context.Context, p string) error {
	dir, err := s.local(p)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return core.ErrConflict
	}
	return os.MkdirAll(dir, 0o755)
}

// CopyBatch validates sources and copies them on a background goroutine.
func (s *Store) CopyBatch(_ context.Context, pairs []core.RelocationPair) (core.BatchJob, error) {
	type resolved struct{ from, to string }
	work := make([]resolved, 0, len(pairs))
	for _, p := range pairs {
		from, err := s.local(p.From)
		if err != nil {
			return core.BatchJob{}, err
		}
		to, err := s.local(p.To)
		if err != nil {
			return core.BatchJob{}, err
		}
		if _, err := os.Stat(from); err != nil {
			return core.BatchJob{}, fmt.Errorf("%w: %s", core.ErrNotFound, p.From)
		}
		work = append(work, resolved{from, to})
	}
	id := uuid.NewString()
	j := &job{status: core.JobStatus{Tag: core.JobInProgress}}
	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var failures []string
		for _, w := range work {
			if err := copyTree(w.from, w.to); err != nil {
				failures = append(failures, err.Error())
			}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(failures) > 0 {
			j.status = core.JobStatus{Tag: core.JobFailed, Failures: failures}
			return
		}
		j.status = core.JobStatus{Tag: core.JobComplete}
	}()
	return core.BatchJob{JobID: id, Tag: core.JobInProgress}, nil
}

func (s *Store) CheckCopyJob(_ context.Context, jobID string) (core.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return core.JobStatus{}, core.ErrUnknownJob
	}
	st := j.status
	st.Failures = append([]string(nil), st.Failures...)
	return st, nil
}

func (s *Store) Move(_ context.Context, from, to string) error {
	src, err := s.local(from)
	if err != nil {
		return err
	}
	dst, err := s.local(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, from)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s", core.ErrConflict, to)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (s *Store) Delete(_ context.Context, p string) error {
	target, err := s.local(p)
	if err != nil {
		return err
	}
	if filepath.Clean(target) == filepath.Clean(s.root) {
		return errors.New("remote: refusing to delete root")
	}
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, p)
	}
	return os.RemoveAll(target)
}

func copyTree(from, to string) error {
	if _, err := os.Stat(to); err == nil {
		return fmt.Errorf("%w: %s", core.ErrConflict, to)
	}
	return filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
