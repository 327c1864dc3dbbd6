// Package memory implements an in-memory remote Storage for tests and local
// development. Paths compare case-insensitively, as they do on Dropbox.
package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"dataportal/internal/remote/core"
)

// Op names a Storage operation for failure injection and call recording.
type Op string

const (
	OpStart        Op = "start_session"
	OpAppend       Op = "append"
	OpFinish       Op = "finish_batch"
	OpList         Op = "list_folder"
	OpCreateFolder Op = "create_folder"
	OpCopy         Op = "copy_batch"
	OpCheckCopy    Op = "check_copy"
	OpMove         Op = "move"
	OpDelete       Op = "delete"
)

// Call records one invocation for assertions.
type Call struct {
	Op   Op
	Args []string
}

type node struct {
	path   string // display path
	folder bool
	data   []byte
}

type session struct {
	data []byte
}

type copyJob struct {
	pairs     []core.RelocationPair
	remaining int
	outcome   core.JobTag
	applied   bool
}

// Store implements core.Store backed by process memory.
type Store struct {
	mu       sync.Mutex
	nodes    map[string]*node
	sessions map[string]*session
	jobs     map[string]*copyJob
	calls    []Call
	failures map[Op]error

	copyPolls   int
	copyOutcome core.JobTag
	finishFail  map[string]string
}

var _ core.Storage = (*Store)(nil)

// New returns an empty store containing only the root folder.
func New() *Store {
	return &Store{
		nodes:       map[string]*node{"/": {path: "/", folder: true}},
		sessions:    make(map[string]*session),
		jobs:        make(map[string]*copyJob),
		failures:    make(map[Op]error),
		copyOutcome: core.JobComplete,
		finishFail:  make(map[string]string),
	}
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Fail makes every later call to op return err. A nil err clears it.
func (s *Store) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// ScriptCopyJobs makes subsequent copy jobs report in_progress for polls
// checks before settling on outcome. A negative polls value never settles.
func (s *Store) ScriptCopyJobs(polls int, outcome core.JobTag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copyPolls = polls
	s.copyOutcome = outcome
}

// FailFinishFor makes finishing into destination report an entry failure.
func (s *Store) FailFinishFor(destination, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishFail[core.Fold(destination)] = reason
}

// Calls returns the recorded calls in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the recorded calls for op.
func (s *Store) CallsTo(op Op) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Exists reports whether p is present.
func (s *Store) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[core.Fold(p)]
	return ok
}

// ReadFile returns the content stored at p.
func (s *Store) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[core.Fold(p)]
	if !ok || n.folder {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// PutFile seeds a file, creating parent folders.
func (s *Store) PutFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := core.CleanPath(p)
	if err != nil {
		panic(err)
	}
	s.ensureParents(clean)
	s.nodes[core.Fold(clean)] = &node{path: clean, data: append([]byte(nil), data...)}
}

// Paths lists every stored path in display form, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.path != "/" {
			out = append(out, n.path)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) begin(op Op, args ...string) error {
	s.calls = append(s.calls, Call{Op: op, Args: args})
	return s.failures[op]
}

func (s *Store) ensureParents(p string) {
	dir := path.Dir(p)
	for dir != "/" && dir != "." {
		key := core.Fold(dir)
		if _, ok := s.nodes[key]; !ok {
			s.nodes[key] = &node{path: dir, folder: true}
		}
		dir = path.Dir(dir)
	}
}

// StartUploadSession opens a session holding the first chunk.
func (s *Store) StartUploadSession(_ context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpStart); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.sessions[id] = &session{data: data}
	return id, nil
}

// AppendToSession appends a chunk at cursor.Offset.
func (s *Store) AppendToSession(_ context.Context, cursor core.Cursor, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpAppend, cursor.SessionID); err != nil {
		return err
	}
	sess, ok := s.sessions[cursor.SessionID]
	if !ok {
		return core.ErrUnknownSession
	}
	if int64(len(sess.data)) != cursor.Offset {
		return fmt.Errorf("%w: expected %d, got %d", core.ErrIncorrectOffset, len(sess.data), cursor.Offset)
	}
	sess.data = append(sess.data, data...)
	return nil
}

// FinishUploadBatch commits sessions into files. Each entry succeeds or
// fails independently.
func (s *Store) FinishUploadBatch(_ context.Context, entries []core.FinishEntry) ([]core.EntryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := make([]string, len(entries))
	for i, e := range entries {
		args[i] = e.Path
	}
	if err := s.begin(OpFinish, args...); err != nil {
		return nil, err
	}
	out := make([]core.EntryResult, len(entries))
	for i, e := range entries {
		out[i] = s.finishOne(e)
	}
	return out, nil
}

func (s *Store) finishOne(e core.FinishEntry) core.EntryResult {
	dest, err := core.CleanPath(e.Path)
	if err != nil {
		return core.EntryResult{Path: e.Path, Error: err.Error()}
	}
	if reason, ok := s.finishFail[core.Fold(dest)]; ok {
		return core.EntryResult{Path: dest, Error: reason}
	}
	sess, ok := s.sessions[e.Cursor.SessionID]
	if !ok {
		return core.EntryResult{Path: dest, Error: core.ErrUnknownSession.Error()}
	}
	if int64(len(sess.data)) != e.Cursor.Offset {
		return core.EntryResult{Path: dest, Error: core.ErrIncorrectOffset.Error()}
	}
	if _, exists := s.nodes[core.Fold(dest)]; exists {
		return core.EntryResult{Path: dest, Error: core.ErrConflict.Error()}
	}
	s.ensureParents(dest)
	s.nodes[core.Fold(dest)] = &node{path: dest, data: sess.data}
	delete(s.sessions, e.Cursor.SessionID)
	return core.EntryResult{Path: dest, Success: true}
}

// ListFolder lists the immediate children of p.
func (s *Store) ListFolder(_ context.Context, p string) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpList, p); err != nil {
		return nil, err
	}
	dir, err := core.CleanPath(p)
	if err != nil {
		return nil, err
	}
	parent, ok := s.nodes[core.Fold(dir)]
	if !ok || !parent.folder {
		return nil, core.ErrNotFound
	}
	var out []core.Entry
	for _, n := range s.nodes {
		if n.path == "/" || !strings.EqualFold(path.Dir(n.path), dir) {
			continue
		}
		out = append(out, core.Entry{Name: path.Base(n.path), Path: n.path, Folder: n.folder, Size: int64(len(n.data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CreateFolder creates p and any missing parents.
func (s *Store) CreateFolder(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreateFolder, p); err != nil {
		return err
	}
	dir, err := core.CleanPath(p)
	if err != nil {
		return err
	}
	if _, exists := s.nodes[core.Fold(dir)]; exists {
		return core.ErrConflict
	}
	s.ensureParents(dir)
	s.nodes[core.Fold(dir)] = &node{path: dir, folder: true}
	return nil
}

// CopyBatch validates every source and schedules an asynchronous job. The
// copy is applied once the job settles as complete.
func (s *Store) CopyBatch(_ context.Context, pairs []core.RelocationPair) (core.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		args = append(args, p.From, p.To)
	}
	if err := s.begin(OpCopy, args...); err != nil {
		return core.BatchJob{}, err
	}
	for _, p := range pairs {
		if _, ok := s.nodes[core.Fold(p.From)]; !ok {
			return core.BatchJob{}, fmt.Errorf("%w: %s", core.ErrNotFound, p.From)
		}
	}
	id := "dbjid:" + uuid.NewString()
	job := &copyJob{pairs: append([]core.RelocationPair(nil), pairs...), remaining: s.copyPolls, outcome: s.copyOutcome}
	s.jobs[id] = job
	return core.BatchJob{JobID: id, Tag: core.JobInProgress}, nil
}

// CheckCopyJob reports the state of a copy job.
func (s *Store) CheckCopyJob(_ context.Context, jobID string) (core.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCheckCopy, jobID); err != nil {
		return core.JobStatus{}, err
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return core.JobStatus{}, core.ErrUnknownJob
	}
	if job.remaining != 0 {
		if job.remaining > 0 {
			job.remaining--
		}
		return core.JobStatus{Tag: core.JobInProgress}, nil
	}
	if job.outcome == core.JobComplete && !job.applied {
		for _, p := range job.pairs {
			if err := s.copyTree(p.From, p.To); err != nil {
				job.outcome = core.JobFailed
				return core.JobStatus{Tag: core.JobFailed, Failures: []string{err.Error()}}, nil
			}
		}
		job.applied = true
	}
	return core.JobStatus{Tag: job.outcome}, nil
}

func (s *Store) copyTree(from, to string) error {
	src, err := core.CleanPath(from)
	if err != nil {
		return err
	}
	dst, err := core.CleanPath(to)
	if err != nil {
		return err
	}
	if _, ok := s.nodes[core.Fold(src)]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, src)
	}
	if _, ok := s.nodes[core.Fold(dst)]; ok {
		return fmt.Errorf("%w: %s", core.ErrConflict, dst)
	}
	var copies []*node
	for _, n := range s.nodes {
		if core.Within(n.path, src) {
			copies = append(copies, &node{path: dst + n.path[len(src):], folder: n.folder, data: n.data})
		}
	}
	s.ensureParents(dst)
	for _, n := range copies {
		s.nodes[core.Fold(n.path)] = n
	}
	return nil
}

// Move relocates p and everything below it. The destination must not exist
// unless it differs from the source only by case.
func (s *Store) Move(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpMove, from, to); err != nil {
		return err
	}
	src, err := core.CleanPath(from)
	if err != nil {
		return err
	}
	dst, err := core.CleanPath(to)
	if err != nil {
		return err
	}
	if _, ok := s.nodes[core.Fold(src)]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, src)
	}
	if _, ok := s.nodes[core.Fold(dst)]; ok && core.Fold(src) != core.Fold(dst) {
		return fmt.Errorf("%w: %s", core.ErrConflict, dst)
	}
	var moved []*node
	for key, n := range s.nodes {
		if core.Within(n.path, src) {
			moved = append(moved, &node{path: dst + n.path[len(src):], folder: n.folder, data: n.data})
			delete(s.nodes, key)
		}
	}
	s.ensureParents(dst)
	for _, n := range moved {
		s.nodes[core.Fold(n.path)] = n
	}
	return nil
}

// Delete removes p and everything below it.
func (s *Store) Delete(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpDelete, p); err != nil {
		return err
	}
	target, err := core.CleanPath(p)
	if err != nil {
		return err
	}
	if target == "/" {
		return fmt.Errorf("remote: refusing to delete root")
	}
	if _, ok := s.nodes[core.Fold(target)]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, target)
	}
	for key, n := range s.nodes {
		if core.Within(n.path, target) {
			delete(s.nodes, key)
		}
	}
	return nil
}
