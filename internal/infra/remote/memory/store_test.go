package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dataportal/internal/remote/core"
)

func TestUploadSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.StartUploadSession(ctx, strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.AppendToSession(ctx, core.Cursor{SessionID: id, Offset: 1}, strings.NewReader("x")); !errors.Is(err, core.ErrIncorrectOffset) {
		t.Fatalf("expected offset error, got %v", err)
	}
	if err := s.AppendToSession(ctx, core.Cursor{SessionID: id, Offset: 3}, strings.NewReader("def")); err != nil {
		t.Fatalf("append: %v", err)
	}
	res, err := s.FinishUploadBatch(ctx, []core.FinishEntry{
		{Cursor: core.Cursor{SessionID: id, Offset: 6}, Path: "/SST/data.xlsx"},
		{Cursor: core.Cursor{SessionID: "missing", Offset: 0}, Path: "/SST/other.xlsx"},
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !res[0].Success || res[1].Success {
		t.Fatalf("unexpected results %+v", res)
	}
	data, ok := s.ReadFile("/sst/DATA.xlsx")
	if !ok || string(data) != "abcdef" {
		t.Fatalf("expected committed file, got %q %v", data, ok)
	}
}

func TestCopyJobSettlesAfterScriptedPolls(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutFile("/A/one.csv", []byte("1"))
	s.PutFile("/A/sub/two.csv", []byte("2"))
	s.ScriptCopyJobs(2, core.JobComplete)

	job, err := s.CopyBatch(ctx, []core.RelocationPair{{From: "/A/one.csv", To: "/T/one.csv"}, {From: "/A/sub", To: "/T/sub"}})
	if err != nil || job.Tag != core.JobInProgress {
		t.Fatalf("copy: %+v %v", job, err)
	}
	for i := 0; i < 2; i++ {
		st, err := s.CheckCopyJob(ctx, job.JobID)
		if err != nil || st.Tag != core.JobInProgress {
			t.Fatalf("poll %d: %+v %v", i, st, err)
		}
	}
	st, err := s.CheckCopyJob(ctx, job.JobID)
	if err != nil || st.Tag != core.JobComplete {
		t.Fatalf("final poll: %+v %v", st, err)
	}
	if !s.Exists("/T/one.csv") || !s.Exists("/T/sub/two.csv") || !s.Exists("/A/one.csv") {
		t.Fatalf("unexpected tree %v", s.Paths())
	}
}

func TestMoveAndDeleteSubtrees(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutFile("/Old/f.csv", []byte("x"))
	if err := s.CreateFolder(ctx, "/old"); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected case-insensitive conflict, got %v", err)
	}
	if err := s.Move(ctx, "/Old", "/New"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if s.Exists("/Old/f.csv") || !s.Exists("/New/f.csv") {
		t.Fatalf("move did not relocate: %v", s.Paths())
	}
	entries, err := s.ListFolder(ctx, "/New")
	if err != nil || len(entries) != 1 || entries[0].Name != "f.csv" {
		t.Fatalf("list: %+v %v", entries, err)
	}
	if err := s.Delete(ctx, "/New"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "/New"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(s.Paths()) != 0 {
		t.Fatalf("expected empty store, got %v", s.Paths())
	}
}

func TestInjectedFailuresAreRecorded(t *testing.T) {
	s := New()
	boom := errors.New("rate limited")
	s.Fail(OpCreateFolder, boom)
	if err := s.CreateFolder(context.Background(), "/X"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.Fail(OpCreateFolder, nil)
	if err := s.CreateFolder(context.Background(), "/X"); err != nil {
		t.Fatalf("expected cleared failure, got %v", err)
	}
	if got := len(s.CallsTo(OpCreateFolder)); got != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", got)
	}
}
