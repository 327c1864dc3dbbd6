package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dataportal/internal/remote/core"
)

type fakeDropbox struct {
	mu       sync.Mutex
	calls    []string
	checks   int
	failures map[string]int // endpoint -> remaining 503 responses
	sizes    map[string]int64
	closed   map[string]bool
}

func newFakeDropbox() *fakeDropbox {
	return &fakeDropbox{failures: map[string]int{}, sizes: map[string]int64{}, closed: map[string]bool{}}
}

func (f *fakeDropbox) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.calls = append(f.calls, r.URL.Path)
		if f.failures[r.URL.Path] > 0 {
			f.failures[r.URL.Path]--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		_ = json.Unmarshal(body, &in)
		w.Header().Set("Content-Type", "application/json")
		conflict := func(summary string) {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error_summary":"`+summary+`"}`)
		}
		switch r.URL.Path {
		case "/content/files/upload_session/start":
			if string(body) != "chunk-1" {
				t.Errorf("unexpected upload body %q", body)
			}
			f.sizes["sess-1"] = int64(len(body))
			_, _ = io.WriteString(w, `{"session_id":"sess-1"}`)
		case "/content/files/upload_session/append_v2":
			var arg struct {
				Cursor cursorArg `json:"cursor"`
				Close  bool      `json:"close"`
			}
			_ = json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg)
			size, ok := f.sizes[arg.Cursor.SessionID]
			switch {
			case !ok:
				conflict("not_found/..")
				return
			case f.closed[arg.Cursor.SessionID]:
				conflict("closed/..")
				return
			case arg.Cursor.Offset != size:
				conflict("incorrect_offset/..")
				return
			}
			f.sizes[arg.Cursor.SessionID] = size + int64(len(body))
			if arg.Close {
				f.closed[arg.Cursor.SessionID] = true
			}
			_, _ = io.WriteString(w, `null`)
		case "/api/files/upload_session/finish_batch_v2":
			var batch struct {
				Entries []finishArg `json:"entries"`
			}
			_ = json.Unmarshal(body, &batch)
			parts := make([]string, len(batch.Entries))
			for i, e := range batch.Entries {
				parts[i] = `{".tag":"success","name":"` + e.Commit.Path + `"}`
				if !f.closed[e.Cursor.SessionID] {
					parts[i] = `{".tag":"failure","failure":{".tag":"lookup_failed"}}`
				}
			}
			_, _ = io.WriteString(w, `{"entries":[`+strings.Join(parts, ",")+`]}`)
		case "/api/files/list_folder":
			if in["path"] != "/SST" {
				w.WriteHeader(http.StatusConflict)
				_, _ = io.WriteString(w, `{"error_summary":"path/not_found/.."}`)
				return
			}
			_, _ = io.WriteString(w, `{"entries":[{".tag":"file","name":"a.csv","path_display":"/SST/a.csv","size":3}],"cursor":"c1","has_more":true}`)
		case "/api/files/list_folder/continue":
			_, _ = io.WriteString(w, `{"entries":[{".tag":"folder","name":"sub","path_display":"/SST/sub"}],"has_more":false}`)
		case "/api/files/copy_batch_v2":
			_, _ = io.WriteString(w, `{".tag":"async_job_id","async_job_id":"job-1"}`)
		case "/api/files/copy_batch/check_v2":
			f.checks++
			if f.checks < 2 {
				_, _ = io.WriteString(w, `{".tag":"in_progress"}`)
				return
			}
			_, _ = io.WriteString(w, `{".tag":"complete","entries":[{".tag":"success"}]}`)
		case "/api/files/create_folder_v2":
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error_summary":"path/conflict/folder/.."}`)
		case "/api/files/move_v2", "/api/files/delete_v2":
			_, _ = io.WriteString(w, `{"metadata":{}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newClient(t *testing.T, f *fakeDropbox) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{Token: "tok", APIBase: srv.URL + "/api", ContentBase: srv.URL + "/content", RetryMax: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.http.RetryWaitMin = 0
	c.http.RetryWaitMax = 0
	return c
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected token error")
	}
}

func TestUploadSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFakeDropbox()
	c := newClient(t, f)
	id, err := c.StartUploadSession(ctx, strings.NewReader("chunk-1"))
	if err != nil || id != "sess-1" {
		t.Fatalf("start: %q %v", id, err)
	}
	if err := c.AppendToSession(ctx, core.Cursor{SessionID: id, Offset: 3}, strings.NewReader("x")); !errors.Is(err, core.ErrIncorrectOffset) {
		t.Fatalf("expected incorrect offset, got %v", err)
	}
	if err := c.AppendToSession(ctx, core.Cursor{SessionID: id, Offset: 7}, strings.NewReader("chunk-2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	res, err := c.FinishUploadBatch(ctx, []core.FinishEntry{
		{Cursor: core.Cursor{SessionID: id, Offset: 14}, Path: "/SST/a.csv"},
		{Cursor: core.Cursor{SessionID: "ghost", Offset: 0}, Path: "/SST/b.csv"},
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !res[0].Success || res[0].Path != "/SST/a.csv" {
		t.Fatalf("closed session should finish: %+v", res[0])
	}
	if res[1].Success || !strings.Contains(res[1].Error, "close session") {
		t.Fatalf("unknown session should fail on close: %+v", res[1])
	}
	if !f.closed[id] {
		t.Fatalf("session was never closed")
	}
	last := f.calls[len(f.calls)-1]
	if last != "/api/files/upload_session/finish_batch_v2" || f.calls[len(f.calls)-3] != "/content/files/upload_session/append_v2" {
		t.Fatalf("finish must follow the closing appends: %v", f.calls)
	}
}

func TestFinishUploadBatchAcceptsClosedSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeDropbox()
	c := newClient(t, f)
	id, _ := c.StartUploadSession(ctx, strings.NewReader("chunk-1"))
	f.closed[id] = true
	res, err := c.FinishUploadBatch(ctx, []core.FinishEntry{{Cursor: core.Cursor{SessionID: id, Offset: 7}, Path: "/SST/a.csv"}})
	if err != nil || !res[0].Success {
		t.Fatalf("already closed session should finish: %+v %v", res, err)
	}
}

func TestListFolderFollowsCursor(t *testing.T) {
	c := newClient(t, newFakeDropbox())
	entries, err := c.ListFolder(context.Background(), "/SST")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[1].Path != "/SST/sub" || !entries[1].Folder {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if _, err := c.ListFolder(context.Background(), "/Missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCopyBatchPollsUntilComplete(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, newFakeDropbox())
	job, err := c.CopyBatch(ctx, []core.RelocationPair{{From: "/A/x", To: "/T/x"}})
	if err != nil || job.JobID != "job-1" || job.Tag != core.JobInProgress {
		t.Fatalf("copy: %+v %v", job, err)
	}
	st, _ := c.CheckCopyJob(ctx, job.JobID)
	if st.Tag != core.JobInProgress {
		t.Fatalf("first poll: %+v", st)
	}
	st, _ = c.CheckCopyJob(ctx, job.JobID)
	if st.Tag != core.JobComplete {
		t.Fatalf("second poll: %+v", st)
	}
}

func TestConflictAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newFakeDropbox()
	f.failures["/api/files/delete_v2"] = 2
	c := newClient(t, f)
	if err := c.CreateFolder(ctx, "/SST"); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := c.Delete(ctx, "/SST"); err != nil {
		t.Fatalf("delete should succeed after retries: %v", err)
	}
	deletes := 0
	for _, p := range f.calls {
		if p == "/api/files/delete_v2" {
			deletes++
		}
	}
	if deletes != 3 {
		t.Fatalf("expected 3 delete attempts, got %d", deletes)
	}
}

func TestSettleTreatsFailedEntriesAsFailure(t *testing.T) {
	st := settle(relocationResult{Tag: "complete", Entries: []tagged{{Tag: "success"}, {Tag: "failure"}}})
	if st.Tag != core.JobFailed || len(st.Failures) != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}
