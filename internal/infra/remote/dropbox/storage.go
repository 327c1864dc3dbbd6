package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"dataportal/internal/remote/core"
)

type cursorArg struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

type commitArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type finishArg struct {
	Cursor cursorArg `json:"cursor"`
	Commit commitArg `json:"commit"`
}

type tagged struct {
	Tag     string `json:".tag"`
	Failure any    `json:"failure,omitempty"`
}

type metadata struct {
	Tag         string `json:".tag"`
	Name        string `json:"name"`
	PathDisplay string `json:"path_display"`
	Size        int64  `json:"size"`
}

type relocationResult struct {
	Tag        string   `json:".tag"`
	AsyncJobID string   `json:"async_job_id"`
	Entries    []tagged `json:"entries"`
}

// StartUploadSession opens a session carrying the first chunk.
func (c *Client) StartUploadSession(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.content(ctx, "/files/upload_session/start", map[string]bool{"close": false}, data, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// AppendToSession appends a chunk at the cursor.
func (c *Client) AppendToSession(ctx context.Context, cursor core.Cursor, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	arg := map[string]any{"cursor": cursorArg(cursor), "close": false}
	return c.content(ctx, "/files/upload_session/append_v2", arg, data, nil)
}

// FinishUploadBatch commits sessions with finish_batch_v2, which answers
// synchronously with one tagged result per entry. Dropbox only finishes
// closed sessions, so each cursor is first closed with an empty append; an
// entry whose session cannot be closed fails on its own.
func (c *Client) FinishUploadBatch(ctx context.Context, entries []core.FinishEntry) ([]core.EntryResult, error) {
	results := make([]core.EntryResult, len(entries))
	args := make([]finishArg, 0, len(entries))
	sent := make([]int, 0, len(entries))
	for i, e := range entries {
		results[i] = core.EntryResult{Path: e.Path}
		if err := c.closeSession(ctx, e.Cursor); err != nil {
			results[i].Error = "close session: " + err.Error()
			continue
		}
		args = append(args, finishArg{
			Cursor: cursorArg(e.Cursor),
			Commit: commitArg{Path: e.Path, Mode: "add"},
		})
		sent = append(sent, i)
	}
	if len(args) == 0 {
		return results, nil
	}
	var out struct {
		Entries []tagged `json:"entries"`
	}
	if err := c.rpc(ctx, "/files/upload_session/finish_batch_v2", map[string]any{"entries": args}, &out); err != nil {
		return nil, err
	}
	for j, i := range sent {
		if j >= len(out.Entries) {
			results[i].Error = "missing batch entry"
			continue
		}
		if out.Entries[j].Tag == "success" {
			results[i].Success = true
			continue
		}
		results[i].Error = describe(out.Entries[j])
	}
	return results, nil
}

// closeSession appends nothing at cursor and closes the session. A session
// that is already closed counts as closed.
func (c *Client) closeSession(ctx context.Context, cursor core.Cursor) error {
	arg := map[string]any{"cursor": cursorArg(cursor), "close": true}
	err := c.content(ctx, "/files/upload_session/append_v2", arg, nil, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && strings.HasPrefix(apiErr.Summary, "closed") {
		return nil
	}
	return err
}

// ListFolder lists immediate children, following pagination cursors.
func (c *Client) ListFolder(ctx context.Context, p string) ([]core.Entry, error) {
	type page struct {
		Entries []metadata `json:"entries"`
		Cursor  string     `json:"cursor"`
		HasMore bool       `json:"has_more"`
	}
	var pg page
	if err := c.rpc(ctx, "/files/list_folder", map[string]any{"path": apiPath(p)}, &pg); err != nil {
		return nil, err
	}
	var out []core.Entry
	for {
		for _, m := range pg.Entries {
			out = append(out, core.Entry{Name: m.Name, Path: m.PathDisplay, Folder: m.Tag == "folder", Size: m.Size})
		}
		if !pg.HasMore {
			return out, nil
		}
		next := page{}
		if err := c.rpc(ctx, "/files/list_folder/continue", map[string]string{"cursor": pg.Cursor}, &next); err != nil {
			return nil, err
		}
		pg = next
	}
}

// CreateFolder creates p.
func (c *Client) CreateFolder(ctx context.Context, p string) error {
	return c.rpc(ctx, "/files/create_folder_v2", map[string]any{"path": p, "autorename": false}, nil)
}

// CopyBatch submits copy_batch_v2.
func (c *Client) CopyBatch(ctx context.Context, pairs []core.RelocationPair) (core.BatchJob, error) {
	var out relocationResult
	if err := c.rpc(ctx, "/files/copy_batch_v2", map[string]any{"entries": pairs, "autorename": false}, &out); err != nil {
		return core.BatchJob{}, err
	}
	if out.Tag == "async_job_id" {
		return core.BatchJob{JobID: out.AsyncJobID, Tag: core.JobInProgress}, nil
	}
	return core.BatchJob{Tag: settle(out).Tag}, nil
}

// CheckCopyJob polls copy_batch/check_v2.
func (c *Client) CheckCopyJob(ctx context.Context, jobID string) (core.JobStatus, error) {
	var out relocationResult
	if err := c.rpc(ctx, "/files/copy_batch/check_v2", map[string]string{"async_job_id": jobID}, &out); err != nil {
		return core.JobStatus{}, err
	}
	return settle(out), nil
}

// Move renames a file or folder.
func (c *Client) Move(ctx context.Context, from, to string) error {
	return c.rpc(ctx, "/files/move_v2", map[string]any{"from_path": from, "to_path": to, "autorename": false}, nil)
}

// Delete removes a file or folder and its contents.
func (c *Client) Delete(ctx context.Context, p string) error {
	return c.rpc(ctx, "/files/delete_v2", map[string]string{"path": p}, nil)
}

// settle folds a batch result into a job status. A complete batch with any
// failed entry counts as failed.
func settle(r relocationResult) core.JobStatus {
	switch r.Tag {
	case "in_progress":
		return core.JobStatus{Tag: core.JobInProgress}
	case "complete":
		var failures []string
		for _, e := range r.Entries {
			if e.Tag != "success" {
				failures = append(failures, describe(e))
			}
		}
		if len(failures) > 0 {
			return core.JobStatus{Tag: core.JobFailed, Failures: failures}
		}
		return core.JobStatus{Tag: core.JobComplete}
	default:
		return core.JobStatus{Tag: core.JobFailed, Failures: []string{r.Tag}}
	}
}

func describe(t tagged) string {
	if t.Failure != nil {
		return t.Tag + ": " + toJSON(t.Failure)
	}
	return t.Tag
}

// apiPath converts the root folder to the empty string Dropbox expects.
func apiPath(p string) string {
	if p == "/" {
		return ""
	}
	return p
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "unknown"
	}
	return string(b)
}
