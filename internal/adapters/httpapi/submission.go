package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"dataportal/internal/apperr"
	"dataportal/internal/identity"
	"dataportal/internal/submission"
)

// Workflows is the submission surface served over HTTP.
// *submission.Service satisfies it.
type Workflows interface {
	BeginUpload(ctx context.Context, chunk []byte, count int) (submission.BeginResult, error)
	AppendUpload(ctx context.Context, sessionIDs []string, offset int64, chunk []byte) (submission.AppendResult, error)
	Commit(ctx context.Context, user identity.User, req submission.CommitRequest) (submission.CommitResult, error)
	Rename(ctx context.Context, user identity.User, req submission.RenameRequest) (submission.RenameResult, error)
}

type submissionHandlers struct {
	wf       Workflows
	maxChunk int64
}

func (h *submissionHandlers) readChunk(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxChunk))
	if err != nil {
		return nil, apperr.Newf(apperr.CodeInvalid, "upload chunk must not exceed %d bytes", h.maxChunk)
	}
	return chunk, nil
}

func (h *submissionHandlers) beginUpload(w http.ResponseWriter, r *http.Request) {
	count := 1
	if raw := r.URL.Query().Get("sessions"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "sessions must be an integer")
			return
		}
		count = n
	}
	chunk, err := h.readChunk(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := h.wf.BeginUpload(r.Context(), chunk, count)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *submissionHandlers) appendUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := strconv.ParseInt(q.Get("offset"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	chunk, err := h.readChunk(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := h.wf.AppendUpload(r.Context(), q["sessionId"], offset, chunk)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *submissionHandlers) commit(w http.ResponseWriter, r *http.Request) {
	var req submission.CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, _ := identity.FromContext(r.Context())
	// A started workflow runs to completion even if the client goes away.
	res, err := h.wf.Commit(context.WithoutCancel(r.Context()), user, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *submissionHandlers) rename(w http.ResponseWriter, r *http.Request) {
	var req submission.RenameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, _ := identity.FromContext(r.Context())
	res, err := h.wf.Rename(context.WithoutCancel(r.Context()), user, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+strings.TrimPrefix(err.Error(), "json: "))
		return false
	}
	return true
}
