package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dataportal/internal/apperr"
	"dataportal/internal/catalog"
	"dataportal/internal/identity"
	"dataportal/internal/sqldb"
	"dataportal/internal/sqlexec"
	"dataportal/internal/submission"
	"dataportal/pkg/queryapi"
)

type fakeWorkflows struct {
	chunk     []byte
	count     int
	sessions  []string
	offset    int64
	commitReq submission.CommitRequest
	user      identity.User
	err       error
	ctxErrs   []error
}

func (f *fakeWorkflows) BeginUpload(_ context.Context, chunk []byte, count int) (submission.BeginResult, error) {
	f.chunk, f.count = chunk, count
	return submission.BeginResult{SessionIDs: []string{"s1"}, Offset: int64(len(chunk))}, f.err
}

func (f *fakeWorkflows) AppendUpload(_ context.Context, ids []string, offset int64, chunk []byte) (submission.AppendResult, error) {
	f.sessions, f.offset, f.chunk = ids, offset, chunk
	return submission.AppendResult{Offset: offset + int64(len(chunk))}, f.err
}

func (f *fakeWorkflows) Commit(ctx context.Context, user identity.User, req submission.CommitRequest) (submission.CommitResult, error) {
	f.user, f.commitReq = user, req
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return submission.CommitResult{}, f.err
	}
	return submission.CommitResult{SubmissionID: 12, ShortName: req.ShortName, Folder: "/" + req.ShortName}, nil
}

func (f *fakeWorkflows) Rename(ctx context.Context, user identity.User, req submission.RenameRequest) (submission.RenameResult, error) {
	f.user = user
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return submission.RenameResult{SubmissionID: req.SubmissionID, ShortName: req.ShortName, Folder: "/" + req.ShortName}, f.err
}

type runnerFunc func(context.Context, queryapi.ParsedDefinition) (sqlexec.ResultSet, error)

func (f runnerFunc) Run(ctx context.Context, p queryapi.ParsedDefinition) (sqlexec.ResultSet, error) {
	return f(ctx, p)
}

const (
	adminHeader  = `{"id":1,"firstName":"Root","isDataSubmissionAdmin":true}`
	memberHeader = `{"id":9,"firstName":"Ada","email":"ada@example.org"}`
)

func newServer(t *testing.T, runner Runner, wf Workflows) *httptest.Server {
	t.Helper()
	if runner == nil {
		pool, err := sqldb.Open(context.Background(), sqldb.DriverSQLite, ":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = pool.Close() })
		runner = sqlexec.NewExecutor(pool, nil)
	}
	c, err := catalog.New(sqlexec.DialectSQLite)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	h, err := NewRouter(Config{
		Catalog:       c,
		Runner:        runner,
		Workflows:     wf,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:       http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
		MaxChunkBytes: 16,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if user != "" {
		req.Header.Set(identity.HeaderUser, user)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestNewsRoutesEnforceAccess(t *testing.T) {
	srv := newServer(t, nil, nil)
	story := `{"story":{"headline":"Cruise","content":"Data from the cruise"},"rank":1}`

	if status, _ := call(t, srv, http.MethodPost, "/api/news/create", "", story); status != http.StatusUnauthorized {
		t.Fatalf("anonymous create: expected 401, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/news/create", memberHeader, story); status != http.StatusUnauthorized {
		t.Fatalf("member create: expected 401, got %d", status)
	}
	status, body := call(t, srv, http.MethodPost, "/api/news/create", adminHeader, story)
	if status != http.StatusOK {
		t.Fatalf("admin create: expected 200, got %d %v", status, body)
	}

	status, body = call(t, srv, http.MethodGet, "/api/news/list", "", "")
	if status != http.StatusOK {
		t.Fatalf("list: %d %v", status, body)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["headline"] != "Cruise" {
		t.Fatalf("unexpected rows %v", body)
	}
	if status, _ := call(t, srv, http.MethodGet, "/api/news/1", "", ""); status != http.StatusOK {
		t.Fatalf("get: %d", status)
	}
}

func TestQueryHandlerResolutionFailure(t *testing.T) {
	srv := newServer(t, nil, nil)
	status, body := call(t, srv, http.MethodPost, "/api/news/create", adminHeader, `{"story":{"headline":7}}`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	want := map[string]any{"error": "body.story.headline must be a string, body.story.content is required"}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Fatalf("error body (-want +got):\n%s", diff)
	}

	status, _ = call(t, srv, http.MethodPost, "/api/news/create", adminHeader, `[1,2]`)
	if status != http.StatusBadRequest {
		t.Fatalf("non-object body: expected 400, got %d", status)
	}
}

func TestQueryHandlerHidesExecutionErrors(t *testing.T) {
	runner := runnerFunc(func(context.Context, queryapi.ParsedDefinition) (sqlexec.ResultSet, error) {
		return sqlexec.ResultSet{}, errors.New("login failed for user sa")
	})
	srv := newServer(t, runner, nil)
	status, body := call(t, srv, http.MethodGet, "/api/catalog/datasets", "", "")
	if status != http.StatusInternalServerError || body["error"] != "internal server error" {
		t.Fatalf("expected generic 500, got %d %v", status, body)
	}
}

func TestSingleRecordRoutes(t *testing.T) {
	srv := newServer(t, nil, nil)
	status, body := call(t, srv, http.MethodGet, "/api/news/99", "", "")
	if status != http.StatusNotFound || body["error"] != "news item not found" {
		t.Fatalf("missing news: expected 404, got %d %v", status, body)
	}

	rows := map[string][]sqlexec.Row{
		"1": {{"id": int64(1), "submitterId": int64(9)}},
		"3": {{"id": int64(3), "submitterId": int64(11)}},
	}
	runner := runnerFunc(func(_ context.Context, p queryapi.ParsedDefinition) (sqlexec.ResultSet, error) {
		for _, a := range p.Args {
			if v, ok := a.BindValue(); ok && a.Name == "id" {
				return sqlexec.ResultSet{Rows: rows[fmt.Sprint(v)]}, nil
			}
		}
		return sqlexec.ResultSet{}, nil
	})
	srv = newServer(t, runner, nil)
	cases := []struct {
		path, user string
		want       int
	}{
		{"/api/data-submission/1", memberHeader, http.StatusOK},
		{"/api/data-submission/3", memberHeader, http.StatusUnauthorized},
		{"/api/data-submission/3", adminHeader, http.StatusOK},
		{"/api/data-submission/42", memberHeader, http.StatusNotFound},
		{"/api/data-submission/42", adminHeader, http.StatusNotFound},
	}
	for _, tc := range cases {
		if status, body := call(t, srv, http.MethodGet, tc.path, tc.user, ""); status != tc.want {
			t.Errorf("%s as %s: expected %d, got %d %v", tc.path, tc.user, tc.want, status, body)
		}
	}
}

func TestRecoversPanics(t *testing.T) {
	runner := runnerFunc(func(context.Context, queryapi.ParsedDefinition) (sqlexec.ResultSet, error) {
		panic("boom")
	})
	srv := newServer(t, runner, nil)
	if status, _ := call(t, srv, http.MethodGet, "/api/catalog/datasets", "", ""); status != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodGet, "/healthz", "", ""); status != http.StatusOK {
		t.Fatalf("server should keep serving, got %d", status)
	}
}

func TestRequestIDAndFallbackRoutes(t *testing.T) {
	srv := newServer(t, nil, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(HeaderRequestID) != "req-42" {
		t.Fatalf("request id not echoed: %q", resp.Header.Get(HeaderRequestID))
	}

	if status, body := call(t, srv, http.MethodGet, "/api/unknown", "", ""); status != http.StatusNotFound || body["error"] != "not found" {
		t.Fatalf("expected JSON 404, got %d %v", status, body)
	}
	if status, _ := call(t, srv, http.MethodDelete, "/api/news/list", "", ""); status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", status)
	}
	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %v %v", resp, err)
	}
	resp.Body.Close()
}

func TestMemberRoutesUseCallerIdentity(t *testing.T) {
	srv := newServer(t, nil, nil)
	if status, _ := call(t, srv, http.MethodGet, "/api/collections", "", ""); status != http.StatusUnauthorized {
		t.Fatalf("anonymous collections: expected 401, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/collections/create", memberHeader, `{"collectionName":"Mine"}`); status != http.StatusOK {
		t.Fatalf("create collection: %d", status)
	}
	status, body := call(t, srv, http.MethodGet, "/api/collections", memberHeader, "")
	rows, _ := body["rows"].([]any)
	if status != http.StatusOK || len(rows) != 1 {
		t.Fatalf("collections: %d %v", status, body)
	}
	status, body = call(t, srv, http.MethodGet, "/api/collections", adminHeader, "")
	rows, _ = body["rows"].([]any)
	if status != http.StatusOK || len(rows) != 0 {
		t.Fatalf("other user's collections leaked: %v", body)
	}
}

func TestSubmissionHandlers(t *testing.T) {
	wf := &fakeWorkflows{}
	srv := newServer(t, nil, wf)

	status, body := call(t, srv, http.MethodPost, "/api/data-submission/begin-upload-session?sessions=2", memberHeader, "first")
	if status != http.StatusOK || wf.count != 2 || string(wf.chunk) != "first" || body["offset"] != float64(5) {
		t.Fatalf("begin: %d %v %+v", status, body, wf)
	}

	status, _ = call(t, srv, http.MethodPost, "/api/data-submission/append-upload?sessionId=a&sessionId=b&offset=5", memberHeader, "more")
	if status != http.StatusOK || !cmp.Equal(wf.sessions, []string{"a", "b"}) || wf.offset != 5 {
		t.Fatalf("append: %d %+v", status, wf)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/data-submission/append-upload?sessionId=a&offset=x", memberHeader, "more"); status != http.StatusBadRequest {
		t.Fatalf("bad offset: expected 400, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/data-submission/append-upload?sessionId=a&offset=0", memberHeader, strings.Repeat("x", 17)); status != http.StatusBadRequest {
		t.Fatalf("oversized chunk: expected 400, got %d", status)
	}

	status, body = call(t, srv, http.MethodPost, "/api/data-submission/commit-upload", memberHeader,
		`{"submissionType":"new","shortName":"SST","longName":"Sea","uploads":[{"sessionId":"a","offset":5},{"sessionId":"b","offset":5}]}`)
	if status != http.StatusOK || body["folder"] != "/SST" || wf.user.ID != 9 || len(wf.commitReq.Uploads) != 2 {
		t.Fatalf("commit: %d %v %+v", status, body, wf)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/data-submission/commit-upload", memberHeader, `{"bogus":true}`); status != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", status)
	}

	status, body = call(t, srv, http.MethodPost, "/api/data-submission/change-submission-name", memberHeader, `{"submissionId":4,"shortName":"Next"}`)
	if status != http.StatusOK || body["shortName"] != "Next" {
		t.Fatalf("rename: %d %v", status, body)
	}

	if status, _ := call(t, srv, http.MethodPost, "/api/data-submission/commit-upload", "", `{}`); status != http.StatusUnauthorized {
		t.Fatalf("anonymous commit: expected 401, got %d", status)
	}
}

func TestSubmissionErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.New(apperr.CodeConflict, `short name "SST" is already in use`), http.StatusConflict, `short name "SST" is already in use`},
		{apperr.New(apperr.CodeUnauthorized, "not permitted"), http.StatusUnauthorized, "not permitted"},
		{apperr.New(apperr.CodeNotFound, "submission 4 not found"), http.StatusNotFound, "submission 4 not found"},
		{apperr.Wrap(errors.New("dropbox 503"), apperr.CodeInternal, "rename temp folder"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.msg, func(t *testing.T) {
			srv := newServer(t, nil, &fakeWorkflows{err: tc.err})
			status, body := call(t, srv, http.MethodPost, "/api/data-submission/change-submission-name", memberHeader, `{"submissionId":4,"shortName":"Next"}`)
			if status != tc.status || body["error"] != tc.msg {
				t.Fatalf("got %d %v, want %d %q", status, body, tc.status, tc.msg)
			}
		})
	}
}

func TestRequestTree(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x?limit=5&limit=9&q=sst", strings.NewReader(`{"id": 12345678901, "ratio": 0.5}`))
	tree, err := RequestTree(r, identity.User{ID: 3, Email: "a@b"})
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if v, _ := tree.Lookup("body.id"); v != json.Number("12345678901") {
		t.Fatalf("body numbers should stay json.Number, got %#v", v)
	}
	if v, _ := tree.Lookup("query.limit"); v != "5" {
		t.Fatalf("first query value expected, got %v", v)
	}
	if v, _ := tree.Lookup("user.id"); v != 3 {
		t.Fatalf("user id missing: %v", v)
	}

	anon, err := RequestTree(httptest.NewRequest(http.MethodGet, "/x", nil), identity.User{})
	if err != nil {
		t.Fatalf("anonymous tree: %v", err)
	}
	if _, ok := anon.Lookup("user.id"); ok {
		t.Fatalf("anonymous request must not carry a user id")
	}
}

func TestWorkflowsOutliveClientCancellation(t *testing.T) {
	wf := &fakeWorkflows{}
	h := &submissionHandlers{wf: wf, maxChunk: 16}
	ctx, cancel := context.WithCancel(identity.WithUser(context.Background(), identity.User{ID: 9}))
	cancel()

	for _, tc := range []struct {
		handler http.HandlerFunc
		body    string
	}{
		{h.commit, `{"submissionType":"new","shortName":"A"}`},
		{h.rename, `{"submissionId":3,"shortName":"B"}`},
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)).WithContext(ctx)
		rec := httptest.NewRecorder()
		tc.handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
		}
	}
	if len(wf.ctxErrs) != 2 || wf.ctxErrs[0] != nil || wf.ctxErrs[1] != nil {
		t.Fatalf("workflows must not see the client's cancellation: %v", wf.ctxErrs)
	}
	if wf.user.ID != 9 {
		t.Fatalf("identity must survive detaching: %+v", wf.user)
	}
}
