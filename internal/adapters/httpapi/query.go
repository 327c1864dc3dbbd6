package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dataportal/internal/ctxlog"
	"dataportal/internal/identity"
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

// Runner executes a parsed definition. *sqlexec.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, parsed queryapi.ParsedDefinition) (sqlexec.ResultSet, error)
}

const maxJSONBody = 1 << 20

// RequestTree builds the resolver request for r: the decoded JSON body,
// route variables, the first value of each query parameter and the acting
// user. Numbers in the body stay json.Number so integers survive intact.
func RequestTree(r *http.Request, user identity.User) (queryapi.Request, error) {
	body := map[string]any{}
	if r.Body != nil && r.Method != http.MethodGet {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if body == nil {
			body = map[string]any{}
		}
	}
	params := map[string]any{}
	for k, v := range mux.Vars(r) {
		params[k] = v
	}
	query := map[string]any{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	userTree := map[string]any{}
	if user.ID != 0 {
		userTree = user.Map()
	}
	return queryapi.Request{
		queryapi.SectionBody:   body,
		queryapi.SectionParams: params,
		queryapi.SectionQuery:  query,
		queryapi.SectionUser:   userTree,
	}, nil
}

// QueryHandler serves def: resolution failures answer with the carried
// status and message, execution failures with a generic 500, success with
// the result rows. Single-record definitions answer 404 when nothing
// matched and owned rows answer 401 to anyone but the owner or an admin.
func QueryHandler(def queryapi.Definition, runner Runner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlog.With(r.Context(), "definition", def.Name)
		user, _ := identity.FromContext(ctx)
		req, err := RequestTree(r, user)
		if err != nil {
			writeError(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
		parsed, err := def.Resolve(req).Unwrap()
		if err != nil {
			var re *queryapi.ResolutionError
			if errors.As(err, &re) {
				writeError(w, re.Status, re.Message)
				return
			}
			writeError(w, http.StatusBadRequest, strings.TrimSpace(err.Error()))
			return
		}
		rs, err := runner.Run(ctx, parsed)
		if err != nil {
			ctxlog.FromContext(ctx).Error("query execution failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if def.NotFound != "" && len(rs.Rows) == 0 {
			writeError(w, http.StatusNotFound, def.NotFound)
			return
		}
		if def.Owner != "" {
			for _, row := range rs.Rows {
				owner, ok := ownerID(row.Get(def.Owner))
				if !ok || !user.CanManage(owner) {
					writeError(w, http.StatusUnauthorized, "not authorized")
					return
				}
			}
		}
		writeJSON(w, http.StatusOK, rs)
	})
}

func ownerID(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
