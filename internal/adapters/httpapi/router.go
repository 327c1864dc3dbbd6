// Package httpapi exposes query definitions and submission workflows over
// HTTP. Every catalog definition becomes a handler through QueryHandler;
// the submission routes call the workflow service.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"dataportal/internal/catalog"
	"dataportal/internal/ctxlog"
	"dataportal/internal/identity"
	"dataportal/pkg/queryapi"
)

// IdentityFunc reports the authenticated user for r. Authentication
// happens upstream; the binary wires identity.FromHeader.
type IdentityFunc func(r *http.Request) (identity.User, error)

// Access is the identity a route requires.
type Access int

const (
	Public Access = iota
	Member
	Admin
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

// DefaultMaxChunkBytes bounds one upload chunk.
const DefaultMaxChunkBytes = 150 << 20

// Config wires the router.
type Config struct {
	Catalog       *queryapi.Catalog
	Runner        Runner
	Workflows     Workflows
	Identity      IdentityFunc
	Metrics       http.Handler
	Logger        *slog.Logger
	MaxChunkBytes int64
}

type queryRoute struct {
	method     string
	path       string
	definition string
	access     Access
}

var queryRoutes = []queryRoute{
	{http.MethodGet, "/api/news/list", catalog.NewsList, Public},
	{http.MethodPost, "/api/news/create", catalog.NewsCreate, Admin},
	{http.MethodPost, "/api/news/update", catalog.NewsUpdate, Admin},
	{http.MethodPost, "/api/news/update-ranks", catalog.NewsUpdateRanks, Admin},
	{http.MethodPost, "/api/news/delete", catalog.NewsDelete, Admin},
	{http.MethodGet, "/api/news/{id:[0-9]+}", catalog.NewsGet, Public},
	{http.MethodGet, "/api/catalog/datasets", catalog.DatasetsList, Public},
	{http.MethodGet, "/api/catalog/datasets/{shortName}", catalog.DatasetsByShortName, Public},
	{http.MethodGet, "/api/collections", catalog.CollectionsListByUser, Member},
	{http.MethodPost, "/api/collections/create", catalog.CollectionsCreate, Member},
	{http.MethodGet, "/api/data-submission/list", catalog.SubmissionsListByUser, Member},
	{http.MethodGet, "/api/data-submission/{id:[0-9]+}", catalog.SubmissionsRetrieve, Member},
}

// NewRouter builds the portal's HTTP handler. Every query route must name
// a registered definition.
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Catalog == nil || cfg.Runner == nil {
		return nil, fmt.Errorf("httpapi: catalog and runner required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.FromHeader
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	for _, rt := range queryRoutes {
		def, ok := cfg.Catalog.Lookup(rt.definition)
		if !ok {
			return nil, fmt.Errorf("httpapi: definition %s not registered", rt.definition)
		}
		router.Handle(rt.path, authorize(cfg.Identity, rt.access, QueryHandler(def, cfg.Runner))).
			Methods(rt.method).Name(rt.definition)
	}

	if cfg.Workflows != nil {
		sh := &submissionHandlers{wf: cfg.Workflows, maxChunk: cfg.MaxChunkBytes}
		router.Handle("/api/data-submission/begin-upload-session", authorize(cfg.Identity, Member, http.HandlerFunc(sh.beginUpload))).
			Methods(http.MethodPost).Name("submission.beginUpload")
		router.Handle("/api/data-submission/append-upload", authorize(cfg.Identity, Member, http.HandlerFunc(sh.appendUpload))).
			Methods(http.MethodPost).Name("submission.appendUpload")
		router.Handle("/api/data-submission/commit-upload", authorize(cfg.Identity, Member, http.HandlerFunc(sh.commit))).
			Methods(http.MethodPost).Name("submission.commit")
		router.Handle("/api/data-submission/change-submission-name", authorize(cfg.Identity, Member, http.HandlerFunc(sh.rename))).
			Methods(http.MethodPost).Name("submission.rename")
	}

	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{cfg.Logger}),
		handlers.PrintRecoveryStack(false),
	)
	return withRequestContext(cfg.Logger, recovery(router)), nil
}

// authorize resolves the caller and enforces access. Public routes accept
// anonymous callers.
func authorize(ident IdentityFunc, access Access, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := ident(r)
		if err != nil {
			if access == Public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if access == Admin && !user.IsDataSubmissionAdmin {
			writeError(w, http.StatusUnauthorized, "administrator privileges required")
			return
		}
		ctx := identity.WithUser(r.Context(), user)
		ctx = ctxlog.With(ctx, "user_id", user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withRequestContext attaches a request-scoped logger and id, then logs
// the outcome.
func withRequestContext(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		reqLogger := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
		ctx := ctxlog.WithLogger(r.Context(), reqLogger)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		reqLogger.Info("request", "status", rec.status, "duration", time.Since(start))
	})
}

type recoveryLogger struct{ logger *slog.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("panic recovered", "panic", fmt.Sprint(v...))
}
