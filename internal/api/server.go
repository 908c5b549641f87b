package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/leetdaily/internal/solves"
	"github.com/JakeFAU/leetdaily/internal/telemetry"
)

const (
	rootMessage      = "LeetCode daily tracker is running"
	forbiddenMessage = "Forbidden: invalid token"
	genericMessage   = "Something went wrong"
	tokenHeader      = "X-Cron-Token"
)

// Runner executes one collection run.
type Runner interface {
	Run(ctx context.Context, token string) (solves.Result, error)
	Authorize(token string) bool
	Username() string
	Policy() solves.Policy
}

// EntryReader reads persisted entries and reports store health.
type EntryReader interface {
	Find(ctx context.Context, username string, day time.Time) ([]solves.Entry, error)
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the collector and the entry store.
type Server struct {
	router  chi.Router
	runner  Runner
	entries EntryReader
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, entries EntryReader, requestTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	s := &Server{
		runner:  runner,
		entries: entries,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(deadlineMiddleware(requestTimeout))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/fetch-now", s.fetchNow)
	r.Get("/v1/entries/{day}", s.listEntries)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(rootMessage)); err != nil {
		s.logger.Warn("root write failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.entries != nil {
		if err := s.entries.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type savedResponse struct {
	Status   solves.Status `json:"status"`
	Problems []string      `json:"problems"`
}

type noneResponse struct {
	Status  solves.Status `json:"status"`
	Message string        `json:"message"`
}

func (s *Server) fetchNow(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(r.Context(), requestToken(r))
	switch {
	case errors.Is(err, solves.ErrUnauthorized):
		s.logger.Warn("fetch rejected", zap.String("request_id", requestID(r.Context())))
		s.writeError(w, http.StatusForbidden, forbiddenMessage)
	case err != nil:
		s.logger.Error("fetch failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, genericMessage)
	case res.Status == solves.StatusNone:
		s.writeJSON(w, http.StatusOK, noneResponse{Status: res.Status, Message: res.Message})
	default:
		problems := res.Problems
		if problems == nil {
			problems = []string{}
		}
		s.writeJSON(w, http.StatusOK, savedResponse{Status: res.Status, Problems: problems})
	}
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	if !s.runner.Authorize(requestToken(r)) {
		s.writeError(w, http.StatusForbidden, forbiddenMessage)
		return
	}
	if s.entries == nil {
		s.writeError(w, http.StatusServiceUnavailable, "entry store not configured")
		return
	}
	loc := s.runner.Policy().Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(time.DateOnly, chi.URLParam(r, "day"), loc)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		username = s.runner.Username()
	}
	entries, err := s.entries.Find(r.Context(), username, day)
	if err != nil {
		s.logger.Error("list entries failed", zap.String("username", username), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, genericMessage)
		return
	}
	if entries == nil {
		entries = []solves.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return r.Header.Get(tokenHeader)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", requestID(r.Context())),
				)
				s.writeError(w, http.StatusInternalServerError, genericMessage)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// deadlineMiddleware bounds each request through its context. Handlers see
// the expiry as an ordinary error and answer with their own JSON body.
func deadlineMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
