// Package httpapi serves the Engine's commands and queries as JSON over
// HTTP. Credentials travel in the headers defined by package middleware.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
)

const maxBodyBytes = 1 << 20

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server routes requests to an Engine.
type Server struct {
	engine  *goIdentity.Engine
	logger  *slog.Logger
	metrics http.Handler
	checks  map[string]HealthCheck
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func New(engine *goIdentity.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
		checks: map[string]HealthCheck{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in credential extraction.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	auth := middleware.Require(middleware.HeaderAuthToken)
	userTok := middleware.Require(middleware.HeaderUserToken)
	access := middleware.Require(middleware.HeaderUserToken, middleware.HeaderAccessToken)
	acl := middleware.Require(middleware.HeaderACLToken)
	mfa := middleware.Require(middleware.HeaderMFAToken)

	// users
	mux.HandleFunc("POST /v1/users", s.registerUser)
	mux.HandleFunc("POST /v1/users/login", s.logInUser)
	mux.Handle("POST /v1/users/login/totp", mfa(http.HandlerFunc(s.logInTOTP)))
	mux.Handle("POST /v1/users/logout", auth(http.HandlerFunc(s.logOutUser)))
	mux.Handle("POST /v1/users/verify", auth(http.HandlerFunc(s.verifyUser)))
	mux.Handle("GET /v1/users/me", auth(http.HandlerFunc(s.getUser)))
	mux.Handle("POST /v1/users/password", auth(http.HandlerFunc(s.changePassword)))
	mux.Handle("POST /v1/users/confirmation", auth(http.HandlerFunc(s.requestConfirmation)))
	mux.Handle("POST /v1/users/confirm", auth(http.HandlerFunc(s.confirm)))
	mux.Handle("POST /v1/users/totp", auth(http.HandlerFunc(s.generateTOTP)))
	mux.Handle("GET /v1/users/totp", auth(http.HandlerFunc(s.getGeneratedTOTP)))
	mux.Handle("POST /v1/users/totp/activate", auth(http.HandlerFunc(s.activateTOTP)))

	// groups
	mux.Handle("POST /v1/groups", userTok(http.HandlerFunc(s.createGroup)))
	mux.Handle("POST /v1/groups/join", userTok(http.HandlerFunc(s.joinGroup)))
	mux.Handle("GET /v1/groups/{groupId}", userTok(http.HandlerFunc(s.getGroup)))
	mux.Handle("PUT /v1/groups/{groupId}/label", userTok(http.HandlerFunc(s.renameGroup)))
	mux.Handle("POST /v1/groups/{groupId}/invitations", userTok(http.HandlerFunc(s.inviteUser)))
	mux.Handle("DELETE /v1/groups/{groupId}/invitations/{email}", userTok(http.HandlerFunc(s.uninviteUser)))
	mux.Handle("POST /v1/groups/{groupId}/leave", userTok(http.HandlerFunc(s.leaveGroup)))
	mux.Handle("POST /v1/groups/{groupId}/access", userTok(http.HandlerFunc(s.requestAccess)))
	mux.Handle("GET /v1/groups/{groupId}/log", userTok(http.HandlerFunc(s.groupLog)))
	mux.Handle("POST /v1/access/verify", access(http.HandlerFunc(s.verifyAccess)))

	// agents
	mux.HandleFunc("POST /v1/agents/login", s.logInAgent)
	mux.Handle("POST /v1/agents/verify", auth(http.HandlerFunc(s.verifyAgent)))
	mux.Handle("POST /v1/agents/logout", auth(http.HandlerFunc(s.logOutAgent)))
	mux.Handle("POST /v1/agents", acl(http.HandlerFunc(s.createAgent)))
	mux.Handle("GET /v1/agents/{agentId}", acl(http.HandlerFunc(s.getAgent)))
	mux.Handle("PUT /v1/agents/{agentId}/label", acl(http.HandlerFunc(s.renameAgent)))
	mux.Handle("DELETE /v1/agents/{agentId}", acl(http.HandlerFunc(s.deleteAgent)))
	mux.Handle("POST /v1/agents/{agentId}/credentials", acl(http.HandlerFunc(s.createCredentials)))
	mux.Handle("GET /v1/agents/{agentId}/credentials/{credentialsId}", acl(http.HandlerFunc(s.getCredentials)))
	mux.Handle("DELETE /v1/agents/{agentId}/credentials/{credentialsId}", acl(http.HandlerFunc(s.deleteCredentials)))
	mux.Handle("GET /v1/agents/{agentId}/log", acl(http.HandlerFunc(s.agentLog)))

	return middleware.Credentials(s.logRequests(mux))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": report})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

/*
====================================
ENCODING
====================================
*/

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", goIdentity.ErrUnvalidRequest)
		}
		return fmt.Errorf("%w: %v", goIdentity.ErrUnvalidRequest, err)
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps stable error codes to HTTP statuses.
func statusFor(code string) int {
	switch code {
	case goIdentity.CodeUserAlreadyExists, goIdentity.CodeGroupAlreadyExists, goIdentity.CodeAgentAlreadyExists,
		goIdentity.CodeCredentialsAlreadyExist, goIdentity.CodeMemberAlreadyExists:
		return http.StatusConflict
	case goIdentity.CodeRequiresAdminRole, goIdentity.CodeOnlyAllowedForMembers:
		return http.StatusForbidden
	case goIdentity.CodeUnvalidToken:
		return http.StatusUnauthorized
	case goIdentity.CodeUnvalidRequest, goIdentity.CodeInvalidInput:
		return http.StatusBadRequest
	case goIdentity.CodeNotFound:
		return http.StatusNotFound
	case goIdentity.CodeRateLimited:
		return http.StatusTooManyRequests
	case goIdentity.CodeTransient, goIdentity.CodeEngineNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := goIdentity.Code(err)
	status := statusFor(code)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func logQuery(r *http.Request) (goIdentity.LogQuery, error) {
	var q goIdentity.LogQuery
	values := r.URL.Query()
	if v := values.Get("from"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			t, terr := time.Parse(time.RFC3339Nano, v)
			if terr != nil {
				return q, fmt.Errorf("%w: from must be epoch milliseconds or RFC 3339", goIdentity.ErrUnvalidRequest)
			}
			q.From = t
		} else {
			q.From = time.UnixMilli(ms)
		}
	}
	if v := values.Get("afterVersion"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%w: afterVersion", goIdentity.ErrUnvalidRequest)
		}
		q.AfterVersion = n
	}
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("%w: limit", goIdentity.ErrUnvalidRequest)
		}
		q.Limit = n
	}
	return q, nil
}
