package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/encryption"
	"github.com/MrEthical07/goIdentity/eventstore/memstore"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/middleware"
)

func newServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()

	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keyring, err := encryption.NewKeyring(map[string][]byte{"k1": key}, "k1")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	signer, err := jwt.NewManager(jwt.Config{
		DefaultTTL:    time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := goIdentity.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithBackend(memstore.New()).
		WithEncryptor(keyring).
		WithSigner(signer).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(New(engine, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t   *testing.T
	url string
}

func (c client) do(method, path string, headers map[string]string, body any, out any) int {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.url+path, rd)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type apiError struct {
	Error errorBody `json:"error"`
}

func TestUserGroupAgentFlow(t *testing.T) {
	srv := newServer(t)
	c := client{t: t, url: srv.URL}

	register := map[string]string{
		"userId": "alice", "email": "alice@example.com", "password": "correct horse battery", "locale": "en-US",
	}
	if code := c.do(http.MethodPost, "/v1/users", nil, register, nil); code != http.StatusCreated {
		t.Fatalf("register status %d", code)
	}
	var dup apiError
	if code := c.do(http.MethodPost, "/v1/users", nil, register, &dup); code != http.StatusConflict {
		t.Fatalf("duplicate register status %d", code)
	}
	if dup.Error.Code != goIdentity.CodeUserAlreadyExists {
		t.Fatalf("duplicate code = %q", dup.Error.Code)
	}

	var login goIdentity.LoginResult
	if code := c.do(http.MethodPost, "/v1/users/login", nil, map[string]string{
		"sessionId": "s1", "email": "alice@example.com", "password": "correct horse battery",
	}, &login); code != http.StatusOK || login.AuthToken == "" {
		t.Fatalf("login status %d result %+v", code, login)
	}

	var me goIdentity.UserView
	if code := c.do(http.MethodGet, "/v1/users/me", map[string]string{"Authorization": "Bearer " + login.AuthToken}, nil, &me); code != http.StatusOK {
		t.Fatalf("me status %d", code)
	}
	if me.UID != "alice" || me.Confirmed {
		t.Fatalf("unexpected view %+v", me)
	}

	var verified map[string]string
	c.do(http.MethodPost, "/v1/users/verify", map[string]string{middleware.HeaderAuthToken: login.AuthToken}, nil, &verified)
	userTok := verified["userToken"]
	if userTok == "" {
		t.Fatal("missing userToken")
	}
	asUser := map[string]string{middleware.HeaderUserToken: userTok}

	if code := c.do(http.MethodPost, "/v1/groups", asUser, map[string]string{"groupId": "g1", "label": "Ops"}, nil); code != http.StatusCreated {
		t.Fatalf("create group status %d", code)
	}
	var grp goIdentity.GroupView
	if code := c.do(http.MethodGet, "/v1/groups/g1", asUser, nil, &grp); code != http.StatusOK || grp.Label != "Ops" {
		t.Fatalf("get group status %d view %+v", code, grp)
	}

	var access map[string]string
	c.do(http.MethodPost, "/v1/groups/g1/access", asUser, nil, &access)
	var acl map[string]string
	if code := c.do(http.MethodPost, "/v1/access/verify", map[string]string{
		middleware.HeaderUserToken:   userTok,
		middleware.HeaderAccessToken: access["accessToken"],
	}, nil, &acl); code != http.StatusOK || acl["aclToken"] == "" {
		t.Fatalf("verify access status %d", code)
	}
	asAdmin := map[string]string{middleware.HeaderACLToken: acl["aclToken"]}

	if code := c.do(http.MethodPost, "/v1/agents", asAdmin, map[string]string{"agentId": "a1", "label": "bot"}, nil); code != http.StatusCreated {
		t.Fatalf("create agent status %d", code)
	}
	var summary goIdentity.CredentialSummary
	if code := c.do(http.MethodPost, "/v1/agents/a1/credentials", asAdmin, map[string]string{"credentialsId": "c1"}, &summary); code != http.StatusCreated {
		t.Fatalf("create credentials status %d", code)
	}
	var creds goIdentity.Credentials
	if code := c.do(http.MethodGet, "/v1/agents/a1/credentials/c1", asAdmin, nil, &creds); code != http.StatusOK || creds.Secret == "" {
		t.Fatalf("get credentials status %d", code)
	}

	var sess goIdentity.AgentSession
	if code := c.do(http.MethodPost, "/v1/agents/login", nil, map[string]string{"agentId": "a1", "secret": creds.Secret}, &sess); code != http.StatusOK {
		t.Fatalf("agent login status %d", code)
	}
	var agentTok map[string]string
	if code := c.do(http.MethodPost, "/v1/agents/verify", map[string]string{middleware.HeaderAuthToken: sess.AuthToken}, nil, &agentTok); code != http.StatusOK || agentTok["agentToken"] == "" {
		t.Fatalf("agent verify status %d", code)
	}

	var page goIdentity.LogPage
	if code := c.do(http.MethodGet, "/v1/agents/a1/log?limit=2", asAdmin, nil, &page); code != http.StatusOK {
		t.Fatalf("agent log status %d", code)
	}
	if page.Limit != 2 || len(page.Events) != 2 || page.Events[0].Name != "AgentCreated" {
		t.Fatalf("unexpected log page %+v", page)
	}

	var denied apiError
	if code := c.do(http.MethodPost, "/v1/users/verify", map[string]string{middleware.HeaderAuthToken: sess.AuthToken}, nil, &denied); code != http.StatusUnauthorized {
		t.Fatalf("agent token on user surface status %d", code)
	}
}

func TestMissingCredentialsRejectedEarly(t *testing.T) {
	c := client{t: t, url: newServer(t).URL}

	var body apiError
	if code := c.do(http.MethodGet, "/v1/agents/a1", nil, nil, &body); code != http.StatusUnauthorized {
		t.Fatalf("status %d", code)
	}
	if !strings.Contains(body.Error.Message, middleware.HeaderACLToken) {
		t.Fatalf("message = %q", body.Error.Message)
	}
}

func TestMalformedBodies(t *testing.T) {
	c := client{t: t, url: newServer(t).URL}

	var body apiError
	if code := c.do(http.MethodPost, "/v1/users", nil, map[string]string{"nickname": "x"}, &body); code != http.StatusBadRequest {
		t.Fatalf("unknown field status %d", code)
	}
	if body.Error.Code != goIdentity.CodeUnvalidRequest {
		t.Fatalf("code = %q", body.Error.Code)
	}
	if code := c.do(http.MethodPost, "/v1/users/login", nil, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("empty body status %d", code)
	}
}

func TestLogQueryParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=1700000000000&afterVersion=3&limit=10", nil)
	q, err := logQuery(req)
	if err != nil {
		t.Fatalf("logQuery: %v", err)
	}
	if q.From.UnixMilli() != 1700000000000 || q.AfterVersion != 3 || q.Limit != 10 {
		t.Fatalf("unexpected query %+v", q)
	}

	req = httptest.NewRequest(http.MethodGet, "/?from=2026-03-01T10:00:00Z", nil)
	if q, err = logQuery(req); err != nil || q.From.Hour() != 10 {
		t.Fatalf("rfc3339 from: %+v %v", q, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?limit=-1", nil)
	if _, err := logQuery(req); !errors.Is(err, goIdentity.ErrUnvalidRequest) {
		t.Fatalf("expected UnvalidRequest, got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[string]int{
		goIdentity.CodeAgentAlreadyExists:    http.StatusConflict,
		goIdentity.CodeRequiresAdminRole:     http.StatusForbidden,
		goIdentity.CodeOnlyAllowedForMembers: http.StatusForbidden,
		goIdentity.CodeUnvalidToken:          http.StatusUnauthorized,
		goIdentity.CodeNotFound:              http.StatusNotFound,
		goIdentity.CodeRateLimited:           http.StatusTooManyRequests,
		goIdentity.CodeTransient:             http.StatusServiceUnavailable,
		goIdentity.CodeInternal:              http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestHealthz(t *testing.T) {
	var failing atomic.Bool
	srv := newServer(t,
		WithHealthCheck("store", func(context.Context) error {
			if failing.Load() {
				return errors.New("down")
			}
			return nil
		}),
		WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("identity_login_success_total 0\n"))
		})),
	)
	c := client{t: t, url: srv.URL}

	var report map[string]any
	if code := c.do(http.MethodGet, "/healthz", nil, nil, &report); code != http.StatusOK || report["status"] != "ok" {
		t.Fatalf("healthz %d %v", code, report)
	}
	failing.Store(true)
	if code := c.do(http.MethodGet, "/healthz", nil, nil, &report); code != http.StatusServiceUnavailable {
		t.Fatalf("degraded healthz %d", code)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
