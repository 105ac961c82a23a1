package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bigkaa/memberportal/internal/authz"
	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSession — управляемая сессия.
type fakeSession struct {
	mu         sync.Mutex
	token      string
	principal  *model.Principal
	nextToken  string
	refreshErr error

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func (s *fakeSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) Principal() *model.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal.Clone()
}

func (s *fakeSession) RefreshAfter(_ context.Context, _ string) (string, error) {
	s.refreshCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	s.token = s.nextToken
	return s.token, nil
}

func (s *fakeSession) Logout(context.Context) {
	s.logoutCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.principal = nil
}

func memberSession() *fakeSession {
	return &fakeSession{
		token:     "old",
		nextToken: "new",
		principal: &model.Principal{ID: "u-1", Role: rbac.RoleMember},
	}
}

// recorded — запрос, полученный тестовым сервером.
type recorded struct {
	auth      string
	requestID string
	body      string
}

// recorder — тестовый сервер, отвечающий 401 на отклонённые токены.
type recorder struct {
	mu       sync.Mutex
	requests []recorded
	reject   map[string]bool
	status   int
	body     string
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	rec := recorded{
		auth:      req.Header.Get("Authorization"),
		requestID: req.Header.Get(HeaderRequestID),
		body:      string(body),
	}

	r.mu.Lock()
	r.requests = append(r.requests, rec)
	rejected := r.reject[rec.auth]
	status, respBody := r.status, r.body
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if rejected {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"bad token"}}`))
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(respBody))
}

func (r *recorder) at(i int) recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[i]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func setupGateway(t *testing.T, sess Session, rec *recorder) *Gateway {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(ts.Close)
	g, err := New(ts.URL+"/", ts.Client(), sess, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", nil, memberSession(), testLogger()); err == nil {
		t.Error("ожидалась ошибка без базового URL")
	}
	if _, err := New("http://x", nil, nil, testLogger()); err == nil {
		t.Error("ожидалась ошибка без сессии")
	}
}

func TestDo_InjectsHeaders(t *testing.T) {
	rec := &recorder{body: `{"ok":true}`}
	g := setupGateway(t, memberSession(), rec)

	resp, err := g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/members"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Errorf("ответ = %d %s", resp.StatusCode, resp.Body)
	}

	got := rec.at(0)
	if got.auth != "Bearer old" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if _, err := uuid.Parse(got.requestID); err != nil {
		t.Errorf("X-Request-ID = %q не UUID", got.requestID)
	}
	if got.requestID != resp.RequestID {
		t.Error("Response.RequestID должен совпадать с отправленным")
	}
}

func TestDo_AnonymousSendsNoBearer(t *testing.T) {
	rec := &recorder{}
	g := setupGateway(t, &fakeSession{}, rec)

	if _, err := g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/health"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if rec.at(0).auth != "" {
		t.Errorf("Authorization = %q, ожидается пустой", rec.at(0).auth)
	}
}

func TestDo_RetryOnceOn401(t *testing.T) {
	sess := memberSession()
	rec := &recorder{reject: map[string]bool{"Bearer old": true}, body: `[]`}
	g := setupGateway(t, sess, rec)

	before := testutil.ToFloat64(requestsTotal.WithLabelValues(outcomeRetried))

	resp, err := g.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/members",
		Body:   []byte(`{"name":"x"}`),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if rec.count() != 2 || sess.refreshCalls.Load() != 1 {
		t.Fatalf("отправок %d, refresh %d; ожидается 2 и 1", rec.count(), sess.refreshCalls.Load())
	}

	first, second := rec.at(0), rec.at(1)
	if second.auth != "Bearer new" {
		t.Errorf("повтор с Authorization = %q", second.auth)
	}
	if first.requestID != second.requestID {
		t.Error("исходная и повторная отправка должны иметь общий X-Request-ID")
	}
	if first.body != second.body || second.body != `{"name":"x"}` {
		t.Errorf("тела отправок различаются: %q / %q", first.body, second.body)
	}
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues(outcomeRetried)) - before; got != 1 {
		t.Errorf("retried += %v, ожидается 1", got)
	}
}

func TestDo_Second401ExpiresSession(t *testing.T) {
	sess := memberSession()
	rec := &recorder{reject: map[string]bool{"Bearer old": true, "Bearer new": true}}
	g := setupGateway(t, sess, rec)

	_, err := g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/members"})
	if !errors.Is(err, autherr.ErrSessionExpired) {
		t.Fatalf("Do = %v, ожидается ErrSessionExpired", err)
	}
	if rec.count() != 2 {
		t.Errorf("отправок %d, ожидается ровно 2", rec.count())
	}
	if sess.logoutCalls.Load() != 1 {
		t.Errorf("logoutCalls = %d, ожидается 1", sess.logoutCalls.Load())
	}
}

func TestDo_Second401KeepsRotatedSession(t *testing.T) {
	sess := memberSession()
	var sends atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if sends.Add(1) == 2 {
			// Пока повтор в пути, параллельный вызов уже сменил пару
			sess.mu.Lock()
			sess.token = "newer"
			sess.mu.Unlock()
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)
	g, err := New(ts.URL, ts.Client(), sess, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/members"})
	if !errors.Is(err, autherr.ErrSessionExpired) {
		t.Fatalf("Do = %v, ожидается ErrSessionExpired", err)
	}
	if sends.Load() != 2 {
		t.Errorf("отправок %d, ожидается 2", sends.Load())
	}
	if sess.logoutCalls.Load() != 0 {
		t.Error("новая сессия не должна завершаться")
	}
	if sess.AccessToken() != "newer" {
		t.Errorf("AccessToken = %q, ожидается newer", sess.AccessToken())
	}
}

func TestDo_RefreshFailure(t *testing.T) {
	sess := memberSession()
	sess.refreshErr = autherr.New(autherr.KindNetworkFailure, "refresh", errors.New("refused"))
	rec := &recorder{reject: map[string]bool{"Bearer old": true}}
	g := setupGateway(t, sess, rec)

	_, err := g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/members"})
	if !errors.Is(err, autherr.ErrSessionExpired) {
		t.Fatalf("Do = %v, ожидается ErrSessionExpired", err)
	}
	if rec.count() != 1 {
		t.Errorf("отправок %d, ожидается 1", rec.count())
	}
}

func TestDo_RequiredRolesNoNetwork(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		roles     []rbac.Role
		allowed   bool
	}{
		{"member needs officer", &model.Principal{ID: "u", Role: rbac.RoleMember}, authz.Officers(), false},
		{"anonymous", nil, authz.AllRoles(), false},
		{"president is global", &model.Principal{ID: "u", Role: rbac.RolePresident}, authz.GlobalOfficers(), true},
		{"member in all roles", &model.Principal{ID: "u", Role: rbac.RoleMember}, authz.AllRoles(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			g := setupGateway(t, &fakeSession{token: "t", principal: tt.principal}, rec)

			_, err := g.Do(context.Background(), Request{
				Method:        http.MethodGet,
				Path:          "/resources",
				RequiredRoles: tt.roles,
			})
			if tt.allowed {
				if err != nil || rec.count() != 1 {
					t.Errorf("Do = %v, отправок %d", err, rec.count())
				}
				return
			}
			if !errors.Is(err, autherr.ErrUnauthorized) {
				t.Errorf("Do = %v, ожидается ErrUnauthorized", err)
			}
			if !autherr.Recoverable(err) {
				t.Error("ErrUnauthorized должен быть восстановимым")
			}
			if rec.count() != 0 {
				t.Errorf("сеть вызвана %d раз", rec.count())
			}
		})
	}
}

func TestDo_StatusError(t *testing.T) {
	rec := &recorder{status: http.StatusNotFound, body: `{"error":{"code":"NOT_FOUND","message":"нет"}}`}
	g := setupGateway(t, memberSession(), rec)

	_, err := g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/attendance-rules"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Do = %v, ожидается *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Code != "NOT_FOUND" || se.Message != "нет" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestDo_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	g, _ := New(url, nil, memberSession(), testLogger())
	_, err := g.Do(context.Background(), Request{Method: http.MethodGet, Path: "/members"})
	if !errors.Is(err, autherr.ErrNetworkFailure) {
		t.Errorf("Do = %v, ожидается ErrNetworkFailure", err)
	}
}

func TestDo_Canceled(t *testing.T) {
	g := setupGateway(t, memberSession(), &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Do(ctx, Request{Method: http.MethodGet, Path: "/members"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do = %v, ожидается context.Canceled", err)
	}
}

func TestDoJSON(t *testing.T) {
	rec := &recorder{body: `[{"id":"r-1","title":"Guide","url":"https://x"}]`}
	g := setupGateway(t, memberSession(), rec)

	var out []model.Resource
	req := Request{Method: http.MethodGet, Path: "resources"}
	if err := g.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if len(out) != 1 || out[0].ID != "r-1" {
		t.Errorf("out = %+v", out)
	}

	rec.mu.Lock()
	rec.body = `not json`
	rec.mu.Unlock()
	if err := g.DoJSON(context.Background(), req, &out); err == nil {
		t.Error("ожидалась ошибка декодирования")
	}
}
