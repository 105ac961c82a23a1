package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient поднимает httptest-сервер с handler и возвращает клиент.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, srv.Client(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestLogin_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("тело запроса: %v", err)
		}
		if req.Identifier != "alice" || req.Secret != "pw" {
			t.Errorf("req = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"a1","refreshToken":"r1"}`))
	})

	pair, err := c.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken != "a1" || pair.RefreshToken != "r1" {
		t.Errorf("pair = %+v", pair)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"INVALID_CREDENTIALS","message":"bad"}}`, autherr.ErrInvalidCredentials},
		{"bad request", http.StatusBadRequest, `{}`, autherr.ErrInvalidCredentials},
		{"server error", http.StatusInternalServerError, `oops`, autherr.ErrNetworkFailure},
		{"missing refresh", http.StatusOK, `{"accessToken":"a"}`, autherr.ErrMalformedToken},
		{"not json", http.StatusOK, `<html>`, autherr.ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Login(context.Background(), "u", "p")
			if !errors.Is(err, tt.want) {
				t.Errorf("Login err = %v, ожидается %v", err, tt.want)
			}
		})
	}
}

func TestLogin_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url, nil, testLogger())
	_, err := c.Login(context.Background(), "u", "p")
	if !errors.Is(err, autherr.ErrNetworkFailure) {
		t.Errorf("err = %v, ожидается ErrNetworkFailure", err)
	}
}

func TestRefresh_BearerAndAlias(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer old-refresh" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"token":"a2","refreshToken":"r2"}`))
	})

	pair, err := c.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken != "a2" || pair.RefreshToken != "r2" {
		t.Errorf("pair = %+v", pair)
	}
}

func TestRefresh_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Refresh(context.Background(), "r")
	if !errors.Is(err, autherr.ErrSessionExpired) {
		t.Errorf("err = %v, ожидается ErrSessionExpired", err)
	}
}

func TestFetchPrincipal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/principal/u-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer acc" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"id":"u-1","name":"Alice","role":"Data Science Division President","division":"Data Science","email":"a@x"}`))
	})

	p, err := c.FetchPrincipal(context.Background(), "u-1", "acc")
	if err != nil {
		t.Fatalf("FetchPrincipal: %v", err)
	}
	if p.ID != "u-1" || p.Role != rbac.RoleDataScienceOfficer {
		t.Errorf("p = %+v", p)
	}
	if p.Profile["email"] != "a@x" {
		t.Errorf("Profile = %v", p.Profile)
	}
}

func TestFetchPrincipal_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ``, autherr.ErrSessionExpired},
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"no"}}`, autherr.ErrNetworkFailure},
		{"unknown role", http.StatusOK, `{"id":"u","role":"Overlord"}`, autherr.ErrMalformedToken},
		{"no id", http.StatusOK, `{"role":"Member"}`, autherr.ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.FetchPrincipal(context.Background(), "u", "acc")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, ожидается %v", err, tt.want)
			}
		})
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("not a url", nil, testLogger()); err == nil {
		t.Error("ожидалась ошибка для некорректного URL")
	}
}
