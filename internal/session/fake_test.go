package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/memberportal/internal/credstore"
	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
	"github.com/bigkaa/memberportal/internal/token"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// clock — управляемый источник времени.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeIDP — identity-провайдер в памяти с HS256-токенами.
type fakeIDP struct {
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu         sync.Mutex
	principals map[string]*model.Principal
	loginErr   error
	refreshErr error
	fetchErr   error
	mismatch   bool

	// gate — если задан, Refresh ждёт его закрытия.
	gate    chan struct{}
	started chan struct{}

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	fetchCalls   atomic.Int32
}

var signingKey = []byte("session-test-key")

func newFakeIDP(now func() time.Time) *fakeIDP {
	ds := rbac.DivisionDataScience
	return &fakeIDP{
		now:        now,
		accessTTL:  15 * time.Minute,
		refreshTTL: time.Hour,
		principals: map[string]*model.Principal{
			"u-1": {ID: "u-1", Name: "Alice", Role: rbac.RoleDataScienceOfficer, Division: &ds},
			"u-2": {ID: "u-2", Name: "Bob", Role: rbac.RoleMember},
		},
		started: make(chan struct{}, 1),
	}
}

func (f *fakeIDP) mint(id string, at time.Time) *model.CredentialPair {
	sign := func(ttl time.Duration) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"id":  id,
			"exp": at.Add(ttl).Unix(),
			"iat": at.Unix(),
			"jti": uuid.NewString(),
		}).SignedString(signingKey)
		if err != nil {
			panic(err)
		}
		return s
	}
	return &model.CredentialPair{AccessToken: sign(f.accessTTL), RefreshToken: sign(f.refreshTTL)}
}

func (f *fakeIDP) Login(_ context.Context, identifier, secret string) (*model.CredentialPair, error) {
	f.loginCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if _, ok := f.principals[identifier]; !ok || secret != "pw" {
		return nil, autherr.New(autherr.KindInvalidCredentials, "login", nil)
	}
	return f.mint(identifier, f.now()), nil
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*model.CredentialPair, error) {
	f.refreshCalls.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	c, err := token.Decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if !f.now().Before(c.ExpiresAt) {
		return nil, autherr.New(autherr.KindSessionExpired, "refresh", errors.New("refresh token истёк"))
	}
	return f.mint(c.Subject, f.now()), nil
}

func (f *fakeIDP) FetchPrincipal(_ context.Context, id, _ string) (*model.Principal, error) {
	f.fetchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	p, ok := f.principals[id]
	if !ok {
		return nil, autherr.New(autherr.KindNetworkFailure, "fetch_principal", errors.New("404"))
	}
	out := p.Clone()
	if f.mismatch {
		out.ID = "someone-else"
	}
	return out, nil
}

func (f *fakeIDP) set(fn func(f *fakeIDP)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// env — окружение одного теста: часы, identity, два уровня хранилища.
type env struct {
	clock     *clock
	idp       *fakeIDP
	durable   *credstore.MemoryTier
	ephemeral *credstore.MemoryTier
}

func newEnv() *env {
	c := newClock()
	return &env{
		clock:     c,
		idp:       newFakeIDP(c.Now),
		durable:   credstore.NewMemoryTier(),
		ephemeral: credstore.NewMemoryTier(),
	}
}

// manager создаёт Manager поверх уровней окружения.
// Повторный вызов моделирует перезагрузку процесса с теми же уровнями.
func (e *env) manager(t *testing.T) *Manager {
	t.Helper()
	store, err := credstore.New(e.durable, e.ephemeral, testLogger())
	if err != nil {
		t.Fatalf("credstore.New: %v", err)
	}
	m, err := New(store, e.idp, testLogger(), Options{Now: e.clock.Now, RefreshTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// storeEmpty — в обоих уровнях нет ни одного слота.
func (e *env) storeEmpty() bool {
	return e.durable.Len() == 0 && e.ephemeral.Len() == 0
}

// waitFor ждёт выполнения условия до таймаута.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнено за 2s")
}

// flakyStore — хранилище, у которого Load возвращает заданную ошибку.
type flakyStore struct {
	CredentialStore
	loadErr error
	clears  atomic.Int32
}

func (s *flakyStore) Load(context.Context) (*model.CredentialPair, model.Tier, error) {
	return nil, "", s.loadErr
}

func (s *flakyStore) Clear(ctx context.Context) error {
	s.clears.Add(1)
	return s.CredentialStore.Clear(ctx)
}

// flakyManager создаёт Manager поверх уровней окружения с ошибкой Load.
func (e *env) flakyManager(t *testing.T, loadErr error) (*Manager, *flakyStore) {
	t.Helper()
	store, err := credstore.New(e.durable, e.ephemeral, testLogger())
	if err != nil {
		t.Fatalf("credstore.New: %v", err)
	}
	fs := &flakyStore{CredentialStore: store, loadErr: loadErr}
	m, err := New(fs, e.idp, testLogger(), Options{Now: e.clock.Now, RefreshTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, fs
}
