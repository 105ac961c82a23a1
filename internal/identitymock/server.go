// Пакет identitymock — dev identity-сервис и демонстрационный API портала.
// Эндпоинты identity: POST /login, POST /refresh (bearer = refresh token),
// GET /principal/{id} (bearer = access token), GET /jwks.
// Refresh token одноразовый: повторное использование отклоняется.
// API портала (/members, /attendance-rules, /events, /resources) проверяет
// access token и права через authz.
package identitymock

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/memberportal/internal/domain/model"
)

// Options — параметры Server.
type Options struct {
	// Now — источник времени (по умолчанию time.Now).
	Now func() time.Time
	// AccessTTL — время жизни access token (по умолчанию 15m).
	AccessTTL time.Duration
	// RefreshTTL — время жизни refresh token (по умолчанию 24h).
	RefreshTTL time.Duration
	// KeySize — размер RSA ключа (по умолчанию 2048).
	KeySize int
	// Users — учётные записи (по умолчанию DemoUsers).
	Users []User
}

// Stats — счётчики вызовов identity-эндпоинтов.
type Stats struct {
	Logins           int64
	Refreshes        int64
	PrincipalFetches int64
	APICalls         int64
}

// Server — dev identity-сервис.
type Server struct {
	issuer *Issuer
	logger *slog.Logger

	mu         sync.Mutex
	users      map[string]User
	principals map[string]model.Principal
	active     map[string]string
	consumed   map[string]struct{}

	portal *portalData

	logins           atomic.Int64
	refreshes        atomic.Int64
	principalFetches atomic.Int64
	apiCalls         atomic.Int64

	rejectAPI    atomic.Bool
	refreshDelay atomic.Int64
}

// New создаёт Server.
func New(opts Options, logger *slog.Logger) (*Server, error) {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 24 * time.Hour
	}
	if opts.Users == nil {
		opts.Users = DemoUsers()
	}

	issuer, err := NewIssuer(opts.KeySize, opts.AccessTTL, opts.RefreshTTL, opts.Now)
	if err != nil {
		return nil, err
	}

	s := &Server{
		issuer:     issuer,
		logger:     logger.With(slog.String("component", "identity_mock")),
		users:      make(map[string]User, len(opts.Users)),
		principals: make(map[string]model.Principal, len(opts.Users)),
		active:     make(map[string]string),
		consumed:   make(map[string]struct{}),
	}
	for _, u := range opts.Users {
		s.users[strings.ToLower(u.Identifier)] = u
		s.principals[u.Principal.ID] = u.Principal
	}
	s.portal = newPortalData(opts.Users, issuer.now)
	return s, nil
}

// Handler возвращает HTTP-маршрутизатор.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(metricsMiddleware)
	router.Use(requestLogger(s.logger))

	router.Post("/login", s.handleLogin)
	router.Post("/refresh", s.handleRefresh)
	router.Get("/principal/{id}", s.handlePrincipal)
	router.Get("/jwks", s.handleJWKS)
	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(s.requireAccess)
		s.portal.routes(r)
	})
	return router
}

// Issuer возвращает Issuer сервиса.
func (s *Server) Issuer() *Issuer {
	return s.issuer
}

// IssueFor выпускает пару для пользователя с учётом момента выдачи at
// (нулевое at означает текущее время). Refresh token регистрируется как активный.
func (s *Server) IssueFor(userID string, at time.Time) (*model.CredentialPair, error) {
	s.mu.Lock()
	p, ok := s.principals[userID]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("неизвестный пользователь " + userID)
	}
	return s.issue(&p, at)
}

func (s *Server) issue(p *model.Principal, at time.Time) (*model.CredentialPair, error) {
	if at.IsZero() {
		at = s.issuer.now()
	}
	pair, jti, err := s.issuer.IssueAt(p, at)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.active[jti] = p.ID
	s.mu.Unlock()
	return pair, nil
}

// SetPrincipal заменяет профиль пользователя (сценарии с несовпадающим subject).
func (s *Server) SetPrincipal(id string, p model.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[id] = p
}

// Stats возвращает счётчики вызовов.
func (s *Server) Stats() Stats {
	return Stats{
		Logins:           s.logins.Load(),
		Refreshes:        s.refreshes.Load(),
		PrincipalFetches: s.principalFetches.Load(),
		APICalls:         s.apiCalls.Load(),
	}
}

// SetRejectAPI заставляет API портала отвечать 401 на любой токен.
func (s *Server) SetRejectAPI(reject bool) {
	s.rejectAPI.Store(reject)
}

// SetRefreshDelay задерживает ответ POST /refresh.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.refreshDelay.Store(int64(d))
}

// --- Handlers ---

// loginRequest — тело POST /login.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// tokenResponse — ответ POST /login и POST /refresh.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// handleLogin обрабатывает POST /login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Невалидный JSON: "+err.Error())
		return
	}
	if req.Identifier == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Поля 'identifier' и 'secret' обязательны")
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Identifier)]
	s.mu.Unlock()
	if !ok || subtle.ConstantTimeCompare([]byte(u.Secret), []byte(req.Secret)) != 1 {
		s.logger.Info("Неверные учётные данные", slog.String("identifier", req.Identifier))
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Неверный логин или пароль")
		return
	}

	pair, err := s.issue(&u.Principal, time.Time{})
	if err != nil {
		s.logger.Error("Ошибка выпуска токенов", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Ошибка генерации токена")
		return
	}

	s.logger.Info("Токены выданы",
		slog.String("user_id", u.Principal.ID),
		slog.String("role", string(u.Principal.Role)),
	)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// handleRefresh обрабатывает POST /refresh. Refresh token одноразовый.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)

	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	raw, ok := bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Требуется Bearer refresh token")
		return
	}
	c, err := s.issuer.Verify(raw, typeRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Невалидный refresh token: "+err.Error())
		return
	}

	s.mu.Lock()
	if _, used := s.consumed[c.ID]; used {
		s.mu.Unlock()
		s.logger.Warn("Повторное использование refresh token", slog.String("user_id", c.UserID))
		writeError(w, http.StatusUnauthorized, CodeRefreshReused, "Refresh token уже использован")
		return
	}
	if _, live := s.active[c.ID]; !live {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Refresh token отозван")
		return
	}
	delete(s.active, c.ID)
	s.consumed[c.ID] = struct{}{}
	p, known := s.principals[c.UserID]
	s.mu.Unlock()

	if !known {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Пользователь не найден")
		return
	}

	pair, err := s.issue(&p, time.Time{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Ошибка генерации токена")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// handlePrincipal обрабатывает GET /principal/{id}.
func (s *Server) handlePrincipal(w http.ResponseWriter, r *http.Request) {
	s.principalFetches.Add(1)

	raw, ok := bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Требуется Bearer access token")
		return
	}
	if _, err := s.issuer.Verify(raw, typeAccess); err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Невалидный access token: "+err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	s.mu.Lock()
	p, found := s.principals[id]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, CodeNotFound, "Пользователь не найден")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleJWKS обрабатывает GET /jwks.
func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.issuer.JWKS())
}

// handleHealth обрабатывает GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Аутентификация API ---

// principalKey — ключ контекста для принципала запроса.
type principalKey struct{}

// requireAccess проверяет access token и помещает принципала в контекст.
func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apiCalls.Add(1)

		if s.rejectAPI.Load() {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Токен отклонён")
			return
		}

		raw, ok := bearer(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Требуется Bearer access token")
			return
		}
		c, err := s.issuer.Verify(raw, typeAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Невалидный access token: "+err.Error())
			return
		}

		s.mu.Lock()
		p, found := s.principals[c.UserID]
		s.mu.Unlock()
		if !found {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Пользователь не найден")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, &p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principalFrom возвращает принципала запроса.
func principalFrom(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey{}).(*model.Principal)
	return p
}

// bearer извлекает Bearer token из заголовка Authorization.
func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
