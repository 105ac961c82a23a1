// Пакет session — Session Manager: жизненный цикл учётных данных.
// Единственный писатель состояния сессии. Читатели получают неизменяемый
// Snapshot через atomic.Pointer и никогда не видят промежуточных состояний.
//
// Конкурентные refresh объединяются через singleflight и выполняются
// на контексте, отвязанном от отмены вызывающего.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/memberportal/internal/credstore"
	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/token"
)

// refreshKey — ключ singleflight для refresh.
const refreshKey = "refresh"

// defaultRefreshTimeout — таймаут refresh по умолчанию.
const defaultRefreshTimeout = 15 * time.Second

var (
	errSubjectMismatch = errors.New("subject токена не совпадает с id профиля")
	errNoSession       = errors.New("нет активной сессии")
)

// IdentityProvider — внешний identity-сервис.
type IdentityProvider interface {
	Login(ctx context.Context, identifier, secret string) (*model.CredentialPair, error)
	Refresh(ctx context.Context, refreshToken string) (*model.CredentialPair, error)
	FetchPrincipal(ctx context.Context, id, accessToken string) (*model.Principal, error)
}

// CredentialStore — хранилище пары токенов (реализуется credstore.Store).
type CredentialStore interface {
	Load(ctx context.Context) (*model.CredentialPair, model.Tier, error)
	Save(ctx context.Context, pair *model.CredentialPair, kind model.Tier) error
	Replace(ctx context.Context, pair *model.CredentialPair, kind model.Tier) error
	Clear(ctx context.Context) error
}

// Snapshot — неизменяемое состояние сессии.
// Principal и Credentials заполнены только в StateAuthenticated.
type Snapshot struct {
	State       model.State
	Principal   *model.Principal
	Credentials *model.CredentialPair
	Tier        model.Tier
}

// Authenticated — сессия аутентифицирована.
func (s Snapshot) Authenticated() bool {
	return s.State == model.StateAuthenticated && s.Principal != nil && s.Credentials != nil
}

// AccessToken — текущий access token или пустая строка.
func (s Snapshot) AccessToken() string {
	if !s.Authenticated() {
		return ""
	}
	return s.Credentials.AccessToken
}

// Options — параметры Manager.
type Options struct {
	// Now — источник времени (по умолчанию time.Now).
	Now func() time.Time
	// RefreshTimeout — таймаут общего refresh (по умолчанию 15s).
	RefreshTimeout time.Duration
}

// Manager — Session Manager.
type Manager struct {
	store          CredentialStore
	idp            IdentityProvider
	now            func() time.Time
	refreshTimeout time.Duration
	logger         *slog.Logger

	// mu сериализует писателей. gen меняется при login/logout;
	// результат, начатый в другом поколении, не фиксируется.
	mu   sync.Mutex
	gen  uint64
	snap atomic.Pointer[Snapshot]

	group singleflight.Group

	// initDone закрывается по завершении Initialize; initErr читается после него.
	initOnce sync.Once
	initDone chan struct{}
	initErr  error

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New создаёт Manager в состоянии Uninitialized.
func New(store CredentialStore, idp IdentityProvider, logger *slog.Logger, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: не задано хранилище учётных данных")
	}
	if idp == nil {
		return nil, errors.New("session: не задан identity-провайдер")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}

	m := &Manager{
		store:          store,
		idp:            idp,
		now:            opts.Now,
		refreshTimeout: opts.RefreshTimeout,
		logger:         logger.With(slog.String("component", "session")),
		subs:           make(map[int]func(Snapshot)),
		initDone:       make(chan struct{}),
	}
	m.snap.Store(&Snapshot{State: model.StateUninitialized})
	return m, nil
}

// --- Чтение ---

// Snapshot возвращает текущее состояние.
func (m *Manager) Snapshot() Snapshot {
	return *m.snap.Load()
}

// State возвращает текущее состояние сессии.
func (m *Manager) State() model.State {
	return m.snap.Load().State
}

// Principal возвращает копию текущего профиля или nil.
func (m *Manager) Principal() *model.Principal {
	return m.snap.Load().Principal.Clone()
}

// AccessToken возвращает текущий access token или пустую строку.
func (m *Manager) AccessToken() string {
	return m.snap.Load().AccessToken()
}

// Subscribe регистрирует наблюдателя переходов состояния.
// fn вызывается после каждого зафиксированного перехода, вне блокировок.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// Close отписывает всех наблюдателей.
func (m *Manager) Close() error {
	m.subMu.Lock()
	m.subs = make(map[int]func(Snapshot))
	m.subMu.Unlock()
	return nil
}

// --- Initialize ---

// Initialize восстанавливает сессию из хранилища. Выполняется один раз;
// повторные вызовы возвращают результат первого.
// nil — сессия восстановлена или учётных данных нет (Anonymous).
// Ошибка — сохранённые учётные данные непригодны, хранилище очищено, Anonymous.
// Сбой доступа к хранилищу (NetworkFailure) учётные данные не удаляет;
// повреждённые данные (MalformedToken) удаляются.
//
// Восстановление выполняется на контексте, отвязанном от отмены ctx:
// при отмене Initialize возвращает ctx.Err(), а восстановление завершается в фоне.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		gen, ok := m.beginInit()
		if !ok {
			close(m.initDone)
			return
		}
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		go func() {
			defer close(m.initDone)
			defer cancel()
			m.initErr = m.initialize(ictx, gen)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.initDone:
		return m.initErr
	}
}

// beginInit переводит сессию в Initializing. false — сессия уже установлена через Login.
func (m *Manager) beginInit() (uint64, bool) {
	m.mu.Lock()
	if m.snap.Load().State != model.StateUninitialized {
		m.mu.Unlock()
		return 0, false
	}
	gen := m.gen
	snap := m.commitLocked(&Snapshot{State: model.StateInitializing})
	m.mu.Unlock()
	m.notify(snap)
	return gen, true
}

func (m *Manager) initialize(ctx context.Context, gen uint64) error {
	const op = "initialize"

	// 1. Чтение пары из выбранного уровня
	pair, kind, err := m.store.Load(ctx)
	if errors.Is(err, credstore.ErrCorrupted) {
		return m.failInit(ctx, gen, autherr.New(autherr.KindMalformedToken, op, err))
	}
	if err != nil {
		// Сбой доступа к хранилищу не означает, что учётные данные плохи: не очищаем
		cause := autherr.New(autherr.KindNetworkFailure, op, err)
		m.commitIfGen(gen, &Snapshot{State: model.StateAnonymous})
		m.initFailed(cause)
		return cause
	}
	if pair == nil {
		m.logger.Debug("Сохранённых учётных данных нет")
		m.commitIfGen(gen, &Snapshot{State: model.StateAnonymous})
		return nil
	}

	// 2. Refresh token: истёк с учётом буфера, сессия не восстанавливается
	now := m.now()
	rc, err := token.Decode(pair.RefreshToken)
	if err != nil {
		return m.failInit(ctx, gen, err)
	}
	if rc.RefreshExpired(now) {
		return m.failInit(ctx, gen, autherr.New(autherr.KindSessionExpired, op,
			errors.New("refresh token истёк")))
	}

	// 3. Access token
	ac, err := token.Decode(pair.AccessToken)
	if err != nil {
		return m.failInit(ctx, gen, err)
	}
	if ac.AccessExpired(now) {
		m.logger.Info("Access token истёк, выполняем refresh",
			slog.String("tier", string(kind)),
		)
		_, err := m.doRefresh(ctx, gen, pair, kind)
		return err
	}

	// 4. Профиль по subject
	principal, err := m.idp.FetchPrincipal(ctx, ac.Subject, pair.AccessToken)
	if err != nil {
		return m.failInit(ctx, gen, asReauth(op, err))
	}
	if principal.ID != ac.Subject {
		return m.failInit(ctx, gen, autherr.New(autherr.KindSessionExpired, op, errSubjectMismatch))
	}

	if !m.commitIfGen(gen, authenticated(principal, pair, kind)) {
		return nil
	}
	m.logger.Info("Сессия восстановлена",
		slog.String("user_id", principal.ID),
		slog.String("role", string(principal.Role)),
		slog.String("tier", string(kind)),
	)
	return nil
}

// failInit очищает хранилище и переводит сессию в Anonymous,
// если за время инициализации не было login/logout.
func (m *Manager) failInit(ctx context.Context, gen uint64, cause error) error {
	m.expire(ctx, gen)
	m.initFailed(cause)
	return cause
}

func (m *Manager) initFailed(err error) {
	m.logger.Warn("Сессия не восстановлена", slog.String("error", err.Error()))
}

// --- Login ---

// Login обменивает учётные данные на пару токенов, загружает профиль и
// сохраняет пару в уровень, выбранный persist.
// При любой ошибке состояние и хранилище не меняются.
func (m *Manager) Login(ctx context.Context, identifier, secret string, persist bool) (*model.Principal, error) {
	const op = "login"

	// 1. Обмен учётных данных
	pair, err := m.idp.Login(ctx, identifier, secret)
	if err != nil {
		m.logger.Info("Логин отклонён", slog.String("error", err.Error()))
		return nil, err
	}

	// 2. Subject из access token
	claims, err := token.Decode(pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if _, err := token.Decode(pair.RefreshToken); err != nil {
		return nil, err
	}

	// 3. Профиль
	principal, err := m.idp.FetchPrincipal(ctx, claims.Subject, pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if principal.ID != claims.Subject {
		return nil, autherr.New(autherr.KindMalformedToken, op, errSubjectMismatch)
	}

	// 4. Сохранение и фиксация одним шагом для читателей
	kind := model.TierFor(persist)

	m.mu.Lock()
	if err := m.store.Save(ctx, pair, kind); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.gen++
	m.group.Forget(refreshKey)
	snap := m.commitLocked(authenticated(principal, pair, kind))
	m.mu.Unlock()
	m.notify(snap)

	m.logger.Info("Пользователь вошёл",
		slog.String("user_id", principal.ID),
		slog.String("role", string(principal.Role)),
		slog.String("tier", string(kind)),
	)
	return principal.Clone(), nil
}

// --- Refresh ---

// Refresh обменивает текущий refresh token на новую пару.
// Параллельные вызовы разделяют один запрос к identity-сервису.
// Отмена ctx прекращает ожидание, но не сам refresh.
// При ошибке сессия завершается (Logout) и возвращается ErrSessionExpired.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	return m.refresh(ctx, "")
}

// RefreshAfter вызывается после 401 на токене stale.
// Если токен уже обновлён параллельным вызовом, возвращает текущий без сетевого запроса.
func (m *Manager) RefreshAfter(ctx context.Context, stale string) (string, error) {
	if cur := m.snap.Load(); cur.Authenticated() && cur.Credentials.AccessToken != stale {
		refreshTotal.WithLabelValues(refreshSkipped).Inc()
		return cur.Credentials.AccessToken, nil
	}
	snap, err := m.refresh(ctx, stale)
	if err != nil {
		return "", err
	}
	return snap.AccessToken(), nil
}

func (m *Manager) refresh(ctx context.Context, stale string) (Snapshot, error) {
	// Во время Initialize пара ещё восстанавливается (возможно, своим refresh):
	// ждём его результата вместо второго обмена refresh token
	if m.snap.Load().State == model.StateInitializing {
		return m.awaitInit(ctx)
	}

	ch := m.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refreshCurrent(rctx, stale)
	})

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

// awaitInit ждёт завершения Initialize и возвращает восстановленную сессию.
func (m *Manager) awaitInit(ctx context.Context) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-m.initDone:
	}
	cur := m.snap.Load()
	if !cur.Authenticated() {
		refreshTotal.WithLabelValues(refreshFailure).Inc()
		return Snapshot{}, autherr.New(autherr.KindSessionExpired, "refresh", errNoSession)
	}
	refreshTotal.WithLabelValues(refreshSkipped).Inc()
	return *cur, nil
}

// refreshCurrent выполняет refresh текущей пары. Выполняется внутри singleflight.
func (m *Manager) refreshCurrent(ctx context.Context, stale string) (Snapshot, error) {
	m.mu.Lock()
	cur := m.snap.Load()
	gen := m.gen
	m.mu.Unlock()

	if !cur.Authenticated() {
		// Хранилище до завершения Initialize принадлежит ему
		if cur.State == model.StateAnonymous {
			m.expire(ctx, gen)
		}
		refreshTotal.WithLabelValues(refreshFailure).Inc()
		return Snapshot{}, autherr.New(autherr.KindSessionExpired, "refresh", errNoSession)
	}
	if stale != "" && cur.Credentials.AccessToken != stale {
		refreshTotal.WithLabelValues(refreshSkipped).Inc()
		return *cur, nil
	}
	return m.doRefresh(ctx, gen, cur.Credentials, cur.Tier)
}

// doRefresh обменивает base.RefreshToken и фиксирует результат в поколении gen.
func (m *Manager) doRefresh(ctx context.Context, gen uint64, base *model.CredentialPair, kind model.Tier) (Snapshot, error) {
	const op = "refresh"

	fail := func(cause error) (Snapshot, error) {
		m.expire(ctx, gen)
		refreshTotal.WithLabelValues(refreshFailure).Inc()
		m.logger.Warn("Refresh не удался, сессия завершена", slog.String("error", cause.Error()))
		return Snapshot{}, autherr.New(autherr.KindSessionExpired, op, cause)
	}

	// 1. Новая пара
	pair, err := m.idp.Refresh(ctx, base.RefreshToken)
	if err != nil {
		return fail(err)
	}

	// 2. Профиль по новому subject
	claims, err := token.Decode(pair.AccessToken)
	if err != nil {
		return fail(err)
	}
	principal, err := m.idp.FetchPrincipal(ctx, claims.Subject, pair.AccessToken)
	if err != nil {
		return fail(err)
	}
	if principal.ID != claims.Subject {
		return fail(errSubjectMismatch)
	}

	// 3. Атомарная замена пары и профиля
	m.mu.Lock()
	if m.gen != gen {
		cur := m.snap.Load()
		m.mu.Unlock()
		refreshTotal.WithLabelValues(refreshSuperseded).Inc()
		if cur.Authenticated() {
			return *cur, nil
		}
		return Snapshot{}, autherr.New(autherr.KindSessionExpired, op, errNoSession)
	}
	if err := m.store.Replace(ctx, pair, kind); err != nil {
		m.mu.Unlock()
		return fail(err)
	}
	snap := m.commitLocked(authenticated(principal, pair, kind))
	m.mu.Unlock()
	m.notify(snap)

	refreshTotal.WithLabelValues(refreshSuccess).Inc()
	m.logger.Debug("Пара токенов обновлена", slog.String("user_id", principal.ID))
	return snap, nil
}

// --- Logout ---

// Logout очищает оба уровня хранилища и переводит сессию в Anonymous.
// Незавершённые refresh после этого не фиксируются. Ошибки хранилища логируются.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	snap := m.logoutLocked(ctx)
	m.mu.Unlock()
	m.notify(snap)
	m.logger.Info("Сессия завершена")
}

// expire выполняет logout, только если поколение не изменилось.
func (m *Manager) expire(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	snap := m.logoutLocked(ctx)
	m.mu.Unlock()
	m.notify(snap)
}

// logoutLocked вызывается под m.mu.
func (m *Manager) logoutLocked(ctx context.Context) Snapshot {
	m.gen++
	m.group.Forget(refreshKey)
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error("Ошибка очистки хранилища учётных данных", slog.String("error", err.Error()))
	}
	return m.commitLocked(&Snapshot{State: model.StateAnonymous})
}

// --- Фиксация ---

// commitLocked публикует snapshot. Вызывается под m.mu.
func (m *Manager) commitLocked(s *Snapshot) Snapshot {
	m.snap.Store(s)
	transitionsTotal.WithLabelValues(s.State.String()).Inc()
	return *s
}

// commitIfGen публикует snapshot, если поколение не изменилось.
func (m *Manager) commitIfGen(gen uint64, s *Snapshot) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	snap := m.commitLocked(s)
	m.mu.Unlock()
	m.notify(snap)
	return true
}

// notify вызывает наблюдателей вне блокировки m.mu.
func (m *Manager) notify(s Snapshot) {
	m.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// authenticated строит snapshot из копий, чтобы его нельзя было изменить извне.
func authenticated(p *model.Principal, pair *model.CredentialPair, kind model.Tier) *Snapshot {
	c := *pair
	return &Snapshot{
		State:       model.StateAuthenticated,
		Principal:   p.Clone(),
		Credentials: &c,
		Tier:        kind,
	}
}

// asReauth сохраняет MalformedToken, остальные причины сводит к SessionExpired.
func asReauth(op string, err error) error {
	if autherr.KindOf(err) == autherr.KindMalformedToken {
		return err
	}
	return autherr.New(autherr.KindSessionExpired, op, err)
}
