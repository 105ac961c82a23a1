// Пакет autherr — таксономия ошибок подсистемы сессий и авторизации.
// Каждая ошибка имеет Kind; сравнение выполняется через errors.Is с sentinel-ошибками.
package autherr

import (
	"errors"
	"fmt"
)

// Kind — вид ошибки.
type Kind string

const (
	// KindInvalidCredentials — identity-сервис отклонил логин.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindMalformedToken — токен не удалось декодировать.
	KindMalformedToken Kind = "malformed_token"
	// KindSessionExpired — refresh не удался или повторный запрос снова получил 401.
	KindSessionExpired Kind = "session_expired"
	// KindUnauthorized — у принципала нет требуемой роли (сеть не вызывалась).
	KindUnauthorized Kind = "unauthorized"
	// KindNetworkFailure — ошибка транспортного уровня.
	KindNetworkFailure Kind = "network_failure"
)

// Sentinel-ошибки для errors.Is.
var (
	ErrInvalidCredentials = errors.New("неверные учётные данные")
	ErrMalformedToken     = errors.New("некорректный токен")
	ErrSessionExpired     = errors.New("сессия истекла, требуется повторный вход")
	ErrUnauthorized       = errors.New("недостаточно прав")
	ErrNetworkFailure     = errors.New("ошибка сети")
)

// sentinels — соответствие Kind → sentinel.
var sentinels = map[Kind]error{
	KindInvalidCredentials: ErrInvalidCredentials,
	KindMalformedToken:     ErrMalformedToken,
	KindSessionExpired:     ErrSessionExpired,
	KindUnauthorized:       ErrUnauthorized,
	KindNetworkFailure:     ErrNetworkFailure,
}

// Error — типизированная ошибка с операцией и причиной.
type Error struct {
	// Kind — вид ошибки.
	Kind Kind
	// Op — операция, в которой произошла ошибка (login, refresh, decode, ...).
	Op string
	// Err — исходная причина (может быть nil).
	Err error
}

// New создаёт ошибку указанного вида.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap возвращает исходную причину.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с sentinel своего вида.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// KindOf возвращает вид ошибки или "" если ошибка не из таксономии.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return ""
}

// Recoverable — ошибку можно обработать на месте, состояние сессии не изменилось.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindInvalidCredentials, KindUnauthorized:
		return true
	default:
		return false
	}
}

// RequiresReauth — сессия сброшена в Anonymous, нужен redirect на вход.
func RequiresReauth(err error) bool {
	switch KindOf(err) {
	case KindMalformedToken, KindSessionExpired:
		return true
	default:
		return false
	}
}
