// Пакет token — декодирование claims bearer-токена без проверки подписи.
// Подпись проверяет identity-сервис; клиенту нужны только subject и срок действия.
// Любой некорректный ввод приводит к autherr.ErrMalformedToken (fail closed).
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/memberportal/internal/domain/autherr"
)

// Буферы истечения срока действия.
const (
	// AccessGrace — access token считается истёкшим за минуту до exp.
	AccessGrace = time.Minute
	// RefreshGrace — refresh token считается истёкшим за 5 минут до exp.
	RefreshGrace = 5 * time.Minute
)

// Claims — декодированные claims токена.
type Claims struct {
	// Subject — идентификатор пользователя (claim id, при отсутствии — sub).
	Subject string
	// ExpiresAt — момент истечения (claim exp).
	ExpiresAt time.Time
	// IssuedAt — момент выдачи (claim iat, может быть нулевым).
	IssuedAt time.Time
	// TokenID — claim jti (может быть пустым).
	TokenID string
}

// rawClaims — claims в формате payload.
type rawClaims struct {
	jwt.RegisteredClaims
	// UserID — claim id (строка или число).
	UserID userID `json:"id"`
}

// userID принимает claim id как строку или как JSON-число.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*u = userID(t)
	case json.Number:
		*u = userID(t.String())
	case nil:
		*u = ""
	default:
		return fmt.Errorf("claim id: неподдерживаемый тип %T", v)
	}
	return nil
}

// parser — общий парсер; ParseUnverified не проверяет подпись и сроки.
var parser = jwt.NewParser()

// Decode разбирает payload токена (второй сегмент, base64url JSON).
// Требует непустой subject и claim exp.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, autherr.New(autherr.KindMalformedToken, "decode", errors.New("пустой токен"))
	}

	var rc rawClaims
	if _, _, err := parser.ParseUnverified(raw, &rc); err != nil {
		return nil, autherr.New(autherr.KindMalformedToken, "decode", err)
	}

	subject := string(rc.UserID)
	if subject == "" {
		subject = rc.Subject
	}
	if subject == "" {
		return nil, autherr.New(autherr.KindMalformedToken, "decode", errors.New("отсутствует claim id"))
	}
	if rc.ExpiresAt == nil {
		return nil, autherr.New(autherr.KindMalformedToken, "decode", errors.New("отсутствует claim exp"))
	}

	c := &Claims{
		Subject:   subject,
		ExpiresAt: rc.ExpiresAt.Time,
		TokenID:   rc.ID,
	}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	return c, nil
}

// Expired проверяет истечение с буфером: true, если now >= exp - buffer.
func (c *Claims) Expired(now time.Time, buffer time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-buffer))
}

// AccessExpired — access token истёк (с буфером AccessGrace).
func (c *Claims) AccessExpired(now time.Time) bool {
	return c.Expired(now, AccessGrace)
}

// RefreshExpired — refresh token истёк (с буфером RefreshGrace).
func (c *Claims) RefreshExpired(now time.Time) bool {
	return c.Expired(now, RefreshGrace)
}

// Subject декодирует токен и возвращает только subject.
func Subject(raw string) (string, error) {
	c, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}
