// issuer.go — выпуск и проверка токенов dev identity-сервиса.
// RSA-ключ генерируется при создании, публичная часть отдаётся по GET /jwks.
package identitymock

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/memberportal/internal/domain/model"
)

// Типы токенов (claim typ).
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// keyID — идентификатор ключа в JWKS.
const keyID = "memberportal-mock-1"

// issuerName — claim iss.
const issuerName = "identity-mock"

// claims — payload токенов.
type claims struct {
	jwt.RegisteredClaims
	// UserID — идентификатор пользователя (claim id).
	UserID string `json:"id"`
	// Type — access или refresh.
	Type string `json:"typ"`
	// Role — роль пользователя (только в access token).
	Role string `json:"role,omitempty"`
}

// jwksKey представляет один ключ в JWKS (RFC 7517).
type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// jwksResponse — ответ GET /jwks.
type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

// Issuer подписывает и проверяет токены.
type Issuer struct {
	key        *rsa.PrivateKey
	jwks       []byte
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
}

// NewIssuer создаёт Issuer с новой RSA-парой.
func NewIssuer(keySize int, accessTTL, refreshTTL time.Duration, now func() time.Time) (*Issuer, error) {
	if keySize < 1024 {
		keySize = 2048
	}
	if now == nil {
		now = time.Now
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации RSA ключа: %w", err)
	}

	jwks, err := json.Marshal(buildJWKS(&key.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации JWKS: %w", err)
	}

	iss := &Issuer{
		key:        key,
		jwks:       jwks,
		now:        now,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
	iss.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return iss.now() }),
	)
	return iss, nil
}

// buildJWKS формирует JWKS из публичного RSA ключа.
func buildJWKS(pub *rsa.PublicKey) jwksResponse {
	return jwksResponse{
		Keys: []jwksKey{
			{
				Kty: "RSA",
				Kid: keyID,
				Use: "sig",
				Alg: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
}

// JWKS возвращает сериализованный JWKS.
func (i *Issuer) JWKS() []byte {
	return i.jwks
}

// Issue выпускает пару токенов для принципала.
// Возвращает пару и jti refresh token.
func (i *Issuer) Issue(p *model.Principal) (*model.CredentialPair, string, error) {
	return i.IssueAt(p, i.now())
}

// IssueAt выпускает пару с моментом выдачи at (тестовые сценарии с истёкшими токенами).
func (i *Issuer) IssueAt(p *model.Principal, at time.Time) (*model.CredentialPair, string, error) {
	access, _, err := i.sign(p, typeAccess, at, i.accessTTL)
	if err != nil {
		return nil, "", err
	}
	refresh, jti, err := i.sign(p, typeRefresh, at, i.refreshTTL)
	if err != nil {
		return nil, "", err
	}
	return &model.CredentialPair{AccessToken: access, RefreshToken: refresh}, jti, nil
}

func (i *Issuer) sign(p *model.Principal, typ string, at time.Time, ttl time.Duration) (string, string, error) {
	jti := uuid.NewString()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuerName,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(at),
			ExpiresAt: jwt.NewNumericDate(at.Add(ttl)),
		},
		UserID: p.ID,
		Type:   typ,
	}
	if typ == typeAccess {
		c.Role = string(p.Role)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = keyID

	signed, err := tok.SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}
	return signed, jti, nil
}

// Verify проверяет подпись, срок и тип токена.
func (i *Issuer) Verify(raw, wantType string) (*claims, error) {
	var c claims
	_, err := i.parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return &i.key.PublicKey, nil
	})
	if err != nil {
		return nil, err
	}
	if c.Type != wantType {
		return nil, fmt.Errorf("ожидается %s token, получен %q", wantType, c.Type)
	}
	if c.UserID == "" {
		return nil, errors.New("отсутствует claim id")
	}
	return &c, nil
}
