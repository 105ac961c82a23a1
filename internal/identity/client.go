// Пакет identity — HTTP-клиент внешнего identity-сервиса.
// Операции: Login (POST /login), Refresh (POST /refresh), FetchPrincipal (GET /principal/{id}).
// Ошибки приводятся к таксономии autherr.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/model"
)

// maxBodySize — ограничение на размер читаемого ответа.
const maxBodySize = 1 << 20

// Client — клиент identity-сервиса.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// loginRequest — тело POST /login.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// tokenResponse — ответ /login и /refresh.
// Поле token принимается как синоним accessToken.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// errorResponse — формат ошибки {"error":{"code","message"}}.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New создаёт клиент identity-сервиса.
// baseURL — корневой URL (без trailing slash), httpClient — nil означает http.DefaultClient.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("некорректный URL identity-сервиса: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    u.String(),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "identity_client")),
	}, nil
}

// Login обменивает учётные данные на пару токенов.
// 400/401/403 → ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*model.CredentialPair, error) {
	const op = "login"

	body, err := json.Marshal(loginRequest{Identifier: identifier, Secret: secret})
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса login: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/login", "", body)
	if err != nil {
		return nil, autherr.New(autherr.KindNetworkFailure, op, err)
	}

	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return nil, autherr.New(autherr.KindInvalidCredentials, op, describe(status, respBody))
	case status < 200 || status > 299:
		return nil, autherr.New(autherr.KindNetworkFailure, op, describe(status, respBody))
	}

	pair, err := parseTokens(respBody)
	if err != nil {
		return nil, autherr.New(autherr.KindMalformedToken, op, err)
	}

	c.logger.Debug("Логин выполнен", slog.String("identifier", identifier))
	return pair, nil
}

// Refresh обменивает refresh token на новую пару.
// refresh token передаётся как bearer. Любой не-2xx ответ → ErrSessionExpired.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.CredentialPair, error) {
	const op = "refresh"

	status, respBody, err := c.do(ctx, http.MethodPost, "/refresh", refreshToken, nil)
	if err != nil {
		return nil, autherr.New(autherr.KindNetworkFailure, op, err)
	}
	if status < 200 || status > 299 {
		return nil, autherr.New(autherr.KindSessionExpired, op, describe(status, respBody))
	}

	pair, err := parseTokens(respBody)
	if err != nil {
		return nil, autherr.New(autherr.KindMalformedToken, op, err)
	}
	return pair, nil
}

// FetchPrincipal запрашивает профиль по идентификатору.
// accessToken передаётся как bearer.
func (c *Client) FetchPrincipal(ctx context.Context, id, accessToken string) (*model.Principal, error) {
	const op = "fetch_principal"

	status, respBody, err := c.do(ctx, http.MethodGet, "/principal/"+url.PathEscape(id), accessToken, nil)
	if err != nil {
		return nil, autherr.New(autherr.KindNetworkFailure, op, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, autherr.New(autherr.KindSessionExpired, op, describe(status, respBody))
	}
	if status < 200 || status > 299 {
		return nil, autherr.New(autherr.KindNetworkFailure, op, describe(status, respBody))
	}

	var p model.Principal
	if err := json.Unmarshal(respBody, &p); err != nil {
		return nil, autherr.New(autherr.KindMalformedToken, op, fmt.Errorf("декодирование профиля: %w", err))
	}
	if p.ID == "" {
		return nil, autherr.New(autherr.KindMalformedToken, op, errors.New("профиль без id"))
	}
	return &p, nil
}

// do выполняет запрос и возвращает статус и тело ответа.
func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return 0, nil, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	c.logger.Debug("Ответ identity-сервиса",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, respBody, nil
}

// parseTokens разбирает ответ с парой токенов.
func parseTokens(body []byte) (*model.CredentialPair, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("ошибка парсинга token response: %w", err)
	}
	access := tr.AccessToken
	if access == "" {
		access = tr.Token
	}
	pair := &model.CredentialPair{AccessToken: access, RefreshToken: tr.RefreshToken}
	if !pair.Complete() {
		return nil, errors.New("ответ не содержит пару токенов")
	}
	return pair, nil
}

// describe формирует ошибку из не-2xx ответа.
func describe(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Code != "" {
		return fmt.Errorf("статус %d: %s: %s", status, er.Error.Code, er.Error.Message)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return fmt.Errorf("статус %d", status)
	}
	return fmt.Errorf("статус %d: %s", status, text)
}
