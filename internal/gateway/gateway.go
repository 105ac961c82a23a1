// Пакет gateway — Request Gateway: единая точка исходящих запросов портала.
// Проверяет требуемые роли до отправки, подставляет Bearer access token,
// при 401 один раз обновляет пару через Session Manager и повторяет запрос.
package gateway

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
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/memberportal/internal/authz"
	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// HeaderRequestID — заголовок корреляции запроса.
const HeaderRequestID = "X-Request-ID"

// maxBodySize — предельный размер тела ответа.
const maxBodySize = 10 << 20

// Session — состояние сессии, которое нужно gateway (реализуется session.Manager).
type Session interface {
	AccessToken() string
	Principal() *model.Principal
	RefreshAfter(ctx context.Context, stale string) (string, error)
	Logout(ctx context.Context)
}

// Request — описание исходящего запроса.
// Body хранится байтами, чтобы повторная отправка была идентичной.
type Request struct {
	Method string
	// Path — путь относительно базового URL (например, /members).
	Path          string
	Query         url.Values
	Header        http.Header
	Body          []byte
	RequiredRoles []rbac.Role
}

// Response — ответ на запрос.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// RequestID — X-Request-ID отправки, общий для исходной и повторной.
	RequestID string
}

// StatusError — сервер вернул не-2xx статус (кроме обработанного 401).
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

// Error реализует интерфейс error.
func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("статус %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("статус %d", e.StatusCode)
}

// Gateway — Request Gateway.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	session    Session
	logger     *slog.Logger
}

// New создаёт Gateway.
// baseURL — корневой URL API (MP_API_BASE), session — источник токена и refresh.
func New(baseURL string, httpClient *http.Client, session Session, logger *slog.Logger) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: не задан базовый URL")
	}
	if session == nil {
		return nil, errors.New("gateway: не задана сессия")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		session:    session,
		logger:     logger.With(slog.String("component", "gateway")),
	}, nil
}

// Do выполняет запрос.
//
// Ошибки:
//   - autherr.ErrUnauthorized — у принципала нет требуемой роли, сеть не вызывалась;
//   - autherr.ErrSessionExpired — refresh не удался или повторный запрос снова получил 401;
//   - autherr.ErrNetworkFailure — транспортная ошибка;
//   - *StatusError — прочие не-2xx статусы.
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	const op = "gateway"

	// 1. Проверка ролей до отправки
	if len(req.RequiredRoles) > 0 && !authz.CanAccess(g.session.Principal(), req.RequiredRoles) {
		requestsTotal.WithLabelValues(outcomeUnauthorized).Inc()
		return nil, autherr.New(autherr.KindUnauthorized, op,
			fmt.Errorf("%s %s требует одну из ролей %v", req.Method, req.Path, req.RequiredRoles))
	}

	requestID := uuid.NewString()
	log := g.logger.With(
		slog.String("request_id", requestID),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
	)

	// 2. Первая отправка
	token := g.session.AccessToken()
	resp, err := g.dispatch(ctx, req, token, requestID)
	if err != nil {
		return nil, g.transportError(ctx, op, err)
	}

	retried := false
	if resp.StatusCode == http.StatusUnauthorized {
		// 3. Refresh (объединяется с параллельными) и одна повторная отправка
		log.Debug("Получен 401, обновляем пару токенов")
		fresh, err := g.session.RefreshAfter(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				requestsTotal.WithLabelValues(outcomeCanceled).Inc()
				return nil, err
			}
			requestsTotal.WithLabelValues(outcomeSessionExpired).Inc()
			log.Info("Refresh не удался", slog.String("error", err.Error()))
			return nil, asSessionExpired(op, err)
		}

		resp, err = g.dispatch(ctx, req, fresh, requestID)
		if err != nil {
			return nil, g.transportError(ctx, op, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// Новый токен тоже отклонён: третьей попытки нет.
			// Сессию, которую уже заменил параллельный refresh или login, не трогаем.
			if g.session.AccessToken() == fresh {
				g.session.Logout(ctx)
				log.Warn("Повторный 401 после refresh, сессия завершена")
			} else {
				log.Info("Повторный 401 после refresh, пара уже заменена")
			}
			requestsTotal.WithLabelValues(outcomeSessionExpired).Inc()
			return nil, autherr.New(autherr.KindSessionExpired, op,
				fmt.Errorf("%s %s: повторный 401", req.Method, req.Path))
		}
		retried = true
	}

	// 4. Прочие статусы
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues(outcomeHTTPError).Inc()
		return resp, newStatusError(resp)
	}

	if retried {
		requestsTotal.WithLabelValues(outcomeRetried).Inc()
	} else {
		requestsTotal.WithLabelValues(outcomeSuccess).Inc()
	}
	return resp, nil
}

// DoJSON выполняет запрос и декодирует JSON-ответ в out (если out != nil).
func (g *Gateway) DoJSON(ctx context.Context, req Request, out any) error {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := g.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("декодирование ответа %s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

// JSONBody сериализует v для Request.Body.
func JSONBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("сериализация тела запроса: %w", err)
	}
	return data, nil
}

// dispatch выполняет одну HTTP-отправку.
func (g *Gateway) dispatch(ctx context.Context, req Request, token, requestID string) (*Response, error) {
	reqURL := g.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", req.Method, req.Path, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq) //nolint:gosec // G704: URL из конфигурации
	dispatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа %s %s: %w", req.Method, req.Path, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RequestID:  requestID,
	}, nil
}

// transportError классифицирует ошибку отправки.
func (g *Gateway) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		requestsTotal.WithLabelValues(outcomeCanceled).Inc()
		return ctx.Err()
	}
	requestsTotal.WithLabelValues(outcomeNetworkFailure).Inc()
	return autherr.New(autherr.KindNetworkFailure, op, err)
}

// newStatusError разбирает тело ошибки {"error":{"code","message"}}.
func newStatusError(resp *Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(resp.Body, &env) == nil {
		se.Code = env.Error.Code
		se.Message = env.Error.Message
	}
	return se
}

// asSessionExpired приводит ошибку refresh к ErrSessionExpired.
func asSessionExpired(op string, err error) error {
	if errors.Is(err, autherr.ErrSessionExpired) {
		return err
	}
	return autherr.New(autherr.KindSessionExpired, op, err)
}
