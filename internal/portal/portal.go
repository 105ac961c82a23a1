// Пакет portal — клиенты API портала: участники, правила посещаемости,
// мероприятия, ресурсы. Каждая операция — вызов через Request Gateway;
// права выражаются только через authz (RequiredRoles или проверка CanManage).
package portal

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/bigkaa/memberportal/internal/authz"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
	"github.com/bigkaa/memberportal/internal/gateway"
)

// Doer — исполнитель запросов (реализуется gateway.Gateway).
type Doer interface {
	DoJSON(ctx context.Context, req gateway.Request, out any) error
}

// Client — клиент API портала.
type Client struct {
	gw    Doer
	guard *authz.Guard
}

// New создаёт Client.
// src — источник текущего принципала (session.Manager).
func New(gw Doer, src authz.PrincipalSource) (*Client, error) {
	if gw == nil {
		return nil, errors.New("portal: не задан gateway")
	}
	if src == nil {
		return nil, errors.New("portal: не задан источник принципала")
	}
	return &Client{gw: gw, guard: authz.NewGuard(src)}, nil
}

// Guard возвращает Authorization Guard клиента.
func (c *Client) Guard() *authz.Guard {
	return c.guard
}

// get выполняет GET по пути с фильтром division.
func (c *Client) get(ctx context.Context, path string, division rbac.Division, roles []rbac.Role, out any) error {
	var q url.Values
	if division != "" {
		q = url.Values{"division": {string(division)}}
	}
	return c.gw.DoJSON(ctx, gateway.Request{
		Method:        http.MethodGet,
		Path:          path,
		Query:         q,
		RequiredRoles: roles,
	}, out)
}

// send выполняет запрос с JSON-телом.
func (c *Client) send(ctx context.Context, method, path string, body any, roles []rbac.Role, out any) error {
	data, err := gateway.JSONBody(body)
	if err != nil {
		return err
	}
	return c.gw.DoJSON(ctx, gateway.Request{
		Method:        method,
		Path:          path,
		Body:          data,
		RequiredRoles: roles,
	}, out)
}

// --- Members ---

// ListMembers возвращает участников; при division == "" всех.
func (c *Client) ListMembers(ctx context.Context, division rbac.Division) ([]model.Member, error) {
	var out []model.Member
	if err := c.get(ctx, "/members", division, authz.AllRoles(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddMember добавляет участника в подразделение, которым управляет принципал.
func (c *Client) AddMember(ctx context.Context, m model.Member) (*model.Member, error) {
	if err := c.guard.RequireManage(m.Division); err != nil {
		return nil, err
	}
	var out model.Member
	if err := c.send(ctx, http.MethodPost, "/members", m, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Attendance rules ---

// AttendanceRule возвращает правило посещаемости подразделения.
func (c *Client) AttendanceRule(ctx context.Context, division rbac.Division) (*model.AttendanceRule, error) {
	var out model.AttendanceRule
	if err := c.get(ctx, "/attendance-rules", division, authz.AllRoles(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAttendanceRule заменяет правило посещаемости подразделения.
func (c *Client) UpdateAttendanceRule(ctx context.Context, rule model.AttendanceRule) (*model.AttendanceRule, error) {
	if err := c.guard.RequireManage(rule.Division); err != nil {
		return nil, err
	}
	var out model.AttendanceRule
	if err := c.send(ctx, http.MethodPut, "/attendance-rules", rule, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Events ---

// ListEvents возвращает мероприятия; при division == "" все.
func (c *Client) ListEvents(ctx context.Context, division rbac.Division) ([]model.Event, error) {
	var out []model.Event
	if err := c.get(ctx, "/events", division, authz.AllRoles(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEvent создаёт мероприятие. Требуется роль офицера, управляющего подразделением.
func (c *Client) CreateEvent(ctx context.Context, e model.Event) (*model.Event, error) {
	if err := c.guard.RequireManage(e.Division); err != nil {
		return nil, err
	}
	var out model.Event
	if err := c.send(ctx, http.MethodPost, "/events", e, authz.Officers(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Resources ---

// ListResources возвращает общие ресурсы.
func (c *Client) ListResources(ctx context.Context) ([]model.Resource, error) {
	var out []model.Resource
	if err := c.get(ctx, "/resources", "", authz.AllRoles(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateResource публикует ресурс. Доступно только глобальным офицерам.
func (c *Client) CreateResource(ctx context.Context, r model.Resource) (*model.Resource, error) {
	var out model.Resource
	if err := c.send(ctx, http.MethodPost, "/resources", r, authz.GlobalOfficers(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
