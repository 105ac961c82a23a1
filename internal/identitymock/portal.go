// portal.go — демонстрационный API портала в памяти.
// Права проверяются теми же предикатами authz, что и на клиенте.
package identitymock

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/memberportal/internal/authz"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// maxBodySize — предельный размер тела запроса.
const maxBodySize = 1 << 20

// portalData — данные портала.
type portalData struct {
	now func() time.Time

	mu        sync.RWMutex
	members   map[string]model.Member
	rules     map[rbac.Division]model.AttendanceRule
	events    map[string]model.Event
	resources map[string]model.Resource
}

func newPortalData(users []User, now func() time.Time) *portalData {
	d := &portalData{
		now:       now,
		members:   make(map[string]model.Member),
		rules:     make(map[rbac.Division]model.AttendanceRule),
		events:    make(map[string]model.Event),
		resources: make(map[string]model.Resource),
	}
	for _, u := range users {
		m := model.Member{
			ID:       u.Principal.ID,
			Name:     u.Principal.Name,
			Email:    u.Identifier,
			Role:     u.Principal.Role,
			JoinedAt: now(),
		}
		if u.Principal.Division != nil {
			m.Division = *u.Principal.Division
		}
		d.members[m.ID] = m
	}
	return d
}

func (d *portalData) routes(r chi.Router) {
	r.Get("/members", d.handleListMembers)
	r.Post("/members", d.handleAddMember)
	r.Get("/attendance-rules", d.handleGetRule)
	r.Put("/attendance-rules", d.handlePutRule)
	r.Get("/events", d.handleListEvents)
	r.Post("/events", d.handleCreateEvent)
	r.Get("/resources", d.handleListResources)
	r.Post("/resources", d.handleCreateResource)
}

// --- Members ---

func (d *portalData) handleListMembers(w http.ResponseWriter, r *http.Request) {
	if !authz.CanViewMembers(principalFrom(r.Context())) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Недостаточно прав")
		return
	}
	division := rbac.Division(r.URL.Query().Get("division"))

	d.mu.RLock()
	out := make([]model.Member, 0, len(d.members))
	for _, m := range d.members {
		if division == "" || m.Division == division {
			out = append(out, m)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (d *portalData) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var m model.Member
	if err := decodeJSON(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Невалидный JSON: "+err.Error())
		return
	}
	if m.Name == "" || !rbac.IsValidDivision(m.Division) {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Требуются name и корректное division")
		return
	}
	if m.Role == "" {
		m.Role = rbac.RoleMember
	}
	if !rbac.IsValidRole(m.Role) {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Неизвестная роль")
		return
	}
	if !authz.CanAddMember(principalFrom(r.Context()), m.Division) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Нет прав на подразделение "+string(m.Division))
		return
	}

	m.ID = uuid.NewString()
	m.JoinedAt = d.now()

	d.mu.Lock()
	d.members[m.ID] = m
	d.mu.Unlock()
	writeJSON(w, http.StatusCreated, m)
}

// --- Attendance rules ---

func (d *portalData) handleGetRule(w http.ResponseWriter, r *http.Request) {
	division := rbac.Division(r.URL.Query().Get("division"))
	if !rbac.IsValidDivision(division) {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Некорректное division")
		return
	}

	d.mu.RLock()
	rule, ok := d.rules[division]
	d.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "Правило не задано")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (d *portalData) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var rule model.AttendanceRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Невалидный JSON: "+err.Error())
		return
	}
	if !rbac.IsValidDivision(rule.Division) {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Некорректное division")
		return
	}
	p := principalFrom(r.Context())
	if !authz.CanEditAttendanceRule(p, rule.Division) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Нет прав на подразделение "+string(rule.Division))
		return
	}

	rule.UpdatedBy = p.ID
	rule.UpdatedAt = d.now()

	d.mu.Lock()
	d.rules[rule.Division] = rule
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, rule)
}

// --- Events ---

func (d *portalData) handleListEvents(w http.ResponseWriter, r *http.Request) {
	division := rbac.Division(r.URL.Query().Get("division"))

	d.mu.RLock()
	out := make([]model.Event, 0, len(d.events))
	for _, e := range d.events {
		if division == "" || e.Division == division {
			out = append(out, e)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	writeJSON(w, http.StatusOK, out)
}

func (d *portalData) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var e model.Event
	if err := decodeJSON(r, &e); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Невалидный JSON: "+err.Error())
		return
	}
	if e.Title == "" || !rbac.IsValidDivision(e.Division) {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Требуются title и корректное division")
		return
	}
	if !authz.CanManageEvents(principalFrom(r.Context()), e.Division) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Нет прав на мероприятия подразделения")
		return
	}

	e.ID = uuid.NewString()
	d.mu.Lock()
	d.events[e.ID] = e
	d.mu.Unlock()
	writeJSON(w, http.StatusCreated, e)
}

// --- Resources ---

func (d *portalData) handleListResources(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	out := make([]model.Resource, 0, len(d.resources))
	for _, res := range d.resources {
		out = append(out, res)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	writeJSON(w, http.StatusOK, out)
}

func (d *portalData) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	var res model.Resource
	if err := decodeJSON(r, &res); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Невалидный JSON: "+err.Error())
		return
	}
	if res.Title == "" || res.URL == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Требуются title и url")
		return
	}
	if !authz.CanManageResources(principalFrom(r.Context())) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Недостаточно прав")
		return
	}

	res.ID = uuid.NewString()
	d.mu.Lock()
	d.resources[res.ID] = res
	d.mu.Unlock()
	writeJSON(w, http.StatusCreated, res)
}

// decodeJSON разбирает тело запроса с ограничением размера.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("пустое тело запроса")
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("пустое тело запроса")
	}
	return json.Unmarshal(data, v)
}
