// Пакет authz — Authorization Guard.
// Два примитива: CanAccess (роль входит в набор) и CanManage (право управлять
// подразделением). Все остальные проверки строятся только из них.
package authz

import (
	"errors"
	"fmt"

	"github.com/bigkaa/memberportal/internal/domain/autherr"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// CanAccess — роль принципала входит в required.
// nil-принципал и пустой набор — отказ.
func CanAccess(p *model.Principal, required []rbac.Role) bool {
	if p == nil {
		return false
	}
	for _, r := range required {
		if p.Role == r {
			return true
		}
	}
	return false
}

// CanManage — принципал может управлять подразделением target:
// глобальный офицер управляет любым, офицер подразделения — только своим.
func CanManage(p *model.Principal, target rbac.Division) bool {
	if p == nil {
		return false
	}
	if rbac.IsGlobalOfficer(p.Role) {
		return true
	}
	if !rbac.IsDivisionOfficer(p.Role) {
		return false
	}
	owned, ok := rbac.OwningDivision(p.Role)
	return ok && owned == target
}

// --- Наборы ролей ---

// AllRoles — все роли организации.
func AllRoles() []rbac.Role {
	return rbac.Roles()
}

// GlobalOfficers — President и Vice President.
func GlobalOfficers() []rbac.Role {
	return filter(rbac.IsGlobalOfficer)
}

// Officers — глобальные офицеры и офицеры подразделений.
func Officers() []rbac.Role {
	return filter(rbac.IsOfficer)
}

func filter(pred func(rbac.Role) bool) []rbac.Role {
	var out []rbac.Role
	for _, r := range rbac.Roles() {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// --- Проверки конкретных операций ---

// CanViewMembers — список участников доступен любому участнику организации.
func CanViewMembers(p *model.Principal) bool {
	return CanAccess(p, AllRoles())
}

// CanAddMember — добавить участника в подразделение.
func CanAddMember(p *model.Principal, d rbac.Division) bool {
	return CanManage(p, d)
}

// CanEditAttendanceRule — изменить правило посещаемости подразделения.
func CanEditAttendanceRule(p *model.Principal, d rbac.Division) bool {
	return CanManage(p, d)
}

// CanManageEvents — создавать и изменять мероприятия подразделения.
func CanManageEvents(p *model.Principal, d rbac.Division) bool {
	return CanAccess(p, Officers()) && CanManage(p, d)
}

// CanManageResources — управлять общими ресурсами организации.
func CanManageResources(p *model.Principal) bool {
	return CanAccess(p, GlobalOfficers())
}

// --- Guard ---

// PrincipalSource — источник текущего принципала (session.Manager).
type PrincipalSource interface {
	Principal() *model.Principal
}

// Guard отвечает на вопросы о правах текущего принципала.
type Guard struct {
	src PrincipalSource
}

// NewGuard создаёт Guard поверх источника принципала.
func NewGuard(src PrincipalSource) *Guard {
	return &Guard{src: src}
}

// Principal — текущий принципал (может быть nil).
func (g *Guard) Principal() *model.Principal {
	return g.src.Principal()
}

// CanAccess — CanAccess для текущего принципала.
func (g *Guard) CanAccess(required ...rbac.Role) bool {
	return CanAccess(g.src.Principal(), required)
}

// CanManage — CanManage для текущего принципала.
func (g *Guard) CanManage(target rbac.Division) bool {
	return CanManage(g.src.Principal(), target)
}

// RequireAccess возвращает ErrUnauthorized, если роль не входит в required.
func (g *Guard) RequireAccess(required ...rbac.Role) error {
	p := g.src.Principal()
	if CanAccess(p, required) {
		return nil
	}
	return autherr.New(autherr.KindUnauthorized, "require_access", describe(p))
}

// RequireManage возвращает ErrUnauthorized, если принципал не управляет target.
func (g *Guard) RequireManage(target rbac.Division) error {
	p := g.src.Principal()
	if CanManage(p, target) {
		return nil
	}
	return autherr.New(autherr.KindUnauthorized, "require_manage",
		fmt.Errorf("%w, подразделение %q", describe(p), target))
}

func describe(p *model.Principal) error {
	if p == nil {
		return errors.New("нет аутентифицированного пользователя")
	}
	return fmt.Errorf("роль %q", p.Role)
}
