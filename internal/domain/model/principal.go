// Пакет model — доменные модели подсистемы сессий.
// Principal — профиль аутентифицированного пользователя от identity-сервиса.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// Principal — профиль текущего пользователя.
// Создаётся при логине или восстановлении сессии, заменяется целиком при refresh,
// очищается при logout.
type Principal struct {
	// ID — стабильный идентификатор (совпадает с claim id access token).
	ID string
	// Name — отображаемое имя.
	Name string
	// Role — единственная роль пользователя.
	Role rbac.Role
	// Division — подразделение пользователя (может быть nil).
	Division *rbac.Division
	// Profile — остальные поля профиля, которые используют UI-коллабораторы.
	Profile map[string]any
}

// principalCore — известные поля профиля.
type principalCore struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Role     string  `json:"role"`
	Division *string `json:"division,omitempty"`
}

// knownFields — ключи, которые не попадают в Profile.
var knownFields = []string{"id", "name", "role", "division"}

// UnmarshalJSON разбирает профиль: известные поля — в структуру, остальные — в Profile.
// Неизвестная роль — ошибка (роль является закрытым перечислением).
func (p *Principal) UnmarshalJSON(data []byte) error {
	var core principalCore
	if err := json.Unmarshal(data, &core); err != nil {
		return fmt.Errorf("разбор профиля: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("разбор профиля: %w", err)
	}
	for _, k := range knownFields {
		delete(raw, k)
	}

	role, ok := rbac.ParseRole(core.Role)
	if !ok {
		return fmt.Errorf("неизвестная роль %q в профиле %q", core.Role, core.ID)
	}

	*p = Principal{
		ID:      core.ID,
		Name:    core.Name,
		Role:    role,
		Profile: raw,
	}
	if core.Division != nil && *core.Division != "" {
		d := rbac.Division(*core.Division)
		p.Division = &d
	}
	return nil
}

// MarshalJSON сериализует профиль обратно в плоский JSON.
func (p Principal) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Profile)+4)
	for k, v := range p.Profile {
		out[k] = v
	}
	out["id"] = p.ID
	out["name"] = p.Name
	out["role"] = string(p.Role)
	if p.Division != nil {
		out["division"] = string(*p.Division)
	}
	return json.Marshal(out)
}

// Clone возвращает глубокую копию верхнего уровня (Profile копируется поверхностно).
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	if p.Division != nil {
		d := *p.Division
		c.Division = &d
	}
	if p.Profile != nil {
		c.Profile = make(map[string]any, len(p.Profile))
		for k, v := range p.Profile {
			c.Profile[k] = v
		}
	}
	return &c
}
