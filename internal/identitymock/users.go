// users.go — демонстрационные пользователи dev identity-сервиса.
package identitymock

import (
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// DemoPassword — пароль всех демонстрационных пользователей.
const DemoPassword = "memberportal"

// User — учётная запись identity-сервиса.
type User struct {
	// Identifier — логин (email).
	Identifier string
	// Secret — пароль.
	Secret string
	// Principal — профиль, возвращаемый GET /principal/{id}.
	Principal model.Principal
}

// DemoUsers возвращает по одному пользователю на каждую роль.
func DemoUsers() []User {
	users := []User{
		demoUser("u-president", "president@club.test", "Pat President", rbac.RolePresident, nil),
		demoUser("u-vice", "vice@club.test", "Vic Vice", rbac.RoleVicePresident, nil),
	}
	for i, d := range rbac.Divisions() {
		role, _ := rbac.OfficerRole(d)
		div := d
		users = append(users, demoUser(
			"u-officer-"+string(rune('a'+i)),
			"officer-"+string(rune('a'+i))+"@club.test",
			string(d)+" Lead",
			role,
			&div,
		))
	}

	ds := rbac.DivisionDataScience
	users = append(users, demoUser("u-member", "member@club.test", "Morgan Member", rbac.RoleMember, &ds))
	return users
}

func demoUser(id, identifier, name string, role rbac.Role, div *rbac.Division) User {
	return User{
		Identifier: identifier,
		Secret:     DemoPassword,
		Principal: model.Principal{
			ID:       id,
			Name:     name,
			Role:     role,
			Division: div,
			Profile: map[string]any{
				"email": identifier,
			},
		},
	}
}
