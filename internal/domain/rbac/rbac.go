// Пакет rbac — иерархия ролей студенческой организации.
// Три уровня полномочий: глобальные офицеры (President, Vice President),
// офицеры подразделений (по одной роли на подразделение) и рядовые участники.
// Все функции чистые: не имеют побочных эффектов и определены для любой роли.
package rbac

import "strings"

// Role — роль участника организации.
type Role string

// Division — подразделение организации.
type Division string

// Глобальные роли и роль участника.
const (
	RolePresident     Role = "President"
	RoleVicePresident Role = "Vice President"
	RoleMember        Role = "Member"
)

// Подразделения организации.
const (
	DivisionDataScience            Division = "Data Science"
	DivisionSoftwareEngineering    Division = "Software Engineering"
	DivisionCybersecurity          Division = "Cybersecurity"
	DivisionArtificialIntelligence Division = "Artificial Intelligence"
	DivisionGameDevelopment        Division = "Game Development"
)

// DivisionAll — подразделение-маркер для глобальных офицеров («все подразделения»).
const DivisionAll Division = "all"

// officerSuffix — суффикс роли офицера подразделения.
const officerSuffix = " Division President"

// Роли офицеров подразделений.
const (
	RoleDataScienceOfficer            Role = Role(string(DivisionDataScience) + officerSuffix)
	RoleSoftwareEngineeringOfficer    Role = Role(string(DivisionSoftwareEngineering) + officerSuffix)
	RoleCybersecurityOfficer          Role = Role(string(DivisionCybersecurity) + officerSuffix)
	RoleArtificialIntelligenceOfficer Role = Role(string(DivisionArtificialIntelligence) + officerSuffix)
	RoleGameDevelopmentOfficer        Role = Role(string(DivisionGameDevelopment) + officerSuffix)
)

// tier — уровень полномочий роли.
type tier int

const (
	tierMember tier = iota + 1
	tierDivisionOfficer
	tierGlobalOfficer
)

// roleTier — уровень полномочий каждой известной роли.
// Чем выше уровень, тем больше привилегий.
var roleTier = map[Role]tier{
	RolePresident:                     tierGlobalOfficer,
	RoleVicePresident:                 tierGlobalOfficer,
	RoleDataScienceOfficer:            tierDivisionOfficer,
	RoleSoftwareEngineeringOfficer:    tierDivisionOfficer,
	RoleCybersecurityOfficer:          tierDivisionOfficer,
	RoleArtificialIntelligenceOfficer: tierDivisionOfficer,
	RoleGameDevelopmentOfficer:        tierDivisionOfficer,
	RoleMember:                        tierMember,
}

// officerDivision — статическая таблица «роль офицера → подразделение».
// Отображение взаимно однозначное: ровно одна роль на подразделение.
var officerDivision = map[Role]Division{
	RoleDataScienceOfficer:            DivisionDataScience,
	RoleSoftwareEngineeringOfficer:    DivisionSoftwareEngineering,
	RoleCybersecurityOfficer:          DivisionCybersecurity,
	RoleArtificialIntelligenceOfficer: DivisionArtificialIntelligence,
	RoleGameDevelopmentOfficer:        DivisionGameDevelopment,
}

// divisionOfficer — обратная таблица «подразделение → роль офицера».
var divisionOfficer = invert(officerDivision)

// orderedRoles — все роли в порядке убывания привилегий.
var orderedRoles = []Role{
	RolePresident,
	RoleVicePresident,
	RoleDataScienceOfficer,
	RoleSoftwareEngineeringOfficer,
	RoleCybersecurityOfficer,
	RoleArtificialIntelligenceOfficer,
	RoleGameDevelopmentOfficer,
	RoleMember,
}

// orderedDivisions — все подразделения в порядке объявления.
var orderedDivisions = []Division{
	DivisionDataScience,
	DivisionSoftwareEngineering,
	DivisionCybersecurity,
	DivisionArtificialIntelligence,
	DivisionGameDevelopment,
}

// Roles возвращает копию списка всех ролей.
func Roles() []Role {
	out := make([]Role, len(orderedRoles))
	copy(out, orderedRoles)
	return out
}

// Divisions возвращает копию списка всех подразделений (без DivisionAll).
func Divisions() []Division {
	out := make([]Division, len(orderedDivisions))
	copy(out, orderedDivisions)
	return out
}

// IsValidRole проверяет, является ли роль одной из перечисленных.
func IsValidRole(role Role) bool {
	_, ok := roleTier[role]
	return ok
}

// IsValidDivision проверяет, является ли строка известным подразделением.
func IsValidDivision(d Division) bool {
	_, ok := divisionOfficer[d]
	return ok
}

// ParseRole преобразует строку из профиля в Role.
// Пробелы по краям игнорируются, регистр должен совпадать с таблицей.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(s))
	if !IsValidRole(r) {
		return "", false
	}
	return r, true
}

// IsGlobalOfficer — роль даёт полный доступ ко всем подразделениям.
func IsGlobalOfficer(role Role) bool {
	return roleTier[role] == tierGlobalOfficer
}

// IsDivisionOfficer — роль даёт полный доступ только внутри своего подразделения.
func IsDivisionOfficer(role Role) bool {
	return roleTier[role] == tierDivisionOfficer
}

// IsOfficer — глобальный офицер или офицер подразделения.
func IsOfficer(role Role) bool {
	return IsGlobalOfficer(role) || IsDivisionOfficer(role)
}

// OwningDivision возвращает подразделение, которым владеет роль.
// Глобальные офицеры → DivisionAll, офицеры подразделения → своё подразделение,
// Member и неизвестные роли → ("", false).
func OwningDivision(role Role) (Division, bool) {
	if IsGlobalOfficer(role) {
		return DivisionAll, true
	}
	d, ok := officerDivision[role]
	return d, ok
}

// OfficerRole возвращает роль офицера указанного подразделения.
func OfficerRole(d Division) (Role, bool) {
	r, ok := divisionOfficer[d]
	return r, ok
}

// invert строит обратную таблицу для officerDivision.
func invert(m map[Role]Division) map[Division]Role {
	out := make(map[Division]Role, len(m))
	for r, d := range m {
		out[d] = r
	}
	return out
}
