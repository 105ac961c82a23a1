package model

import (
	"time"

	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// Member — участник организации.
type Member struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Role     rbac.Role     `json:"role"`
	Division rbac.Division `json:"division"`
	JoinedAt time.Time     `json:"joinedAt"`
}

// AttendanceRule — правило посещаемости подразделения.
// Параметры правила непрозрачны для клиента и передаются как есть.
type AttendanceRule struct {
	Division   rbac.Division  `json:"division"`
	Parameters map[string]any `json:"parameters"`
	UpdatedBy  string         `json:"updatedBy,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt,omitempty"`
}

// Event — мероприятие подразделения.
type Event struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Division rbac.Division `json:"division"`
	StartsAt time.Time     `json:"startsAt"`
	Location string        `json:"location,omitempty"`
}

// Resource — общий ресурс организации (ссылка на материалы).
type Resource struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
