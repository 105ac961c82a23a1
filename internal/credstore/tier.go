package credstore

import (
	"context"
	"errors"
	"sync"
)

// ErrCorrupted — сохранённые данные не расшифровываются или не разбираются.
// В отличие от сбоя доступа к хранилищу, повтор не поможет.
var ErrCorrupted = errors.New("данные хранилища повреждены")

// Имена слотов, одинаковые во всех уровнях.
const (
	// SlotToken — access token.
	SlotToken = "token"
	// SlotRefreshToken — refresh token.
	SlotRefreshToken = "refreshToken"
	// SlotPersist — флаг выбранного уровня; хранится только в durable-уровне.
	SlotPersist = "persist"
)

// Tier — один уровень хранения слотов.
// Write и Remove применяют все переданные слоты одной операцией.
type Tier interface {
	// Read возвращает значения присутствующих слотов (отсутствующие не попадают в map).
	Read(ctx context.Context, slots ...string) (map[string]string, error)
	// Write записывает значения слотов.
	Write(ctx context.Context, values map[string]string) error
	// Remove удаляет слоты; отсутствие слота не является ошибкой.
	Remove(ctx context.Context, slots ...string) error
}

// MemoryTier — ephemeral-уровень: слоты живут, пока жив экземпляр.
// Один экземпляр можно передать нескольким Store, чтобы смоделировать
// перезагрузку в пределах одной сессии.
type MemoryTier struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryTier создаёт пустой in-memory уровень.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{values: make(map[string]string)}
}

// Read реализует Tier.
func (m *MemoryTier) Read(_ context.Context, slots ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(slots))
	for _, s := range slots {
		if v, ok := m.values[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

// Write реализует Tier.
func (m *MemoryTier) Write(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

// Remove реализует Tier.
func (m *MemoryTier) Remove(_ context.Context, slots ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range slots {
		delete(m.values, s)
	}
	return nil
}

// Len — количество заполненных слотов (для тестов и диагностики).
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
