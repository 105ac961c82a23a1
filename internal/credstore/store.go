// store.go — Store: пара токенов в одном из двух уровней плюс флаг выбора уровня.
// Инвариант: обе половины пары всегда находятся в одном уровне.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/memberportal/internal/domain/model"
)

// Значения флага SlotPersist.
const (
	persistTrue  = "true"
	persistFalse = "false"
)

// pairSlots — слоты пары токенов.
var pairSlots = []string{SlotToken, SlotRefreshToken}

// Store — хранилище учётных данных с двумя уровнями.
type Store struct {
	durable   Tier
	ephemeral Tier
	logger    *slog.Logger
}

// New создаёт Store. Оба уровня обязательны.
func New(durable, ephemeral Tier, logger *slog.Logger) (*Store, error) {
	if durable == nil || ephemeral == nil {
		return nil, errors.New("credstore: оба уровня хранения обязательны")
	}
	return &Store{
		durable:   durable,
		ephemeral: ephemeral,
		logger:    logger.With(slog.String("component", "credstore")),
	}, nil
}

// tier возвращает реализацию уровня.
func (s *Store) tier(kind model.Tier) Tier {
	if kind == model.TierDurable {
		return s.durable
	}
	return s.ephemeral
}

// Selected читает флаг выбранного уровня из durable-уровня.
// Если флаг не записан, используется ephemeral.
func (s *Store) Selected(ctx context.Context) (model.Tier, error) {
	vals, err := s.durable.Read(ctx, SlotPersist)
	if err != nil {
		return model.TierEphemeral, fmt.Errorf("чтение флага уровня: %w", err)
	}
	if vals[SlotPersist] == persistTrue {
		return model.TierDurable, nil
	}
	return model.TierEphemeral, nil
}

// Load читает пару из выбранного уровня.
// Возвращает nil-пару, если её нет. Неполная пара считается отсутствующей и удаляется.
func (s *Store) Load(ctx context.Context) (*model.CredentialPair, model.Tier, error) {
	kind, err := s.Selected(ctx)
	if err != nil {
		return nil, kind, err
	}

	vals, err := s.tier(kind).Read(ctx, pairSlots...)
	if err != nil {
		return nil, kind, fmt.Errorf("чтение пары токенов (%s): %w", kind, err)
	}

	pair := &model.CredentialPair{
		AccessToken:  vals[SlotToken],
		RefreshToken: vals[SlotRefreshToken],
	}
	if pair.Complete() {
		return pair, kind, nil
	}

	if pair.AccessToken != "" || pair.RefreshToken != "" {
		s.logger.Warn("Неполная пара токенов в хранилище, удаляем",
			slog.String("tier", string(kind)),
		)
		if err := s.tier(kind).Remove(ctx, pairSlots...); err != nil {
			return nil, kind, fmt.Errorf("удаление неполной пары: %w", err)
		}
	}
	return nil, kind, nil
}

// Save записывает пару в уровень kind, удаляет её из другого уровня
// и сохраняет флаг выбора в durable-уровне.
func (s *Store) Save(ctx context.Context, pair *model.CredentialPair, kind model.Tier) error {
	if !pair.Complete() {
		return errors.New("credstore: пара токенов неполная")
	}

	target := s.tier(kind)
	if err := target.Write(ctx, map[string]string{
		SlotToken:        pair.AccessToken,
		SlotRefreshToken: pair.RefreshToken,
	}); err != nil {
		return fmt.Errorf("запись пары токенов (%s): %w", kind, err)
	}

	if err := s.tier(kind.Other()).Remove(ctx, pairSlots...); err != nil {
		// Не оставляем пару в двух уровнях
		_ = target.Remove(ctx, pairSlots...)
		return fmt.Errorf("очистка уровня %s: %w", kind.Other(), err)
	}

	flag := persistFalse
	if kind == model.TierDurable {
		flag = persistTrue
	}
	if err := s.durable.Write(ctx, map[string]string{SlotPersist: flag}); err != nil {
		_ = target.Remove(ctx, pairSlots...)
		return fmt.Errorf("запись флага уровня: %w", err)
	}

	s.logger.Debug("Пара токенов сохранена", slog.String("tier", string(kind)))
	return nil
}

// Replace перезаписывает пару в уровне kind (используется при refresh).
func (s *Store) Replace(ctx context.Context, pair *model.CredentialPair, kind model.Tier) error {
	if !pair.Complete() {
		return errors.New("credstore: пара токенов неполная")
	}
	if err := s.tier(kind).Write(ctx, map[string]string{
		SlotToken:        pair.AccessToken,
		SlotRefreshToken: pair.RefreshToken,
	}); err != nil {
		return fmt.Errorf("замена пары токенов (%s): %w", kind, err)
	}
	return nil
}

// Clear удаляет пару из обоих уровней и флаг выбора.
// Пытается очистить всё, даже если один из уровней вернул ошибку.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	if err := s.ephemeral.Remove(ctx, pairSlots...); err != nil {
		errs = append(errs, fmt.Errorf("очистка ephemeral: %w", err))
	}
	if err := s.durable.Remove(ctx, SlotToken, SlotRefreshToken, SlotPersist); err != nil {
		errs = append(errs, fmt.Errorf("очистка durable: %w", err))
	}
	return errors.Join(errs...)
}
