package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/memberportal/internal/config"
	"github.com/bigkaa/memberportal/internal/credstore"
	"github.com/bigkaa/memberportal/internal/gateway"
	"github.com/bigkaa/memberportal/internal/identity"
	"github.com/bigkaa/memberportal/internal/portal"
	"github.com/bigkaa/memberportal/internal/session"
)

// app — собранные компоненты клиента для одной команды.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *session.Manager
	portal  *portal.Client
	closers []func() error
}

// newApp загружает конфигурацию, собирает компоненты и восстанавливает сессию.
func newApp(ctx context.Context) (*app, error) {
	// 1. Конфигурация и логирование
	cfg, err := config.Load()
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	logger := config.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	a := &app{cfg: cfg, logger: logger}

	// 2. HTTP-клиент (таймаут, кастомный CA)
	httpClient, err := cfg.HTTPClient(logger)
	if err != nil {
		return nil, err
	}

	// 3. Хранилище: durable (file|redis) + ephemeral (память процесса)
	durable, err := a.openDurable(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	store, err := credstore.New(durable, credstore.NewMemoryTier(), logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 4. Identity, Session Manager, Gateway, клиенты портала
	idp, err := identity.New(cfg.APIBase, httpClient, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.manager, err = session.New(store, idp, logger, session.Options{RefreshTimeout: cfg.RefreshTimeout})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.manager.Close)

	gw, err := gateway.New(cfg.APIBase, httpClient, a.manager, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.portal, err = portal.New(gw, a.manager)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 5. Восстановление сессии; непригодные учётные данные уже удалены
	if err := a.manager.Initialize(ctx); err != nil {
		logger.Warn("Сохранённая сессия не восстановлена", slog.String("error", err.Error()))
	}
	return a, nil
}

// openDurable открывает durable-уровень согласно MP_STORE_BACKEND.
func (a *app) openDurable(ctx context.Context) (credstore.Tier, error) {
	secret := a.cfg.StoreSecret
	if secret == "" {
		key, err := credstore.LoadOrCreateKey(a.cfg.KeyPath())
		if err != nil {
			return nil, err
		}
		secret = key
	}
	sealer, err := credstore.NewSealer(secret)
	if err != nil {
		return nil, fmt.Errorf("ключ хранилища: %w", err)
	}

	switch a.cfg.StoreBackend {
	case config.BackendRedis:
		tier, err := credstore.NewRedisTier(credstore.RedisOptions{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
			Key:      a.cfg.RedisKey,
		}, sealer)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, tier.Close)
		if err := tier.Ping(ctx); err != nil {
			return nil, fmt.Errorf("подключение к Redis %s: %w", a.cfg.RedisAddr, err)
		}
		a.logger.Debug("Durable-уровень: Redis", slog.String("addr", a.cfg.RedisAddr))
		return tier, nil
	default:
		tier, err := credstore.NewFileTier(a.cfg.CredentialsPath(), sealer)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("Durable-уровень: файл", slog.String("path", tier.Path()))
		return tier, nil
	}
}

// Close освобождает ресурсы в обратном порядке.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Ошибка освобождения ресурса", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
