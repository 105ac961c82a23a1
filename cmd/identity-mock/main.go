// Точка входа dev identity-сервиса memberportal.
// Выдаёт RS256 токены демонстрационным пользователям, ротирует refresh token,
// обслуживает API портала в памяти, /jwks и /metrics.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/memberportal/internal/config"
	"github.com/bigkaa/memberportal/internal/identitymock"
	"github.com/bigkaa/memberportal/internal/server"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadMock()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("identity-mock запускается",
		slog.String("version", config.Version),
		slog.String("addr", cfg.ListenAddr),
		slog.Duration("access_ttl", cfg.AccessTTL),
		slog.Duration("refresh_ttl", cfg.RefreshTTL),
	)

	// 3. Identity-сервис с демонстрационными пользователями
	mock, err := identitymock.New(identitymock.Options{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания identity-сервиса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	for _, u := range identitymock.DemoUsers() {
		logger.Info("Демонстрационный пользователь",
			slog.String("identifier", u.Identifier),
			slog.String("role", string(u.Principal.Role)),
		)
	}

	// 4. HTTP-сервер с graceful shutdown
	srv := server.New(cfg.ListenAddr, mock.Handler(), cfg.ShutdownTimeout, logger)
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
