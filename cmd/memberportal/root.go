package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/memberportal/internal/config"
)

// newRootCmd собирает дерево команд. Каждый вызов создаёт новое дерево с чистыми флагами.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memberportal",
		Short: "Клиент портала участников студенческой организации.",
		Long: `memberportal управляет сессией пользователя портала (вход, тихое обновление
токенов, выход) и выполняет запросы к API портала с проверкой прав по ролям.

Конфигурация задаётся переменными окружения MP_* (или файлом .env).`,
		Version:       config.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Вывод команд (Print*) идёт в stdout, логи и ошибки в stderr
	root.SetOut(os.Stdout)

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newGetCmd(),
		newCanCmd(),
	)
	return root
}
