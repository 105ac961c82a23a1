package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var (
		passwordStdin bool
		remember      bool
	)

	cmd := &cobra.Command{
		Use:   "login <identifier>",
		Short: "Войти в портал.",
		Long: `Обменивает логин и пароль на пару токенов и загружает профиль.
С --remember (по умолчанию) пара сохраняется в durable-уровне и переживает перезапуск;
с --remember=false она живёт только в памяти процесса.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, passwordStdin)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.manager.Login(cmd.Context(), args[0], secret, remember)
			if err != nil {
				return err
			}

			cmd.Printf("Вход выполнен: %s (%s)\n", p.Name, p.Role)
			if p.Division != nil {
				cmd.Printf("Подразделение: %s\n", *p.Division)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "прочитать пароль из stdin")
	cmd.Flags().BoolVar(&remember, "remember", true, "сохранить сессию между запусками")
	return cmd
}

// readSecret читает пароль из stdin или запрашивает его в терминале без эха.
func readSecret(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		secret, err := readLine(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		if secret == "" {
			return "", errors.New("пароль пуст")
		}
		return secret, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("пароль не задан (используйте --password-stdin)")
	}

	cmd.Print("Пароль: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	cmd.Println()
	if err != nil {
		return "", err
	}
	if len(secret) == 0 {
		return "", errors.New("пароль пуст")
	}
	return string(secret), nil
}

func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4*1024), 64*1024)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}
