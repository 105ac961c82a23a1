// Точка входа CLI memberportal: вход, выход, состояние сессии,
// чтение данных портала и проверка прав текущего пользователя.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/memberportal/internal/domain/autherr"
)

// Коды завершения.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitDenied   = 3
	exitReauth   = 4
	exitNetwork  = 5
	exitCanceled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runMain(func() error {
		return newRootCmd().ExecuteContext(ctx)
	}, os.Stderr)
	stop()
	if code != exitOK {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	if err := execute(); err != nil {
		return exitCodeForError(err, stderr)
	}
	return exitOK
}

// exitCodeForError печатает ошибку и возвращает код завершения.
func exitCodeForError(err error, stderr io.Writer) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.silent {
			fmt.Fprintln(stderr, "ошибка:", err)
		}
		return ee.code
	}

	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "отменено")
		return exitCanceled
	}

	code := exitFailure
	switch autherr.KindOf(err) {
	case autherr.KindUnauthorized:
		code = exitDenied
	case autherr.KindInvalidCredentials, autherr.KindSessionExpired, autherr.KindMalformedToken:
		code = exitReauth
	case autherr.KindNetworkFailure:
		code = exitNetwork
	}
	fmt.Fprintln(stderr, "ошибка:", err)
	if code == exitReauth && autherr.RequiresReauth(err) {
		fmt.Fprintln(stderr, "выполните: memberportal login <identifier>")
	}
	return code
}
