package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/bigkaa/memberportal/internal/domain/model"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Выйти и удалить сохранённые учётные данные.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			a.manager.Logout(cmd.Context())
			cmd.Println("Сессия завершена")
			return nil
		},
	}
}

// statusOutput — вывод status --json.
type statusOutput struct {
	State     string           `json:"state"`
	Tier      model.Tier       `json:"tier,omitempty"`
	Principal *model.Principal `json:"principal,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Показать состояние сессии.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.manager.Snapshot()
			out := statusOutput{State: snap.State.String()}
			if snap.Authenticated() {
				out.Tier = snap.Tier
				out.Principal = snap.Principal
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			cmd.Printf("Состояние: %s\n", out.State)
			if p := out.Principal; p != nil {
				cmd.Printf("Пользователь: %s (%s)\n", p.Name, p.ID)
				cmd.Printf("Роль: %s\n", p.Role)
				if p.Division != nil {
					cmd.Printf("Подразделение: %s\n", *p.Division)
				}
				cmd.Printf("Хранилище: %s\n", out.Tier)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "вывод в JSON")
	return cmd
}
