package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// resources — читаемые ресурсы портала.
var resources = []string{"members", "attendance-rule", "events", "resources"}

func newGetCmd() *cobra.Command {
	var division string

	cmd := &cobra.Command{
		Use:       "get <" + strings.Join(resources, "|") + ">",
		Short:     "Прочитать данные портала (JSON).",
		Args:      cobra.ExactArgs(1),
		ValidArgs: resources,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDivision(division, false)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var out any
			switch args[0] {
			case "members":
				out, err = a.portal.ListMembers(ctx, d)
			case "attendance-rule":
				if d == "" {
					return &exitError{code: exitUsage, err: fmt.Errorf("attendance-rule требует --division")}
				}
				out, err = a.portal.AttendanceRule(ctx, d)
			case "events":
				out, err = a.portal.ListEvents(ctx, d)
			case "resources":
				out, err = a.portal.ListResources(ctx)
			default:
				return &exitError{code: exitUsage, err: fmt.Errorf("неизвестный ресурс %q, допустимые: %s",
					args[0], strings.Join(resources, ", "))}
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&division, "division", "", "подразделение (например, \"Data Science\")")
	return cmd
}

// parseDivision проверяет название подразделения; пустая строка означает без фильтра.
// allowAll разрешает сентинел "all".
func parseDivision(s string, allowAll bool) (rbac.Division, error) {
	if s == "" {
		return "", nil
	}
	d := rbac.Division(s)
	if allowAll && d == rbac.DivisionAll {
		return d, nil
	}
	if !rbac.IsValidDivision(d) {
		names := make([]string, 0, len(rbac.Divisions()))
		for _, v := range rbac.Divisions() {
			names = append(names, string(v))
		}
		return "", fmt.Errorf("неизвестное подразделение %q, допустимые: %s", s, strings.Join(names, ", "))
	}
	return d, nil
}
