package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bigkaa/memberportal/internal/authz"
	"github.com/bigkaa/memberportal/internal/domain/model"
	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

// capability — проверяемое право; needsDivision — требуется подразделение.
type capability struct {
	check         func(p *model.Principal, d rbac.Division) bool
	needsDivision bool
}

var capabilities = map[string]capability{
	"view-members":     {check: viewMembers},
	"add-member":       {check: authz.CanAddMember, needsDivision: true},
	"edit-rule":        {check: authz.CanEditAttendanceRule, needsDivision: true},
	"manage-events":    {check: authz.CanManageEvents, needsDivision: true},
	"manage-resources": {check: manageResources},
}

func viewMembers(p *model.Principal, _ rbac.Division) bool {
	return authz.CanViewMembers(p)
}

func manageResources(p *model.Principal, _ rbac.Division) bool {
	return authz.CanManageResources(p)
}

func capabilityNames() []string {
	names := make([]string, 0, len(capabilities))
	for name := range capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newCanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can <capability> [division]",
		Short: "Проверить право текущего пользователя (код выхода 3, если запрещено).",
		Long: "Права: " + strings.Join(capabilityNames(), ", ") + ".\n" +
			"Проверка выполняется локально по роли из сессии, без обращения к API.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ok := capabilities[args[0]]
			if !ok {
				return &exitError{code: exitUsage, err: fmt.Errorf("неизвестное право %q, допустимые: %s",
					args[0], strings.Join(capabilityNames(), ", "))}
			}

			var division rbac.Division
			if c.needsDivision {
				if len(args) < 2 {
					return &exitError{code: exitUsage, err: fmt.Errorf("%s требует подразделение", args[0])}
				}
				d, err := parseDivision(args[1], true)
				if err != nil {
					return &exitError{code: exitUsage, err: err}
				}
				division = d
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if c.check(a.portal.Guard().Principal(), division) {
				cmd.Println("yes")
				return nil
			}
			cmd.Println("no")
			return &exitError{code: exitDenied, silent: true}
		},
	}
}
