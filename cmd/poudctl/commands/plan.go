package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"poudctl/internal/executor"
	"poudctl/internal/jailhouse"
)

// Plan returns the command that prints what apply would do.
func Plan(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the operations the manifest expands to",
		Long: `Validate the manifest and print every operation apply would run,
in order. Nothing on the host is changed.

Examples:
  poudctl plan -m /usr/local/etc/poudctl/manifest.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.loadSettings()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), s.LogLevel)

			desired, err := loadDesired(s.Manifest)
			if err != nil {
				return err
			}

			mgr, err := jailhouse.NewManager(jailhouse.Config{
				Layout:    s.Layout(),
				Executor:  executor.NewLocalExecutor(logger),
				StatePath: s.StatePath,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			plans, err := mgr.Plan(desired)
			if err != nil {
				return err
			}
			return printPlans(cmd.OutOrStdout(), plans)
		},
	}
}

func printPlans(out io.Writer, plans []*jailhouse.Plan) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, plan := range plans {
		if len(plan.Operations) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\n", plan.Subject)
		for _, op := range plan.Operations {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", op.Kind, op.Key, describe(op))
		}
		for _, warning := range plan.Warnings {
			fmt.Fprintf(w, "  warning\t%s\t%s\n", warning.Code, warning.Message)
		}
	}
	return w.Flush()
}

func describe(op jailhouse.Operation) string {
	switch op.Kind {
	case jailhouse.OpExec:
		guard := ""
		switch {
		case op.Guard.Creates != "":
			guard = " (unless " + op.Guard.Creates + " exists)"
		case op.Guard.OnlyIf != nil:
			guard = fmt.Sprintf(" (if %q is listed by %s)", op.Guard.OnlyIf.Match, op.Guard.OnlyIf.Command.String())
		}
		return op.Command.String() + guard
	default:
		parts := []string{string(op.Ensure)}
		if op.Source != "" {
			parts = append(parts, "from "+op.Source)
		}
		if len(op.Requires) > 0 {
			parts = append(parts, "after "+strings.Join(op.Requires, ","))
		}
		return strings.Join(parts, " ")
	}
}
