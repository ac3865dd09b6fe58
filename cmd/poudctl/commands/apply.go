package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"poudctl/internal/jailhouse"
)

// Apply returns the command that reconciles the host once.
func Apply(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the host against the manifest",
		Long: `Create, update or destroy jails, ports trees, configuration files and
cron entries so the host matches the manifest. Every operation is
idempotent; running apply twice changes nothing the second time.

Examples:
  poudctl apply
  POUDCTL_EXECUTOR=docker POUDCTL_DOCKER_CONTAINER=builder poudctl apply
` + dockerModeHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := newSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.Close()

			desired, err := loadDesired(sess.settings.Manifest)
			if err != nil {
				return err
			}
			if err := sess.manager.Start(cmd.Context()); err != nil {
				return err
			}

			run, err := sess.manager.Reconcile(cmd.Context(), desired)
			if run != nil {
				if printErr := printRun(cmd.OutOrStdout(), run); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}
}

func printRun(out io.Writer, run *jailhouse.RunReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tOPERATION\tSTATUS\tDURATION")
	for _, report := range run.Reports {
		for _, res := range report.Results {
			duration := ""
			if res.Duration > 0 {
				duration = res.Duration.Round(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", report.Subject, res.Key, res.Status, duration)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, warning := range run.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning.Message)
	}
	fmt.Fprintf(out, "run %s: %d changed, %d failed, %d skipped\n", run.RunID, run.Changed, run.Failed, run.Skipped)
	return nil
}
