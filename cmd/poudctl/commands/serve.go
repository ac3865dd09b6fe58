package commands

import (
	"github.com/spf13/cobra"

	"poudctl/internal/config"
	"poudctl/internal/daemon"
	"poudctl/internal/jailhouse"
)

// Serve returns the command that runs the reconcile daemon.
func Serve(opts *globalOptions) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconcile daemon and HTTP API",
		Long: `Reconcile on start, every interval, and whenever the manifest file
changes. The HTTP API exposes status, managed jails, the audit history
and Prometheus metrics.

Environment variables:
  POUDCTL_LISTEN    API listen address (default 127.0.0.1:8420)
  POUDCTL_INTERVAL  periodic reconcile interval, 0 disables (default 15m)
` + dockerModeHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := newSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.manager.Start(cmd.Context()); err != nil {
				return err
			}

			var watcher *config.Watcher
			if !noWatch {
				watcher, err = config.NewWatcher(sess.settings.Manifest, sess.logger)
				if err != nil {
					return err
				}
			}

			manifest := sess.settings.Manifest
			srv, err := daemon.NewServer(daemon.Config{
				Manager:   sess.manager,
				Load:      func() (jailhouse.Desired, error) { return loadDesired(manifest) },
				Watcher:   watcher,
				Addr:      sess.settings.Listen,
				Interval:  sess.settings.Interval,
				AuditPath: sess.settings.AuditPath,
				Manifest:  manifest,
				Logger:    sess.logger,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reconcile when the manifest file changes")
	return cmd
}
