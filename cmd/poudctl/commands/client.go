package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"poudctl/internal/audit"
	"poudctl/internal/daemon"
	"poudctl/internal/jailhouse"
)

// Client talks to a running poudctl daemon.
type Client struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

func newClient(baseURL string, out io.Writer) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		out:     out,
	}
}

func (c *Client) do(ctx context.Context, method, path string, wantStatus int, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Status displays the daemon status and the last reconcile pass.
func (c *Client) Status(ctx context.Context) error {
	var status daemon.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", http.StatusOK, &status); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Status: %s\n", status.Status)
	fmt.Fprintf(c.out, "Uptime: %s\n", (time.Duration(status.Uptime) * time.Second).String())
	if status.Manifest != "" {
		fmt.Fprintf(c.out, "Manifest: %s\n", status.Manifest)
	}
	if status.Interval != "" {
		fmt.Fprintf(c.out, "Interval: %s\n", status.Interval)
	}
	fmt.Fprintf(c.out, "Managed jails: %d\n", status.Jails)
	if status.Running {
		fmt.Fprintln(c.out, "Reconcile in progress")
	}

	run := status.LastRun
	if run == nil {
		fmt.Fprintln(c.out, "Last run: never")
		return nil
	}
	fmt.Fprintf(c.out, "Last run: %s at %s (%s)\n", run.RunID, run.Started.Format(time.DateTime), run.Duration.Round(time.Millisecond))
	fmt.Fprintf(c.out, "  changed %d, failed %d, skipped %d, warnings %d\n", run.Changed, run.Failed, run.Skipped, len(run.Warnings))
	if run.Error != "" {
		fmt.Fprintf(c.out, "  error: %s\n", run.Error)
	}
	return nil
}

// ListJails displays every managed jail.
func (c *Client) ListJails(ctx context.Context) error {
	var jails []*jailhouse.JailState
	if err := c.do(ctx, http.MethodGet, "/api/jails", http.StatusOK, &jails); err != nil {
		return err
	}

	if len(jails) == 0 {
		fmt.Fprintln(c.out, "No managed jails")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tJAIL\tVERSION\tPORTS\tENSURE\tCRON\tRESULT\tUPDATED")
	for _, j := range jails {
		cron := "no"
		if j.CronEnabled {
			cron = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.Name, j.JailName, j.Version, j.PortsTree, j.Ensure, cron, j.LastResult,
			j.UpdatedAt.Format(time.DateTime))
	}
	return w.Flush()
}

// GetJail displays one managed jail.
func (c *Client) GetJail(ctx context.Context, name string) error {
	var j jailhouse.JailState
	if err := c.do(ctx, http.MethodGet, "/api/jails/"+url.PathEscape(name), http.StatusOK, &j); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Name:       %s\n", j.Name)
	fmt.Fprintf(c.out, "Jail:       %s\n", j.JailName)
	fmt.Fprintf(c.out, "Version:    %s\n", j.Version)
	if j.Arch != "" {
		fmt.Fprintf(c.out, "Arch:       %s\n", j.Arch)
	}
	fmt.Fprintf(c.out, "Ports tree: %s\n", j.PortsTree)
	fmt.Fprintf(c.out, "Ensure:     %s\n", j.Ensure)
	fmt.Fprintf(c.out, "Cron:       %t\n", j.CronEnabled)
	fmt.Fprintf(c.out, "Result:     %s\n", j.LastResult)
	fmt.Fprintf(c.out, "Updated:    %s\n", j.UpdatedAt.Format(time.DateTime))
	return nil
}

// History displays the most recent audit entries.
func (c *Client) History(ctx context.Context, limit int) error {
	var entries []audit.Entry
	path := "/api/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, http.StatusOK, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No audit history")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tSUBJECT\tOPERATION\tSTATUS\tDURATION")
	for _, e := range entries {
		duration := ""
		if e.Duration > 0 {
			duration = fmt.Sprintf("%.0fms", e.Duration)
		}
		timestamp := e.Timestamp
		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			timestamp = t.Local().Format("15:04:05")
		}
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			timestamp, run, e.Subject, e.Op, e.Status, duration)
	}
	return w.Flush()
}

// Reconcile asks the daemon for an immediate pass.
func (c *Client) Reconcile(ctx context.Context) error {
	var result map[string]string
	if err := c.do(ctx, http.MethodPost, "/api/reconcile", http.StatusAccepted, &result); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Reconcile %s\n", result["status"])
	return nil
}

// Status returns the command that shows daemon status.
func Status(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and the last reconcile pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(opts.apiURL, cmd.OutOrStdout()).Status(cmd.Context())
		},
	}
}

// Jails returns the command that lists managed jails.
func Jails(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jails [name]",
		Short: "List managed jails, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(opts.apiURL, cmd.OutOrStdout())
			if len(args) == 1 {
				return client.GetJail(cmd.Context(), args[0])
			}
			return client.ListJails(cmd.Context())
		},
	}
}

// History returns the command that prints the audit log.
func History(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent operations from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return newClient(opts.apiURL, cmd.OutOrStdout()).History(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}

// Reconcile returns the command that triggers a daemon pass.
func Reconcile(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Ask the daemon to reconcile now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(opts.apiURL, cmd.OutOrStdout()).Reconcile(cmd.Context())
		},
	}
}
