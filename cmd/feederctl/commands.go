package main

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/catfeeder/internal/api"
	"github.com/nerrad567/catfeeder/internal/feeder"
)

type clientFunc func() *apiClient

func statusCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last and next feeding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report feeder.StatusReport
			if _, err := client().do(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &report); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "last feed:\t%s\n", orDash(report.LastFeed))
			fmt.Fprintf(w, "last portions:\t%s\n", intOrDash(report.LastFeedPortions))
			fmt.Fprintf(w, "last status:\t%s\n", orDash(report.LastFeedStatus))
			fmt.Fprintf(w, "next feed:\t%s\n", orDash(report.NextFeed))
			fmt.Fprintf(w, "next portions:\t%s\n", intOrDash(report.NextFeedPortions))
			fmt.Fprintf(w, "schedule:\t%s\n", enabled(report.ScheduleEnabled))
			return w.Flush()
		},
	}
}

func feedCmd(client clientFunc) *cobra.Command {
	var portions int

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Dispense food now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if portions < 1 {
				return fmt.Errorf("--portions must be at least 1")
			}
			var resp api.FeedResponse
			_, err := client().do(cmd.Context(), http.MethodPost, "/api/v1/feed",
				api.FeedRequest{Portions: &portions}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "feeding %d portion(s), job %s\n", resp.Portions, resp.JobID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&portions, "portions", "p", 1, "Portions per machine")
	return cmd
}

func machinesCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "machines",
		Short: "List dispensers and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.MachinesResponse
			if _, err := client().do(cmd.Context(), http.MethodGet, "/api/v1/machines", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Busy {
				fmt.Fprintln(out, "a feeding job is running")
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tROUNDS LEFT\tMOTOR\tEMPTY TRIES\tMODE")
			for _, m := range resp.Machines {
				mode := "sensed"
				if m.Simulated {
					mode = "timed"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
					m.Name, m.State, m.RoundsRemaining, onOff(m.MotorActive), m.EmptyAttempts, mode)
			}
			return w.Flush()
		},
	}
}

func reloadCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the daemon's configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := client().do(cmd.Context(), http.MethodPost, "/api/v1/reload", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration reloaded")
			return nil
		},
	}
}

func healthCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the daemon and its connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.HealthResponse
			status, err := client().do(cmd.Context(), http.MethodGet, "/api/v1/health", nil, &resp,
				http.StatusServiceUnavailable)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "status:\t%s\n", resp.Status)
			fmt.Fprintf(w, "version:\t%s\n", resp.Version)
			names := make([]string, 0, len(resp.Checks))
			for name := range resp.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "%s:\t%s\n", name, resp.Checks[name])
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("daemon is %s", strings.ToLower(resp.Status))
			}
			return nil
		},
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func intOrDash(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
