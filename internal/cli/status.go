package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mouse/internal/storage/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tunnel status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		out := cmd.OutOrStdout()

		session, err := appInstance.Storage.GetActiveSession(ctx)
		if err != nil {
			return err
		}
		if session == nil {
			fmt.Fprintln(out, field("Status", dimText.Render("○ Not connected")))
			if last, err := appInstance.Storage.ListSessions(ctx, 1); err == nil && len(last) > 0 {
				fmt.Fprintln(out, field("Last", describeEnded(last[0])))
			}
			return nil
		}

		sample, err := appInstance.Storage.GetLatestSample(ctx, session.ID)
		if err != nil {
			return err
		}
		renderStatus(out, session, sample)
		return nil
	},
}

func renderStatus(out io.Writer, s *models.Session, sample *models.Sample) {
	fmt.Fprintln(out, titleText.Render("Tunnel Status"))
	fmt.Fprintln(out, field("Status", okText.Render("● Connected")))
	fmt.Fprintln(out, field("Session", fmt.Sprintf("%d (pid %d)", s.ID, s.PID)))
	fmt.Fprintln(out, field("Interface", fmt.Sprintf("%s, %d queues", s.Interface, s.Queues)))
	fmt.Fprintln(out, field("Remote", s.Remote))
	local := s.Local
	if local == "" {
		local = dimText.Render("not bound yet")
	}
	fmt.Fprintln(out, field("Local", local))
	fmt.Fprintln(out, field("Started", s.StartedAt.Local().Format(time.RFC3339)))
	fmt.Fprintln(out, field("Uptime", s.Duration().Round(time.Second).String()))

	if sample == nil {
		fmt.Fprintln(out, field("Traffic", warnText.Render("no samples yet")))
		return
	}
	fmt.Fprintln(out, field("Sent", fmt.Sprintf("%d packets, %d bytes", sample.TxPackets, sample.TxBytes)))
	fmt.Fprintln(out, field("Received", fmt.Sprintf("%d packets, %d bytes", sample.RxPackets, sample.RxBytes)))
	dropped := fmt.Sprintf("%d", sample.Dropped)
	if sample.Dropped > 0 {
		dropped = warnText.Render(dropped)
	}
	fmt.Fprintln(out, field("Dropped", dropped))
	if sample.Errors > 0 {
		fmt.Fprintln(out, field("Errors", errorText.Render(fmt.Sprintf("%d", sample.Errors))))
	}
	fmt.Fprintln(out, field("Sampled", sample.TakenAt.Local().Format(time.RFC3339)))
}

func describeEnded(s *models.Session) string {
	when := "still open"
	if s.EndedAt != nil {
		when = s.EndedAt.Local().Format(time.RFC3339)
	}
	text := fmt.Sprintf("%s at %s after %s", s.Remote, when, s.Duration().Round(time.Second))
	if s.ExitError != "" {
		text += " " + errorText.Render("("+s.ExitError+")")
	}
	return text
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent tunnel sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sessions, err := appInstance.Storage.ListSessions(context.Background(), limit)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		renderHistory(out, sessions)
		return nil
	},
}

func renderHistory(out io.Writer, sessions []*models.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tREMOTE\tTX\tRX\tDROPPED\tSTATE")
	fmt.Fprintln(w, "--\t-------\t--------\t------\t--\t--\t-------\t-----")
	for _, s := range sessions {
		state := "running"
		switch {
		case !s.Active() && s.ExitError != "":
			state = "failed: " + s.ExitError
		case !s.Active():
			state = "ended"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04"), s.Duration().Round(time.Second),
			s.Remote, s.TxBytes, s.RxBytes, s.Dropped, state)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d sessions\n", len(sessions))
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of sessions to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}
