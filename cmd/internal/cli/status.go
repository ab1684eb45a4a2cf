package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and channel health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newRuntime()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.Start(ctx); err != nil {
			return err
		}

		// Best effort: give confirmation and the dial a moment, then report
		// whatever state things are in.
		settled, _ := waitForSettled(ctx, a.Session(), 5*time.Second)
		time.Sleep(100 * time.Millisecond)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session:    %s\n", settled)
		if cred, ok := a.Session().Credential(); ok {
			fmt.Fprintf(out, "account:    %s (%s)\n", cred.User.Name, cred.User.Email)
		}
		fmt.Fprintf(out, "connection: %s\n", a.Channel().ConnectionState())

		printChannelCounters(out, a)
		return nil
	},
}

func printChannelCounters(out io.Writer, a *app.App) {
	families, err := a.Registry().Gather()
	if err != nil {
		return
	}
	wanted := map[string]string{
		"pulse_realtime_reconnects_total":     "reconnects",
		"pulse_realtime_messages_total":       "messages",
		"pulse_realtime_dropped_frames_total": "dropped",
	}
	for _, f := range families {
		label, ok := wanted[f.GetName()]
		if !ok || len(f.GetMetric()) == 0 {
			continue
		}
		fmt.Fprintf(out, "%-11s %.0f\n", label+":", f.GetMetric()[0].GetCounter().GetValue())
	}
}
