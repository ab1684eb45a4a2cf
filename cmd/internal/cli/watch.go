package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/session"
	v1 "pulse/shared/contracts/realtime/v1"
)

var flagRaw bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live service updates and alerts",
	Long: `Stream live service updates and alerts from the backend until
interrupted. The channel heals itself: when the connection drops it is
retried on a fixed delay for as long as the session stays signed in.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&flagRaw, "raw", false, "print raw frames instead of formatted lines")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newRuntime()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.Start(ctx); err != nil {
		return err
	}

	st, err := waitForSettled(ctx, a.Session(), 30*time.Second)
	if err != nil {
		return err
	}
	if st != session.AuthenticatedConfirmed {
		return fmt.Errorf("not signed in; run `pulse login` first")
	}

	out := cmd.OutOrStdout()
	a.Channel().OnMessage(func(m v1.Message) {
		if flagRaw {
			fmt.Fprintf(out, "%s\n", m.Raw)
			return
		}
		fmt.Fprintln(out, formatMessage(m))
	})

	<-ctx.Done()
	return nil
}

func formatMessage(m v1.Message) string {
	ts := time.Now().Format("15:04:05")
	switch {
	case m.Connected != nil:
		return fmt.Sprintf("%s connected  %s", ts, m.Connected.Message)
	case m.ServiceUpdate != nil:
		u := m.ServiceUpdate
		line := fmt.Sprintf("%s service    %s status=%s", ts, u.Name, u.Status)
		if u.ResponseTimeMs != nil {
			line += fmt.Sprintf(" response_time=%dms", *u.ResponseTimeMs)
		}
		if u.ErrorMessage != "" {
			line += fmt.Sprintf(" error=%q", u.ErrorMessage)
		}
		return line
	case m.Alert != nil:
		return fmt.Sprintf("%s alert      %s: %s", ts, m.Alert.ServiceID, m.Alert.Message)
	default:
		return fmt.Sprintf("%s %s", ts, m.Type)
	}
}
