package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/session"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account after confirming it with the backend",
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

		st, err := waitForSettled(ctx, a.Session(), 30*time.Second)
		if err != nil {
			return err
		}
		if st != session.AuthenticatedConfirmed {
			return fmt.Errorf("not signed in; run `pulse login` first")
		}

		cred, _ := a.Session().Credential()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:    %s\n", cred.User.ID)
		fmt.Fprintf(out, "name:  %s\n", cred.User.Name)
		fmt.Fprintf(out, "email: %s\n", cred.User.Email)
		if cred.User.Role != "" {
			fmt.Fprintf(out, "role:  %s\n", cred.User.Role)
		}
		return nil
	},
}
