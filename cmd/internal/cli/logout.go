package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/session"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the persisted credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newRuntime()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(cmd.Context()); err != nil {
			return err
		}

		wasSignedIn := a.Session().State() != session.Unauthenticated
		if err := a.Session().Logout(); err != nil {
			return err
		}

		if wasSignedIn {
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
		}
		return nil
	},
}
