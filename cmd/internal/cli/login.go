package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulse/cmd/internal/session"
)

var (
	flagEmail    string
	flagPassword string
	flagName     string
	flagRegister bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and persist the session",
	Long: `Sign in against the backend and persist the issued credential, so later
commands and restarts reuse it without asking again.

With --register a new account is created first.`,
	RunE: runLogin,
}

func init() {
	f := loginCmd.Flags()
	f.StringVar(&flagEmail, "email", "", "account email")
	f.StringVar(&flagPassword, "password", "", "account password (read from stdin when omitted)")
	f.StringVar(&flagName, "name", "", "display name (only with --register)")
	f.BoolVar(&flagRegister, "register", false, "create the account before signing in")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	email := strings.TrimSpace(flagEmail)
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	password := flagPassword
	if password == "" {
		var err error
		password, err = readLine(cmd, "password: ")
		if err != nil {
			return err
		}
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	a, err := newRuntime()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.Start(ctx); err != nil {
		return err
	}

	var (
		c   session.Credential
		did = "signed in"
	)
	if flagRegister {
		name := strings.TrimSpace(flagName)
		if name == "" {
			name = email
		}
		c, err = a.Rest().Register(ctx, name, email, password)
		did = "registered and signed in"
	} else {
		c, err = a.Rest().Login(ctx, email, password)
	}
	if err != nil {
		return err
	}

	if err := a.Session().SetAuth(c.Token, c.User); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s as %s (%s)\n", did, c.User.Name, c.User.Email)
	return nil
}

func readLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	r := bufio.NewReader(cmd.InOrStdin())
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
