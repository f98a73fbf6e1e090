package probe

import (
	"context"
	"fmt"
	"os"

	"recipe-gateway/internal/pkg/session"

	"github.com/spf13/cobra"
)

func newMeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Resolve the current session through /api/me",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			m.Initialize(cmd.Context())
			return printJSON(cmd.OutOrStdout(), report(m.Snapshot(), m.RefreshPending()))
		},
	}
}

type credentialFlags struct {
	username string
	password string
	admin    bool
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "account password (env PROBE_PASSWORD)")
	cmd.Flags().BoolVar(&f.admin, "admin", false, "sign in through the admin login endpoint")
	_ = cmd.MarkFlagRequired("username")
}

func (f *credentialFlags) credentials() (session.Credentials, error) {
	password := f.password
	if password == "" {
		password = os.Getenv("PROBE_PASSWORD")
	}
	if password == "" {
		return session.Credentials{}, fmt.Errorf("password required: pass --password or set PROBE_PASSWORD")
	}
	return session.Credentials{Username: f.username, Password: password, Admin: f.admin}, nil
}

func newLoginCmd(opts *options) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print the resulting session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := creds.credentials()
			if err != nil {
				return err
			}
			m, err := opts.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			res, err := m.Login(cmd.Context(), cred)
			if err != nil {
				if res != nil {
					return fmt.Errorf("login rejected (status %d): %s", res.Status, res.Message)
				}
				return fmt.Errorf("login failed: %w", err)
			}

			r := report(m.Snapshot(), m.RefreshPending())
			r.Message = res.Message
			if !res.SessionReady {
				r.Message = "signed in but /api/me did not confirm the session yet"
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	creds.register(cmd)
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in and keep the session refreshed, printing every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := creds.credentials()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var m *session.Manager
			m, err = opts.manager(session.WithOnChange(func(s session.Session) {
				if s.Loading {
					return
				}
				_ = printJSON(out, report(s, m != nil && m.RefreshPending()))
			}))
			if err != nil {
				return err
			}
			defer m.Close()

			if _, err := m.Login(cmd.Context(), cred); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			<-cmd.Context().Done()

			ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
			defer cancel()
			m.Logout(ctx)
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}
