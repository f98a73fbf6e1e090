// Package probe implements the sessionprobe CLI: a headless client that drives
// the gateway's session relay the way a browser would.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"recipe-gateway/internal/domain/auth"
	"recipe-gateway/internal/pkg/jwt"
	"recipe-gateway/internal/pkg/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	gateway string
	verbose bool
	timeout time.Duration
}

// NewRootCmd builds the sessionprobe command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sessionprobe",
		Short: "Exercise the gateway session relay from the command line",
		Long: `sessionprobe signs in through the gateway, resolves the session via
/api/me and keeps it refreshed, printing each session change as JSON.

Examples:
  # Show the anonymous session
  sessionprobe me

  # Sign in as an admin and print the session
  sessionprobe login --username admin --admin

  # Sign in and keep the session refreshed until interrupted
  sessionprobe watch --username cook
`,
		SilenceUsage: true,
	}

	gateway := os.Getenv("GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:3000"
	}
	root.PersistentFlags().StringVar(&opts.gateway, "gateway", gateway, "gateway base URL (env GATEWAY_URL)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log manager activity to stderr")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")

	root.AddCommand(newMeCmd(opts), newLoginCmd(opts), newWatchCmd(opts))
	return root
}

// Execute runs the CLI with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *options) manager(extra ...session.Option) (*session.Manager, error) {
	logger := zap.NewNop()
	if o.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		logger = l
	}
	opts := append([]session.Option{session.WithHTTPClient(&http.Client{Timeout: o.timeout})}, extra...)
	return session.NewManager(o.gateway, logger, opts...)
}

// Report is the JSON printed for a session snapshot.
type Report struct {
	State           string          `json:"state"`
	User            *auth.Principal `json:"user"`
	AccessExpiresAt *time.Time      `json:"access_expires_at,omitempty"`
	RefreshPending  bool            `json:"refresh_pending"`
	Message         string          `json:"message,omitempty"`
}

func report(s session.Session, pending bool) Report {
	r := Report{State: s.State.String(), User: s.User, RefreshPending: pending}
	if claims, err := jwt.Decode(s.AccessToken); err == nil {
		if exp, ok := claims.Expiry(); ok {
			r.AccessExpiresAt = &exp
		}
	}
	return r
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
