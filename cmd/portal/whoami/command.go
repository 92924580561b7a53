package whoami

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockway/portal/internal/business"
	"github.com/stockway/portal/internal/cmdutils"
	"github.com/stockway/portal/internal/config"
	"github.com/stockway/portal/internal/guard"
	"github.com/stockway/portal/internal/prompt"
	"github.com/stockway/portal/internal/session"
)

func Cmd(buildInfo string) *cobra.Command {
	var refresh bool

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"whoami",
		"Show the signed-in user",
		"Show the stored session. With --refresh the token is validated against the backend first, and a rejected token signs you out.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			client, err := business.InitClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			return whoami(ctx, client.Store, refresh, time.Now(), cmd.OutOrStdout())
		},
	)

	cmd.Flags().BoolVar(&refresh, "refresh", false, "validate the token against the backend")

	return cmd
}

func whoami(ctx context.Context, store *session.Store, refresh bool, now time.Time, out io.Writer) error {
	if refresh {
		if err := store.RefreshFromServer(ctx); err != nil {
			return prompt.Fail(out, err)
		}
	}

	snap := store.Snapshot()
	if !snap.IsAuthenticated() {
		_, _ = fmt.Fprintln(out, prompt.Muted.Render("Not signed in"))
		return nil
	}

	_, _ = fmt.Fprintln(out, prompt.Title.Render(snap.Identity.DisplayName()))
	if snap.Identity.Email != "" {
		_, _ = fmt.Fprintln(out, prompt.Field("Email", snap.Identity.Email))
	}
	if snap.Identity.PhoneNumber != "" {
		_, _ = fmt.Fprintln(out, prompt.Field("Phone", snap.Identity.PhoneNumber))
	}
	_, _ = fmt.Fprintln(out, prompt.Field("Role", snap.Role().String()))
	_, _ = fmt.Fprintln(out, prompt.Field("Landing", guard.LandingPath(true, snap.Role())))

	switch {
	case snap.ExpiresAt.IsZero():
	case snap.Expired(now):
		_, _ = fmt.Fprintln(out, prompt.Field("Expires", prompt.Warning.Render("expired, run with --refresh")))
	default:
		_, _ = fmt.Fprintln(out, prompt.Field("Expires", snap.ExpiresAt.Format(time.RFC3339)))
	}

	return nil
}
