package logout

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stockway/portal/internal/business"
	"github.com/stockway/portal/internal/cmdutils"
	"github.com/stockway/portal/internal/config"
	"github.com/stockway/portal/internal/prompt"
	"github.com/stockway/portal/internal/session"
)

func Cmd(buildInfo string) *cobra.Command {
	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"logout",
		"Sign out of the Stockway portal",
		"Sign out on the backend and remove the stored credentials. The local session is removed even when the backend cannot be reached.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			client, err := business.InitClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			return logout(ctx, client.Store, cmd.OutOrStdout())
		},
	)

	return cmd
}

func logout(ctx context.Context, store *session.Store, out io.Writer) error {
	if err := store.SignOut(ctx); err != nil {
		return prompt.Fail(out, err)
	}

	_, _ = fmt.Fprintln(out, prompt.Success.Render("Signed out"))

	return nil
}
