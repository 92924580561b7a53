package navigate

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stockway/portal/internal/business"
	"github.com/stockway/portal/internal/cmdutils"
	"github.com/stockway/portal/internal/config"
	"github.com/stockway/portal/internal/guard"
	"github.com/stockway/portal/internal/prompt"
	"github.com/stockway/portal/internal/session"
)

func Cmd(buildInfo string) *cobra.Command {
	var path string

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"navigate <path>",
		"Show where a portal path leads for the stored session",
		"Run the navigation guard against the stored session, without any network call, and print the decision and the resulting path.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			client, err := business.InitClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			return navigate(client.Store.Snapshot(), guard.DefaultAreas(), path, cmd.OutOrStdout())
		},
	)

	cmd.Args = cobra.ExactArgs(1)
	cmd.PreRun = func(_ *cobra.Command, args []string) {
		path = args[0]
	}

	return cmd
}

func navigate(snap session.Snapshot, areas guard.Areas, path string, out io.Writer) error {
	decision, target := areas.Resolve(snap.IsAuthenticated(), snap.Role(), path)

	style := prompt.Success
	switch decision {
	case guard.RedirectLogin:
		style = prompt.Warning
	case guard.RedirectUnauthorized:
		style = prompt.Failure
	}

	_, _ = fmt.Fprintln(out, prompt.Field("Decision", style.Render(decision.String())))
	_, _ = fmt.Fprintln(out, prompt.Field("Path", target))

	return nil
}
