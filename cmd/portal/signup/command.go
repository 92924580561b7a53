package signup

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
	"github.com/stockway/portal/internal/role"
	"github.com/stockway/portal/internal/session"
)

type options struct {
	email    string
	password string
	confirm  string
}

func Cmd(buildInfo string) *cobra.Command {
	opts := &options{}

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"signup",
		"Create a Stockway account",
		"Create an account and sign in with it. New accounts wait for approval before a dashboard opens.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			return run(ctx, cfg, opts, prompt.Terminal{}, cmd.OutOrStdout())
		},
	)

	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "account password")
	cmd.Flags().StringVar(&opts.confirm, "confirm-password", "", "account password, again")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, opts *options, p prompt.Prompter, out io.Writer) error {
	client, err := business.InitClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return signup(ctx, client.Store, opts, p, out)
}

func signup(ctx context.Context, store *session.Store, opts *options, p prompt.Prompter, out io.Writer) error {
	email, err := prompt.Value(p, opts.email, "Email", "you@example.com")
	if err != nil {
		return err
	}

	password, err := prompt.SecretValue(p, opts.password, "Password")
	if err != nil {
		return err
	}

	confirm, err := prompt.SecretValue(p, opts.confirm, "Confirm password")
	if err != nil {
		return err
	}

	if err := store.SignUp(ctx, session.Credential{Email: email, Password: password}, confirm); err != nil {
		return prompt.Fail(out, err)
	}

	snap := store.Snapshot()

	_, _ = fmt.Fprintln(out, prompt.Success.Render("Account created for "+snap.Identity.DisplayName()))
	if snap.Role() == role.Pending {
		_, _ = fmt.Fprintln(out, prompt.Warning.Render("Your account is waiting for approval"))
		return nil
	}
	_, _ = fmt.Fprintln(out, prompt.Field("Open", guard.LandingPath(true, snap.Role())))

	return nil
}
