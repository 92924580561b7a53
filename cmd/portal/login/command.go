package login

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

type options struct {
	email    string
	password string
	otp      bool
	code     string
	next     string
}

func Cmd(buildInfo string) *cobra.Command {
	opts := &options{}

	var cmd *cobra.Command
	cmd = cmdutils.CobraCommand(
		"login",
		"Sign in to the Stockway portal",
		"Sign in with a password or, with --otp, a one-time code sent by email. Missing values are prompted for.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			return run(ctx, cfg, opts, prompt.Terminal{}, cmd.OutOrStdout())
		},
	)

	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "account password")
	cmd.Flags().BoolVar(&opts.otp, "otp", false, "sign in with a one-time code instead of a password")
	cmd.Flags().StringVar(&opts.code, "code", "", "one-time code already received, implies --otp")
	cmd.Flags().StringVar(&opts.next, "next", "", "portal path to open after signing in")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, opts *options, p prompt.Prompter, out io.Writer) error {
	client, err := business.InitClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return login(ctx, client.Store, opts, p, out)
}

func login(ctx context.Context, store *session.Store, opts *options, p prompt.Prompter, out io.Writer) error {
	email, err := prompt.Value(p, opts.email, "Email", "you@example.com")
	if err != nil {
		return err
	}

	cred := session.Credential{Email: email}

	if opts.otp || opts.code != "" {
		if opts.code == "" {
			challenge, err := store.RequestOTP(ctx, email)
			if err != nil {
				return prompt.Fail(out, err)
			}

			message := challenge.Message
			if message == "" {
				message = "A code was sent to " + email
			}
			_, _ = fmt.Fprintln(out, prompt.Muted.Render(message))
		}

		cred.OTP, err = prompt.SecretValue(p, opts.code, "Code")
	} else {
		cred.Password, err = prompt.SecretValue(p, opts.password, "Password")
	}
	if err != nil {
		return err
	}

	if err := store.SignIn(ctx, cred); err != nil {
		return prompt.Fail(out, err)
	}

	snap := store.Snapshot()

	_, _ = fmt.Fprintln(out, prompt.Success.Render("Signed in as "+snap.Identity.DisplayName()))
	_, _ = fmt.Fprintln(out, prompt.Field("Role", snap.Role().String()))
	_, _ = fmt.Fprintln(out, prompt.Field("Open", guard.DefaultAreas().AfterLogin(true, snap.Role(), opts.next)))

	return nil
}
