package cmdutils

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/config"
)

const (
	healthStatusTimeout = 5 * time.Second

	// EnvPrefix prefixes environment variables overriding config.yaml,
	// e.g. PORTAL_API_BASEURL.
	EnvPrefix = "PORTAL"
)

// DefaultConfigDirs are searched for config.yaml, in order.
var DefaultConfigDirs = []string{"/etc/portal", "$HOME/.portal", "."}

// BusinessFunc is what a command does once its configuration is loaded.
type BusinessFunc func(context.Context, *config.Config) error

// Runner prepares the process around a BusinessFunc.
type Runner func(context.Context, BusinessFunc, *config.Config) error

// CobraCommand builds a command that loads the portal configuration and
// hands it to fn through runner. Every command accepts --config-dir.
func CobraCommand(use, short, long, buildInfo string, runner Runner, fn BusinessFunc) *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(buildInfo, configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := runner(cmd.Context(), fn, cfg); err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory searched for config.yaml before the default locations")

	return cmd
}

// RunAsService runs the portal server with telemetry and the status server.
func RunAsService(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return run(ctx, true, fn, cfg)
}

// RunAsJob runs a short lived command such as login or whoami. Only the
// logger is set up; the session file is shared with a running server.
func RunAsJob(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return run(ctx, false, fn, cfg)
}

func run(ctx context.Context, asService bool, fn BusinessFunc, cfg *config.Config) error {
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to initialise the logger")
	}
	slogctx.Debug(ctx, "Starting the portal", slog.Any("config", cfg), "service", asService)

	if asService {
		err = otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger)
		if err != nil {
			return oops.In("main").Wrapf(err, "Failed to load the telemetry")
		}

		go func() {
			err := startStatusServer(ctx, cfg)
			if err != nil {
				slogctx.Error(ctx, "Failure on the status server", "error", err)
				_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	err = fn(ctx, cfg)
	if err != nil {
		return oops.In("main").Wrapf(err, "Failed to run the portal")
	}

	return nil
}

// LoadConfig reads config.yaml from dir, when given, then the default
// locations, applies PORTAL_ environment overrides and stamps the build
// version.
func LoadConfig(buildInfo string, dirs ...string) (*config.Config, error) {
	paths := make([]string, 0, len(dirs)+len(DefaultConfigDirs))
	for _, dir := range dirs {
		if dir != "" {
			paths = append(paths, dir)
		}
	}
	paths = append(paths, DefaultConfigDirs...)

	cfg := &config.Config{}

	loader := commoncfg.NewLoader(cfg,
		commoncfg.WithDefaults(map[string]any{}),
		commoncfg.WithPaths(paths...),
		commoncfg.WithEnvOverride(EnvPrefix),
	)
	if err := loader.LoadConfig(); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	err := commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo)
	if err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	return cfg, nil
}

func statusListener(ctx context.Context, state health.State) {
	attrs := make([]any, 0, 2+2*len(state.CheckState))
	attrs = append(attrs, "status", state.Status)
	for name, check := range state.CheckState {
		attrs = append(attrs, name, check.Status)
	}

	slogctx.Info(ctx, "readiness status changed", attrs...)
}

// backendCheck reports the Stockway API down while it cannot be reached.
// Any HTTP answer counts as reachable.
func backendCheck(baseURL string, client *http.Client) health.Check {
	return health.Check{
		Name: "backend",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
			if err != nil {
				return fmt.Errorf("creating backend request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("reaching backend: %w", err)
			}
			_ = resp.Body.Close()

			return nil
		},
	}
}

func startStatusServer(ctx context.Context, cfg *config.Config) error {
	liveness := status.WithLiveness(
		health.NewHandler(
			health.NewChecker(health.WithDisabledAutostart()),
		),
	)

	healthOptions := []health.Option{
		health.WithDisabledAutostart(),
		health.WithTimeout(healthStatusTimeout),
		health.WithCheck(backendCheck(cfg.API.BaseURL, &http.Client{Timeout: healthStatusTimeout})),
		health.WithStatusListener(statusListener),
	}

	readiness := status.WithReadiness(
		health.NewHandler(
			health.NewChecker(healthOptions...),
		),
	)

	err := status.Start(ctx, &cfg.BaseConfig, liveness, readiness)
	if err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}

	return nil
}
