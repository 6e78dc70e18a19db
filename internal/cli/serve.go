package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/classwatch/internal/app"
	"github.com/roach88/classwatch/internal/config"
	"github.com/roach88/classwatch/internal/logging"
)

// ServeOptions holds flags for the serve command. Set flags override the
// CLASSWATCH_* environment.
type ServeOptions struct {
	*RootOptions
	Addr       string
	LogLevel   string
	LogFormat  string
	TraceDB    string
	RulesDir   string
	FramesDir  string
	Detections string
	Device     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and its HTTP API",
		Long: `Run the capture and detect cadences and serve the HTTP API until
interrupted.

Settings come from CLASSWATCH_* environment variables; flags override them.
Rules in --rules-dir are loaded on top of the built-in rules.

Examples:
  classwatch serve
  classwatch serve --addr :8080 --trace-db trace.db
  classwatch serve --frames-dir ./frames --detections ./detections.yaml
  CLASSWATCH_CAPTURE_FPS=2 classwatch serve --log-format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	cmd.Flags().StringVar(&opts.TraceDB, "trace-db", "", "record flows into this SQLite database")
	cmd.Flags().StringVar(&opts.RulesDir, "rules-dir", "", "directory of extra CUE rules")
	cmd.Flags().StringVar(&opts.FramesDir, "frames-dir", "", "read frames from this directory instead of synthesizing them")
	cmd.Flags().StringVar(&opts.Detections, "detections", "", "YAML file of scripted detections")
	cmd.Flags().StringVar(&opts.Device, "device", "", "camera device identifier")

	return cmd
}

// serveConfig merges the environment with the flags that were set.
func serveConfig(opts *ServeOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	overrides := []struct {
		flag  string
		value string
		dst   *string
	}{
		{"addr", opts.Addr, &cfg.Addr},
		{"log-level", opts.LogLevel, &cfg.LogLevel},
		{"log-format", opts.LogFormat, &cfg.LogFormat},
		{"trace-db", opts.TraceDB, &cfg.TraceDB},
		{"rules-dir", opts.RulesDir, &cfg.RulesDir},
		{"frames-dir", opts.FramesDir, &cfg.FramesDir},
		{"detections", opts.Detections, &cfg.DetectionsFile},
		{"device", opts.Device, &cfg.Device},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.dst = o.value
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := serveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	var appOpts []app.Option
	if cfg.RulesDir != "" {
		loaded, err := LoadRules(cfg.RulesDir)
		if err != nil {
			return WrapExitError(ExitCommandError, "load rules", err)
		}
		logger.Info("rules loaded", "dir", cfg.RulesDir, "files", len(loaded.Files), "rules", len(loaded.Rules))
		appOpts = append(appOpts, app.WithRules(loaded.Rules))
	}

	sys, err := app.New(cfg, logger, appOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "start", err)
	}
	defer sys.Close()

	logger.Info("classwatch starting", "addr", cfg.Addr, "device", cfg.Device, "trace_db", cfg.TraceDB)
	if err := sys.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "serve", err)
	}
	logger.Info("classwatch stopped")
	return nil
}
