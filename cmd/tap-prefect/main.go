// Command tap-prefect extracts flow runs, task runs, and events from the
// Prefect Cloud API and emits them as Singer messages on stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/quartzdata/tap-prefect/pkg/client"
	"github.com/quartzdata/tap-prefect/pkg/config"
	"github.com/quartzdata/tap-prefect/pkg/logging"
	"github.com/quartzdata/tap-prefect/pkg/singer"
	"github.com/quartzdata/tap-prefect/pkg/state"
	"github.com/quartzdata/tap-prefect/pkg/stream"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Pretty     bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tap-prefect",
		Short:         "Extract flow runs, task runs, and events from Prefect Cloud",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", false, "human-readable log output")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tap version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tap-prefect", version)
		},
	}
}

// syncOptions holds flags for the sync command.
type syncOptions struct {
	*rootOptions
	Stream string
}

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full extraction and emit Singer messages on stdout",
		Long: `Run an incremental extraction against the Prefect Cloud API.

Flow runs are extracted first; each flow run drives a scoped task-runs
extraction. Events are extracted last. Records are emitted to stdout as
Singer RECORD messages, followed by a final STATE message carrying the
committed bookmarks. Logs go to stderr.

Example:
  tap-prefect sync --config tap.yaml
  PREFECT_API_KEY=pnu_... tap-prefect sync --config tap.yaml --stream events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "sync a single top-level stream instead of all")

	return cmd
}

func runSync(cmd *cobra.Command, opts *syncOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: opts.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	logger := logging.NewLogger("tap-prefect")

	store, cleanup, err := buildStateStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer cleanup()

	ccfg := client.DefaultConfig(cfg.APIKey)
	ccfg.BaseURL = cfg.BaseURL
	apiClient, err := client.New(ccfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	emitter := singer.NewEmitter(cmd.OutOrStdout())
	driver := stream.NewDriver(apiClient, store, emitter, cfg.StartDate)
	driver.Register(stream.NewFlowRuns(cfg))
	driver.Register(stream.NewTaskRuns(cfg))
	driver.Register(stream.NewEvents(cfg))

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("account_id", cfg.AccountID).
		Str("workspace_id", cfg.WorkspaceID).
		Str("start_date", cfg.StartDate).
		Msg("Starting sync")

	if opts.Stream != "" {
		err = driver.SyncStream(ctx, opts.Stream)
	} else {
		err = driver.Sync(ctx)
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	// The final STATE message carries every committed bookmark so a
	// downstream target can persist it for the next invocation.
	if snap, ok := store.(state.Snapshotter); ok {
		if err := emitter.EmitState(map[string]any{"bookmarks": snap.Snapshot()}); err != nil {
			return err
		}
	}

	logger.Info().Msg("Sync complete")
	return nil
}

// buildStateStore picks the bookmark store: Redis when configured,
// otherwise a local JSON file.
func buildStateStore(cfg config.Config) (state.Store, func(), error) {
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis URL: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		return state.NewRedisStore(redisClient), func() { redisClient.Close() }, nil
	}

	store, err := state.NewFileStore(cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}
