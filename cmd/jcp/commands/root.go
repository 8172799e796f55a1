package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/jcp/internal/profile"
	"github.com/hrygo/jcp/plugin/vector"
	"github.com/hrygo/jcp/plugin/vector/backends"
	"github.com/hrygo/jcp/store"
	"github.com/hrygo/jcp/store/db"
)

var (
	// Global flags
	envFile      string
	verbose      bool
	formatOutput string

	// Loaded on first use so that commands like 'jcp version' work without
	// a valid configuration.
	globalProfile *profile.Profile
)

var rootCmd = &cobra.Command{
	Use:   "jcp",
	Short: "Profile similarity search over a vector index and a metadata table",
	Long: `jcp - look up a profile vector, find its nearest neighbors and join
their metadata rows.

Configuration is read from the environment and the --env-file dotenv file.

Examples:
  # Seed a local demo and query it
  jcp init-schema
  jcp seed-metadata
  jcp seed-vectors --dataset orf --dim 128
  jcp smoke --id demo_0

  # Serve the UI on JCP_PORT
  jcp serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logWriter = cmd.ErrOrStderr()
		setupLogger("demo")
	},
}

// logWriter receives slog output; it is the command's stderr.
var logWriter io.Writer = os.Stderr

// setupLogger installs the default slog logger: text in demo and dev, JSON
// in prod.
func setupLogger(mode string) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(logWriter, opts)
	if mode == "prod" {
		handler = slog.NewJSONHandler(logWriter, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to read configuration from")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "output", "o", "table", "output format: table, yaml or json")
}

// GetProfile loads and validates the profile once.
func GetProfile() (*profile.Profile, error) {
	if globalProfile != nil {
		return globalProfile, nil
	}
	p := &profile.Profile{}
	if err := p.FromEnv(envFile); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	globalProfile = p
	setupLogger(p.Mode)
	return p, nil
}

// openStore opens the metadata store. The caller closes it.
func openStore() (*store.Store, *profile.Profile, error) {
	p, err := GetProfile()
	if err != nil {
		return nil, nil, err
	}
	s, err := db.NewStore(p)
	if err != nil {
		return nil, nil, err
	}
	return s, p, nil
}

// openVectors builds the vector service and connects it. The caller closes it.
func openVectors(ctx context.Context) (*vector.Service, *profile.Profile, error) {
	p, err := GetProfile()
	if err != nil {
		return nil, nil, err
	}
	svc, err := backends.NewService(p)
	if err != nil {
		return nil, nil, err
	}
	if err := svc.Connect(ctx); err != nil {
		closeQuietly("vector service", svc)
		return nil, nil, err
	}
	return svc, p, nil
}

func closeQuietly(name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		slog.Warn("failed to close "+name, slog.String("error", err.Error()))
	}
}
