package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tapestore/internal/config"
	"github.com/roach88/tapestore/internal/partition"
	"github.com/roach88/tapestore/internal/telemetry"
)

// session is one opened partition plus the output plumbing of a command.
type session struct {
	ctx       context.Context
	partition *partition.Partition
	store     partition.CommitStore
	formatter *OutputFormatter
	logger    *slog.Logger
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// newLogger builds the text logger used by every command. Debug is enabled
// with --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	overridden := false
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{opts.DataDir, &cfg.DataDir},
		{opts.DBName, &cfg.DBName},
		{opts.Namespace, &cfg.Namespace},
		{opts.Partition, &cfg.Partition},
	} {
		if o.flag != "" {
			*o.dst = o.flag
			overridden = true
		}
	}
	if overridden {
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// openSession loads config and opens the selected partition. The caller must
// call close.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	formatter := newFormatter(opts, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, formatter.FailWith(ErrCodeConfig, ExitCommandError, "failed to load config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p := partition.New(cfg.Partition, cfg.SchemaOptions(logger), partition.WithLogger(logger))
	formatter.VerboseLog("Opening partition %s in %s", p.ID(), cfg.DataDir)
	if err := p.Open(ctx); err != nil {
		return nil, formatter.Fail("failed to open partition", err)
	}

	var store partition.CommitStore = p
	if cfg.Telemetry {
		store = telemetry.WithTelemetry(p)
	}
	return &session{ctx: ctx, partition: p, store: store, formatter: formatter, logger: logger}, nil
}

func (s *session) close() {
	if err := s.partition.Close(); err != nil {
		s.logger.Error("error closing partition", "error", err)
	}
}
