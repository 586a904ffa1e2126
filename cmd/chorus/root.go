package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chorus/internal/infra/config"
	"chorus/internal/infra/logger"
	"chorus/internal/infra/tracer"
)

const defaultConfigPath = "chorus.yaml"

// app carries the process-wide state every subcommand shares.
type app struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
	cleanup    []func(context.Context) error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "chorus",
		Short:         "Run turn-taking conversations between AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	path := os.Getenv("CHORUS_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", path, "path to the YAML config file")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newAgentsCmd(a),
		newModelsCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.cleanup = append(a.cleanup, func(context.Context) error { return closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	a.cleanup = append(a.cleanup, shutdownTracer)
	return nil
}

// shutdown runs cleanups in reverse order. The logger closes last.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}
