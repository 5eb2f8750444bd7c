// Command cleanup deletes data extensions and folders from a Marketing Cloud
// business unit behind protection, dependency and confirmation gates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/natserract/sfclean/pkg/config"
	"github.com/natserract/sfclean/pkg/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:   "cleanup",
		Short: "Safety-gated bulk deletion for Marketing Cloud data extensions",
		Long: `cleanup removes data extensions, and optionally their folders, from one
Marketing Cloud business unit. Credentials and run settings come from the
environment or a .env file in the working directory.

Every deletion is previewed first. Protected objects and data extensions that
other objects depend on stop the run unless explicitly overridden.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetContext(ctx)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.FatalConfigError{Err: err}
	})

	root.AddCommand(
		newDeleteCmd(),
		newResolveCmd(),
		newDepsCmd(),
		newCacheCmd(),
	)
	return root
}

// withApp loads configuration and builds the shared collaborators for fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return &config.FatalConfigError{Err: err}
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func main() {
	ctx, stop := notifyInterrupt(context.Background())
	defer stop()

	err := newRootCmd(ctx).Execute()
	code := orchestrator.ExitCodeFor(err)
	var exit *exitError
	if errors.As(err, &exit) {
		code = exit.code
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(code)
}

// exitError carries an exit code decided by a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}
