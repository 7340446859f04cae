package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/notely/internal/app"
	"github.com/dharsanguruparan/notely/internal/config"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/notify"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !silent(err) {
			fmt.Fprintf(os.Stderr, "notely: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notely",
		Short: "Turn lecture videos and documents into study notes",
		Long: `notely submits videos and documents to the note generation service, follows
their processing until notes are ready, and manages the resulting notes,
documents and settings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults to $NOTELY_CONFIG)")
	cmd.AddCommand(
		newSubmitCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newNotesCmd(),
		newDocumentsCmd(),
		newSettingsCmd(),
		newDashboardCmd(),
	)
	return cmd
}

// loadApp reads configuration and wires the client for one command.
func loadApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return app.New(cmd.Context(), cfg, log, app.WithSinks(notify.NewWriterSink(cmd.ErrOrStderr())))
}

// runWithApp wires the client, runs fn and releases the client afterwards.
func runWithApp(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// exitError fails the command without printing err a second time.
type exitError struct{ err error }

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// silent reports whether err was already shown to the user.
func silent(err error) bool {
	var ee *exitError
	return notify.Reported(err) || errors.As(err, &ee)
}
