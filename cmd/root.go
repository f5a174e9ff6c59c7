// Package cmd defines the license-resolver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/license-resolver/internal/app"
	"github.com/JakeFAU/license-resolver/internal/config"
)

// Version is stamped at build time.
var Version = "dev"

// Process exit codes.
const (
	ExitOK           = 0
	ExitFatal        = 1
	ExitVerification = 2
	ExitPartial      = 3
)

// ExitError carries the process exit code for a failed or partial command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type configKeyType struct{}

var configKey configKeyType

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.Build(ctx, cfg, app.WithVersion(Version))
}

// flagBindings maps persistent flags onto config keys.
var flagBindings = map[string]string{
	"listings":    "data.listings",
	"licenses":    "data.licenses",
	"concurrency": "resolver.concurrency",
	"limit":       "resolver.limit",
	"write":       "resolver.write",
	"reports":     "reports.backend",
	"reports-dir": "reports.dir",
	"dev-log":     "logging.development",
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "license-resolver",
		Short:         "Assigns license categories to catalog listings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, bindFlags(cmd.Flags()))
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.String("listings", "", "path to the listings collection")
	flags.String("licenses", "", "path to the licenses collection")
	flags.Int("concurrency", 0, "number of records resolved in parallel")
	flags.Int("limit", 0, "resolve at most this many records per pass (0 = all)")
	flags.Bool("write", false, "persist merged results to the dataset")
	flags.String("reports", "", "report backend: local, memory or gcs")
	flags.String("reports-dir", "", "directory for the local report backend")
	flags.Bool("dev-log", false, "human-readable development logging")

	cmd.AddCommand(newResolveCmd(), newRunCmd(), newReconcileCmd(), newVerifyCmd())
	return cmd
}

// bindFlags binds only flags the user set, so unset flags never mask file or
// environment values.
func bindFlags(flags *pflag.FlagSet) func(*viper.Viper) error {
	return func(v *viper.Viper) error {
		var err error
		flags.Visit(func(f *pflag.Flag) {
			key, ok := flagBindings[f.Name]
			if !ok || err != nil {
				return
			}
			err = v.BindPFlag(key, f)
		})
		return err
	}
}

func configFrom(cmd *cobra.Command) (config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func buildApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

func closeApp(cmd *cobra.Command, a *app.App) {
	if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "error:", err)
	return ExitFatal
}

// Main is the entry point used by package main.
func Main() {
	os.Exit(Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
