package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TomKopp/KP-WME-sub000/internal/config"
)

// shutdownGrace bounds how long in-flight HTTP requests may finish after
// a stop signal.
const shutdownGrace = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath  string
	RuntimeID   string
	Listen      string
	Database    string
	Descriptors []string

	// ready, if set, receives the bound listener address once the runtime
	// accepts requests. Used by tests.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a mashup runtime",
		Long: `Start a mashup runtime that answers the migration protocol over HTTP.

The runtime loads its component descriptors, opens its SQLite transaction
journal (creating it if needed), integrates the configured startup
components and serves the protocol and inspection API until interrupted.

Example:
  mashupctl serve --config runtime.yaml
  mashupctl serve --runtime-id d1 --listen 127.0.0.1:7401 --descriptors ./descriptors`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "runtime config file (.yaml, .yml or .toml)")
	cmd.Flags().StringVar(&opts.RuntimeID, "runtime-id", "", "runtime id (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides config)")
	cmd.Flags().StringSliceVar(&opts.Descriptors, "descriptors", nil, "descriptor files or directories (overrides config)")

	return cmd
}

// serveConfig loads the config file, if any, and applies flag overrides.
func serveConfig(opts *ServeOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.RuntimeID != "" {
		cfg.RuntimeID = opts.RuntimeID
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if len(opts.Descriptors) > 0 {
		cfg.Descriptors = opts.Descriptors
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := serveConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel).With("runtime", cfg.RuntimeID)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("opening journal", "path", cfg.DBPath)
	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start runtime", err)
	}
	defer d.close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: d.handler, ReadHeaderTimeout: 10 * time.Second}

	engineDone := make(chan error, 1)
	go func() { engineDone <- d.engine.Run(ctx) }()
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	addr := ln.Addr().String()
	log.Info("runtime listening", "addr", addr, "components", len(d.rt.Containers()))
	fmt.Fprintf(cmd.OutOrStdout(), "Runtime %s listening on %s\n", cfg.RuntimeID, addr)
	if opts.ready != nil {
		opts.ready <- addr
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveDone:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "http server error", err)
		}
		cancel()
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = WrapExitError(ExitFailure, "engine error", err)
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	log.Info("runtime stopped")
	return runErr
}
