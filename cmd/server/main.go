package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	var (
		configPath string
		port       string
		logLevel   string
		logFormat  string
		origins    []string
		trustProxy bool
	)

	flagSet := pflag.NewFlagSet("roomchat", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("ROOMCHAT_CONFIG"), "path to a YAML config file")
	flagSet.StringVar(&port, "port", "", "listen address, overrides config and SERVER_PORT (e.g. :8080)")
	flagSet.StringSliceVar(&origins, "allowed-origin", nil, "allowed WebSocket origin; repeat or comma-separate, * allows all")
	flagSet.BoolVar(&trustProxy, "trust-forwarded-for", false, "take the client address from X-Forwarded-For")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}
		return 0, err
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return 0, err
	}
	slog.SetDefault(logger)

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return 0, err
	}
	if port != "" {
		cfg.Port = port
	}
	if len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	if flagSet.Changed("trust-forwarded-for") {
		cfg.TrustForwardedFor = trustProxy
	}

	logger.Info("Starting room chat server...")

	srv := server.New(cfg, server.WithLogger(logger))
	cfg = srv.Config()
	srv.Start()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())
	listenErr := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"server": func(context.Context) error {
				return srv.Shutdown(httpServer, cfg.ShutdownTimeout)
			},
		})

	select {
	case err := <-listenErr:
		return 1, fmt.Errorf("listening on %s: %w", cfg.Port, err)
	case code := <-wait:
		logger.Info("Server exited", "code", code)
		return code, nil
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
