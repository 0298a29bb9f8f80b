// Package main is the kestrun host binary. It loads one configuration
// document describing the server and its scripted routes, assembles the
// process logger and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kestrun/kestrun-go/internal/config"
	"github.com/kestrun/kestrun-go/internal/logging"
	"github.com/kestrun/kestrun-go/server"
)

// version is stamped by the build.
var version = "dev"

func main() {
	var configPath string
	var listenAddr string
	var logLevel string
	var showVersion bool

	flag.StringVar(&configPath, "config", ".", "configuration file, or a directory holding config.{json,yaml,yml}")
	flag.StringVar(&listenAddr, "listen", "", "listen address, overriding the configured one")
	flag.StringVar(&logLevel, "log-level", "", "log level, overriding the configured one")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("kestrun %s\n", version)
		return
	}

	if err := run(configPath, listenAddr, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.Server.Logging.Level = logLevel
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Server.Logging.Level,
		File:       cfg.Server.Logging.File,
		MaxSizeMB:  cfg.Server.Logging.MaxSizeMB,
		MaxBackups: cfg.Server.Logging.MaxBackups,
		MaxAgeDays: cfg.Server.Logging.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	logger.WithField("version", version).Info("kestrun starting")

	host, err := newHost(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.Start(ctx, cfg.ListenAddress()); err != nil {
		return err
	}
	logger.Info("kestrun stopped")
	return nil
}

// newHost assembles the server from the document and registers every route.
func newHost(cfg *config.Config, logger *logrus.Logger) (*server.Server, error) {
	options := []server.Option{
		server.WithLogger(logger),
		server.WithPoolMax(cfg.Server.InterpreterPoolMax),
		server.WithAllowedContentTypes(cfg.Server.AllowedContentTypes),
		server.WithAutoErrorContentTypes(cfg.Server.AutoErrorContentTypes),
		server.WithExceptionOptions(server.ExceptionOptions{
			DeferToMiddleware: cfg.Server.Exceptions.DeferToMiddleware,
			IncludeDetails:    cfg.Server.Exceptions.IncludeDetails,
		}),
	}
	if cfg.Server.DefaultCulture != "" {
		options = append(options, server.WithDefaultCulture(cfg.Server.DefaultCulture))
	}
	if !cfg.CompressionEnabled() {
		options = append(options, server.WithoutCompression())
	}
	if hook := cfg.Server.ErrorResponseScript; hook != nil {
		options = append(options, server.WithErrorResponseScript(hook.Language, hook.Script))
	}

	host, err := server.New(options...)
	if err != nil {
		return nil, err
	}
	for _, route := range cfg.Routes {
		if err := host.RegisterRoute(route.Route); err != nil {
			return nil, err
		}
	}
	return host, nil
}

// loadConfig accepts either a document path or a directory holding one.
func loadConfig(path string) (*config.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return config.LoadDir(path)
	}
	return config.Load(path)
}
