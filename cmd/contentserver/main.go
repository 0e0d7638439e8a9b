// Command contentserver serves a directory tree over the content protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/pkg/config"
	"github.com/marmos91/dittomirror/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittomirror/config.yaml)")
	initConfig := flag.Bool("init", false, "Write a default config file and exit")
	force := flag.Bool("force", false, "With -init, overwrite an existing config file")
	port := flag.Int("port", 0, "Port to listen on (overrides content.port)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	root := flag.String("root", "", "Directory to serve (overrides content.root)")
	threads := flag.Int("threads", 0, "Handler pool size (overrides content.handlers)")
	flag.Parse()

	if *initConfig {
		target := *configPath
		if target == "" {
			target = config.GetDefaultConfigPath()
		}
		path, err := config.InitConfigAt(target, *force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", path)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Content.Port = *port
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "root":
			cfg.Content.Root = *root
		case "threads":
			cfg.Content.Handlers = *threads
		}
	})
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("DittoMirror - content server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Serving %s on port %d with %d handler(s)", cfg.Content.Root, cfg.Content.Port, cfg.Content.Handlers)

	m := config.InitializeMetrics(cfg)

	contentSrv, registry, err := config.CreateContentServer(ctx, cfg, m.Content)
	if err != nil {
		logger.Error("Failed to create content server: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Failed to close requester registry: %v", err)
		}
	}()

	srv := server.New(cfg.Server.ShutdownTimeout)
	if m.Server != nil {
		srv.SetMetricsServer(m.Server)
	}
	if err := srv.AddAdapter(contentSrv); err != nil {
		logger.Error("Failed to register content server: %v", err)
		os.Exit(1)
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error: %v", err)
		_ = registry.Close()
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
