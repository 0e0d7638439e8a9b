// Command mirrorserver accepts mirroring sessions on its control port and
// pulls matching files from the content servers each session names.
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
	port := flag.Int("port", 0, "Control port to listen on (overrides mirror.port)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	threads := flag.Int("threads", 0, "Download worker count (overrides mirror.workers)")
	output := flag.String("output", "", "Write fetched files under this directory (selects the filesystem output)")
	search := flag.Bool("search", false, "Match filters anywhere in the path instead of as a prefix")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Mirror.Port = *port
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "threads":
			cfg.Mirror.Workers = *threads
		case "output":
			cfg.Mirror.Output.Type = "filesystem"
			if cfg.Mirror.Output.Filesystem == nil {
				cfg.Mirror.Output.Filesystem = map[string]any{}
			}
			cfg.Mirror.Output.Filesystem["path"] = *output
		case "search":
			cfg.Mirror.Search = *search
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

	fmt.Println("DittoMirror - mirror server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Mirror configuration:")
	logger.Info("  Port: %d", cfg.Mirror.Port)
	logger.Info("  Workers: %d", cfg.Mirror.Workers)
	logger.Info("  Queue capacity: %d", cfg.Mirror.QueueCapacity)
	logger.Info("  Search mode: %t", cfg.Mirror.Search)
	logger.Info("  Output: %s", cfg.Mirror.Output.Type)

	m := config.InitializeMetrics(cfg)

	mirrorSrv, err := config.CreateMirrorServer(ctx, cfg, m.Mirror)
	if err != nil {
		logger.Error("Failed to create mirror server: %v", err)
		os.Exit(1)
	}

	srv := server.New(cfg.Server.ShutdownTimeout)
	if m.Server != nil {
		srv.SetMetricsServer(m.Server)
	}
	if err := srv.AddAdapter(mirrorSrv); err != nil {
		logger.Error("Failed to register mirror server: %v", err)
		os.Exit(1)
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
