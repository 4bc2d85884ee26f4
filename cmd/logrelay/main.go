package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/pipeline"
	"github.com/orgoj/logrelay/internal/security"
	"github.com/orgoj/logrelay/internal/server"
	"github.com/orgoj/logrelay/internal/version"
)

// serverShutdownTimeout bounds the wait for in-flight HTTP requests.
const serverShutdownTimeout = 5 * time.Second

func main() {
	// --- Configuration --- //
	configPath := flag.String("config", "config/logrelay.yaml", "Path to the configuration file")
	testConfigShort := flag.Bool("t", false, "Test configuration and exit (nginx style)")
	testConfigLong := flag.Bool("test", false, "Test configuration and exit (nginx style)")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	tokenSource := flag.String("token", "", "Print an ingest token for the given source and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.VersionInfo())
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[CRITICAL] %v\n", err)
		os.Exit(1)
	}

	if *testConfigShort || *testConfigLong {
		fmt.Printf("Configuration '%s' is valid.\n", *configPath)
		os.Exit(0)
	}

	if *tokenSource != "" {
		token, err := security.GenerateToken(cfg.Security.Token.Secret, *tokenSource, cfg.Security.Token.Expiration.Std())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[CRITICAL] Cannot generate token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	appLogger, err := logger.New(cfg.AppLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[CRITICAL] Failed to initialize application logger: %v\n", err)
		return 1
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("%s", version.VersionInfo())

	// --- Pipeline --- //
	p, err := pipeline.FromConfig(cfg, appLogger.Named("pipeline"))
	if err != nil {
		appLogger.Error("Failed to build the pipeline: %v", err)
		return 1
	}

	// --- Server --- //
	var srv *server.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv, err = server.NewServer(server.Dependencies{Config: cfg, Pipeline: p, AppLogger: appLogger})
		if err != nil {
			appLogger.Error("Failed to create the HTTP server: %v", err)
			_ = p.Shutdown(context.Background())
			return 1
		}
		go func() { serverErr <- srv.Start() }()
	}

	// --- Graceful Shutdown --- //
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		appLogger.Info("Received %s, shutting down.", sig)
	case err := <-serverErr:
		if err != nil {
			appLogger.Error("Server error: %v", err)
			exitCode = 1
		}
	}

	// Stop ingest first so nothing is emitted into a closing pipeline.
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			appLogger.Warn("HTTP server forced to shut down: %v", err)
		}
		cancel()
	}
	if err := p.Shutdown(context.Background()); err != nil {
		appLogger.Error("%v", err)
		exitCode = 1
	}

	appLogger.Info("logrelay shut down.")
	return exitCode
}
