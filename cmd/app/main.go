package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"escrow_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("ESCROW_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// 3. System Bootstrapping (journal replay happens here)
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close(context.Background())
		os.Exit(1)
	}

	// 4. Serve until signalled
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("❌ Server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
