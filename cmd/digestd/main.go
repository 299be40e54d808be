package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/config"
	"github.com/JakeFAU/topic-digest/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	runErr := app.Run(ctx)
	if runErr != nil {
		app.Logger().Error("server exited", zap.Error(runErr))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
	}
	if runErr != nil {
		cancel()
		os.Exit(1)
	}
}
