package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenFacilityCore/cmd/server/app"
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
)

func main() {
	// .env ist optional (lokale Entwicklung)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewRootCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
