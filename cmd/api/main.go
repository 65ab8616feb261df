package main

import (
	"context"
	"log"
	"os"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/app/bootstrap"
)

func main() {
	configPath := "configs/default.yaml"
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		configPath = path
	}

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		log.Fatalf("bootstrap api runtime: %v", err)
	}
	if err := runtime.RunAPI(ctx); err != nil {
		log.Fatalf("run api: %v", err)
	}
}
