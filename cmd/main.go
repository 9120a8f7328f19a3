package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/meghashyamc/esgateway/api"
	"github.com/meghashyamc/esgateway/config"
)

func main() {
	// a missing .env is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "could not read .env file: %s\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	if err := api.Run(context.Background(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "esgateway: %s\n", err)
		os.Exit(1)
	}
}
