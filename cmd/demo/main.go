package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"droneaid/internal/app"
	"droneaid/internal/config"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Demo server crashed: %v", r)
			os.Exit(1)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer stop()

	if err := app.NewDemoApp(cfg).Run(ctx); err != nil {
		log.Fatalf("Demo server failed: %v", err)
	}
}
