package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ambirelabs/walletcore/src/app"
)

const (
	AppName    = "Walletcore Backend"
	AppVersion = "0.1.0"
	AppBuild   = "dev"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := app.NewAppConfig()

	rootLogger := app.InitLogger(*cfg.LogLevel).With().Str("service", AppName).Logger()

	rootCtx, cancel := context.WithCancel(context.Background())
	rootCtx = rootLogger.WithContext(rootCtx)

	rootLogger.Info().
		Str("version", AppVersion).
		Str("build", AppBuild).
		Msgf("Launching %s", AppName)

	application := app.NewApplication(rootCtx, cfg)
	if application == nil {
		rootLogger.Fatal().Msg("failed to create application")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go application.RunHTTPServer(rootCtx, &wg)
	go application.RunPollingWorker(rootCtx, &wg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	rootLogger.Info().Msg("Shutdown signal received")
	cancel()
	wg.Wait()

	application.Shutdown(rootCtx)
}
