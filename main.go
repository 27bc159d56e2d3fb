package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenderwatch/adapters/api"
	"tenderwatch/internal/config"
	"tenderwatch/internal/container"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appContainer, err := container.New(appConfig, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	defer appContainer.Shutdown(context.Background())

	// Without a database every request runs the engine.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	appContainer.EnableCache(ctx)
	cancel()

	// Start pprof server for performance profiling
	if appConfig.Profiling.Enabled {
		go func() {
			log.Printf("Performance profiling server starting on :%s", appConfig.Profiling.Port)
			if err := http.ListenAndServe(":"+appConfig.Profiling.Port, nil); err != nil {
				log.Printf("pprof server failed: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           api.NewServer(appContainer.Explanations, prometheus.DefaultGatherer).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting tenderwatch server on port %s", appConfig.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serveErr:
		log.Printf("Server failed: %v", err)
	}

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
