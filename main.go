package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neurodiff/internal/api"
	"neurodiff/internal/config"
	"neurodiff/internal/container"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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
	if !appConfig.Store.Enabled {
		log.Fatal("The results server needs a result store; set STORE_ENABLED=true")
	}
	gin.SetMode(appConfig.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	if err := appContainer.InitStore(ctx); err != nil {
		log.Fatalf("Failed to initialize result store: %v", err)
	}
	if err := appContainer.InitEnrichment(); err != nil {
		log.Fatalf("Failed to initialize enrichment: %v", err)
	}
	appContainer.InitEvents()

	router := api.NewRouter(
		api.NewResultsHandler(appContainer.Results, appContainer.Events),
		api.NewPipelineHandler(ctx, appContainer.Pipeline(), appContainer.Request),
		appContainer.SSEHub,
	)

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting neurodiff server on port %s", appConfig.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := appContainer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Container shutdown: %v", err)
	}
}
