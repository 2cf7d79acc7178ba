package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediassist.app/server/internal/api"
	"mediassist.app/server/internal/config"
	"mediassist.app/server/internal/core"
	"mediassist.app/server/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Retrieval and answering pipeline. The trusted strategy is only in the
	// chain when an endpoint is configured; the direct strategy is always the
	// final fallback before the apology message.
	retriever := core.NewContextRetriever(llmService, dbStore)
	directAnswerer := core.NewDirectAnswerer(retriever, llmService)

	var answerer core.Answerer
	if config.AppConfig.TrustedAnswerURL != "" {
		trusted := core.NewTrustedAnswerer(config.AppConfig.TrustedAnswerURL, &http.Client{
			Timeout: config.AppConfig.UpstreamTimeout,
		})
		answerer = core.NewAnswerChain(trusted, directAnswerer)
		log.Printf("Trusted answer endpoint configured: %s", config.AppConfig.TrustedAnswerURL)
	} else {
		answerer = core.NewAnswerChain(directAnswerer)
		log.Println("No trusted answer endpoint configured, using direct RAG only")
	}

	// Upload workflow and per-user session state
	sessions := core.NewSessionRegistry()
	reportService := core.NewReportService(llmService, llmService, dbStore, sessions)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(dbStore, reportService, answerer, sessions)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second, // Adjusted for potentially slower LLM handshakes
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received
	log.Println("Shutting down server...")

	// Give active connections time to finish before forcing shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
