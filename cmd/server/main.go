package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spottenn/wifi-talkie/internal/otelutil"
)

func main() {
	if err := otelutil.Init(); err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	defer otelutil.Flush()

	cfg := ConfigFromEnv()
	s := NewServer(cfg)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server forced to shutdown: %v", err)
		} else {
			log.Println("server shutdown complete")
		}
	}()

	log.Printf("starting WiFi Walkie-Talkie relay on %s (Ctrl+C to stop)", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("failed to start server:", err)
	}
}
