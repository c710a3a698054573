package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ai-notebook-assistant/internal/bootstrap"
	"ai-notebook-assistant/internal/config"
	"ai-notebook-assistant/internal/server"
	"ai-notebook-assistant/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer container.Close()

	shutdownTracer := tracer.InitTracer("ai-notebook-relay", container.Logger)
	defer shutdownTracer(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Start Background Services
	if err := container.Start(ctx); err != nil {
		container.Logger.Error("Main", "Consumer failed to start", map[string]interface{}{"error": err.Error()})
	}

	// 4. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	// 5. Run Server
	if err := srv.Run(); err != nil {
		container.Logger.Error("Main", "Server stopped", map[string]interface{}{"error": err.Error()})
	}
}
