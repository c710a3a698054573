package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"ai-notebook-assistant/internal/config"
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/events"
	natsEvents "ai-notebook-assistant/pkg/nats"

	"github.com/fatih/color"
)

// chat_audit tails the exchange lifecycle events the relay publishes.
func main() {
	cfg := config.Load()

	subject := flag.String("subject", "events.chat.>", "subject filter")
	durable := flag.String("durable", "chat-audit", "durable consumer name")
	flag.Parse()

	appLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	defer appLogger.Sync()

	sub, err := natsEvents.NewSubscriber(cfg.App.NatsURL, appLogger)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sub.Subscribe(ctx, *subject, *durable, printEvent); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	color.Cyan("Listening on %s (durable %s)", *subject, *durable)
	<-ctx.Done()
}

func printEvent(ctx context.Context, event events.Event) error {
	c := color.New(color.FgGreen)
	if event.EventType() == events.ChatExchangeFailed {
		c = color.New(color.FgRed)
	}
	c.Printf("%s %s\n", event.Timestamp().Local().Format("15:04:05"), event.EventType())

	payload := event.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-12s %v\n", k, payload[k])
	}
	return nil
}
