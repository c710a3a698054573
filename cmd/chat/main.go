package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"ai-notebook-assistant/internal/config"
	"ai-notebook-assistant/internal/fanout"
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/chat"
	"ai-notebook-assistant/pkg/chat/controller"
	"ai-notebook-assistant/pkg/chat/transport"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	mode := flag.String("transport", cfg.Chat.Transport, "sse or websocket")
	sources := flag.String("sources", "", "comma separated source ids")
	notes := flag.String("notes", "", "comma separated note ids")
	mirror := flag.Bool("mirror", false, "publish transcript snapshots to Redis")
	watch := flag.String("watch", "", "follow a mirrored conversation id (\"all\" for every conversation)")
	flag.Parse()

	appLogger := logger.NewIsolatedLogger(cfg.Chat.LogFilePath)
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if *watch != "" {
		if err := runWatch(ctx, cfg, *watch, appLogger); err != nil {
			log.Fatalf("watch: %v", err)
		}
		return
	}

	sourceIDs, err := parseIDs(*sources)
	if err != nil {
		log.Fatalf("invalid -sources: %v", err)
	}
	noteIDs, err := parseIDs(*notes)
	if err != nil {
		log.Fatalf("invalid -notes: %v", err)
	}

	tr, err := transport.New(transport.Config{
		Mode:             *mode,
		BaseURL:          cfg.Chat.BaseURL,
		WebSocketURL:     cfg.Chat.WebSocketURL,
		Endpoint:         cfg.Chat.Endpoint,
		UserID:           cfg.Chat.UserID,
		Token:            cfg.Chat.Token,
		HandshakeTimeout: cfg.Chat.HandshakeTimeout,
		Logger:           appLogger,
	})
	if err != nil {
		log.Fatalf("transport: %v", err)
	}

	ctl := controller.New(tr,
		controller.WithLogger(appLogger),
		controller.WithIdleTimeout(cfg.Chat.IdleTimeout),
		controller.WithSentinel(cfg.Chat.Sentinel),
		controller.WithUserID(cfg.Chat.UserID),
	)

	out := newRenderer(color.Output)
	ctl.Subscribe(out)

	if *mirror {
		rdb, err := newRedis(cfg.App.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		mirror := fanout.NewRedisObserver(rdb, ctl.ID().String(), appLogger)
		defer mirror.Close()
		ctl.Subscribe(mirror)
		color.HiBlack("mirroring to %s", fanout.Channel(ctl.ID().String()))
	}

	// Ctrl-C cancels the running request; a second one at the prompt exits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
			if ctl.Busy() {
				ctl.Cancel()
				continue
			}
			stop()
			os.Exit(0)
		}
	}()

	color.Cyan("Notebook assistant over %s. /help lists commands.", tr.Mode())
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Print(color.GreenString("> "))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctl, line, &sourceIDs, &noteIDs); quit {
				return
			}
			continue
		}

		if err := ctl.Submit(ctx, line, sourceIDs, noteIDs); err != nil {
			color.Red("%v", err)
			continue
		}
		if err := ctl.Wait(ctx); err != nil {
			return
		}
		out.endTurn()
	}
}

func runCommand(ctl *controller.Controller, line string, sourceIDs, noteIDs *[]int64) bool {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true
	case "/reset":
		if err := ctl.Reset(); err != nil {
			color.Red("%v", err)
			return false
		}
		color.Yellow("conversation cleared")
	case "/sources", "/notes":
		ids, err := parseIDs(arg)
		if err != nil {
			color.Red("invalid ids: %v", err)
			return false
		}
		if name == "/sources" {
			*sourceIDs = ids
		} else {
			*noteIDs = ids
		}
		color.Yellow("sources=%v notes=%v", *sourceIDs, *noteIDs)
	case "/history":
		for _, turn := range ctl.Transcript() {
			fmt.Printf("%-9s %s\n", turn.Role, turn.Content)
		}
	case "/help":
		fmt.Println("/sources 1,2  select sources")
		fmt.Println("/notes 3      select notes")
		fmt.Println("/history      print the transcript")
		fmt.Println("/reset        clear the conversation")
		fmt.Println("/quit         leave")
	default:
		color.Red("unknown command %s", name)
	}
	return false
}

func runWatch(ctx context.Context, cfg *config.Config, conversationID string, log logger.ILogger) error {
	rdb, err := newRedis(cfg.App.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if conversationID == "all" {
		conversationID = ""
	}
	color.Cyan("watching %s", fanout.Channel(orWildcard(conversationID)))

	err = fanout.Watch(ctx, rdb, conversationID, log, func(s fanout.Snapshot) {
		last, ok := s.Turns.Last()
		if !ok {
			color.Yellow("[%s #%d] cleared", s.ConversationID, s.Seq)
			return
		}
		c := color.New(color.FgCyan)
		switch last.Role {
		case chat.RoleError:
			c = color.New(color.FgRed)
		case chat.RoleUser, chat.RoleProgress:
			c = color.New(color.FgGreen)
		}
		c.Printf("[%s #%d] %s: %s\n", s.ConversationID, s.Seq, last.Role, last.Content)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func orWildcard(id string) string {
	if id == "" {
		return "*"
	}
	return id
}

func newRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func parseIDs(csv string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
