package bootstrap

import (
	"context"

	"ai-notebook-assistant/internal/config"
	"ai-notebook-assistant/internal/controller"
	"ai-notebook-assistant/internal/notebookapi"
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/internal/pkg/serverutils"
	"ai-notebook-assistant/internal/repository/memory"
	"ai-notebook-assistant/internal/service"
	"ai-notebook-assistant/pkg/embedding"
	"ai-notebook-assistant/pkg/llm"
	"ai-notebook-assistant/pkg/llm/factory"
	pktNats "ai-notebook-assistant/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type Container struct {
	Logger logger.ILogger

	// Controllers
	ChatController controller.IChatController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	closers []func()
}

// Options lets tests and tools swap collaborators.
type Options struct {
	LLM           llm.LLMProvider
	Embedder      embedding.EmbeddingProvider
	ContextSource service.ContextSource
	SkipNATS      bool
}

func NewContainer(cfg *config.Config, opts Options) (*Container, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	relayLogger := logger.NewIsolatedLogger(cfg.App.RelayLogFilePath)

	// 1. In-process exchange bus
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
	c := &Container{Logger: sysLogger}
	c.closers = append(c.closers, func() { pubSub.Close() })

	// 2. LLM
	llmProvider := opts.LLM
	if llmProvider == nil {
		baseURL := cfg.Ai.OllamaBaseURL
		if cfg.Ai.LLMProvider != "ollama" {
			baseURL = cfg.Ai.LLMBaseURL
		}
		p, err := factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, baseURL, cfg.Ai.LLMAPIKey)
		if err != nil {
			return nil, err
		}
		llmProvider = p
	}
	sysLogger.Info("Bootstrap", "LLM provider ready", map[string]interface{}{"provider": cfg.Ai.LLMProvider, "model": cfg.Ai.LLMModel})

	// 3. Notebook context
	source := opts.ContextSource
	if source == nil {
		source = notebookapi.NewClient(cfg.Notebook.BaseURL, cfg.Notebook.Token, sysLogger)
	}
	contextCache := memory.NewContextRepository(cfg.Notebook.CacheTTL)

	embedder := opts.Embedder
	if embedder == nil && cfg.Ai.EmbeddingProvider == "ollama" {
		embedder = embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel)
	}

	// 4. Event forwarding
	var eventPublisher service.EventPublisher
	if !opts.SkipNATS {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "NATS unavailable, chat events stay local", map[string]interface{}{"error": err.Error()})
		} else {
			eventPublisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	publisherService := service.NewPublisherService(cfg.Ai.ExchangeTopic, pubSub)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.Ai.ExchangeTopic, eventPublisher, sysLogger)

	chatService := service.NewChatService(llmProvider, embedder, source, contextCache, publisherService, sysLogger)

	// 5. Controllers
	c.ChatController = controller.NewChatController(
		chatService,
		serverutils.IdentityMiddleware(cfg.App.JWTSecret),
		cfg.Chat.Sentinel,
		relayLogger,
	)
	return c, nil
}

// Start runs background consumers until ctx is done.
func (c *Container) Start(ctx context.Context) error {
	return c.ConsumerService.Consume(ctx)
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}
