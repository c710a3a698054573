package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Chat     ChatConfig
	Ai       AIConfig
	Notebook NotebookConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	RelayLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string
}

// ChatConfig parameterizes the streaming chat client.
type ChatConfig struct {
	Transport        string // "websocket" (default) or "sse"; sse folds line breaks into spaces
	BaseURL          string // e.g. http://localhost:3000/spn/v1/notebook
	WebSocketURL     string // e.g. ws://localhost:3000/spn/v1/notebook/ws
	Endpoint         string
	UserID           string
	Token            string
	Sentinel         string
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	LogFilePath      string
}

type AIConfig struct {
	LLMProvider   string // "ollama" or "huggingface"
	LLMModel      string // e.g. "llama3", "qwen2.5"
	OllamaBaseURL string
	LLMBaseURL    string // OpenAI compatible router for "huggingface"
	LLMAPIKey     string
	ExchangeTopic string

	EmbeddingProvider string // "ollama" or "none"
	EmbeddingModel    string
}

// NotebookConfig points at the notebook REST API that owns notes and sources.
type NotebookConfig struct {
	BaseURL  string
	Token    string
	CacheTTL time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			RelayLogFilePath:   getEnv("RELAY_LOG_FILE_PATH", "logs/relay.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5273"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
		},
		Chat: ChatConfig{
			Transport:        getEnv("CHAT_TRANSPORT", "websocket"),
			BaseURL:          getEnv("CHAT_BASE_URL", "http://localhost:3000/spn/v1/notebook"),
			WebSocketURL:     getEnv("CHAT_WS_URL", "ws://localhost:3000/spn/v1/notebook/ws"),
			Endpoint:         getEnv("CHAT_ENDPOINT", "ClientLLMResponse"),
			UserID:           getEnv("CHAT_USER_ID", ""),
			Token:            getEnv("CHAT_TOKEN", ""),
			Sentinel:         getEnv("CHAT_SENTINEL", "__END_OF_RESPONSE__"),
			IdleTimeout:      getEnvAsDuration("CHAT_IDLE_TIMEOUT", 60*time.Second),
			HandshakeTimeout: getEnvAsDuration("CHAT_HANDSHAKE_TIMEOUT", 10*time.Second),
			LogFilePath:      getEnv("CHAT_LOG_FILE_PATH", "logs/chat.log"),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:      getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			LLMBaseURL:    getEnv("LLM_BASE_URL", ""),
			LLMAPIKey:     getEnv("HUGGINGFACE_API_KEY", ""),
			ExchangeTopic: getEnv("CHAT_EXCHANGE_TOPIC", "chat_exchange_completed"),

			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Notebook: NotebookConfig{
			BaseURL:  getEnv("NOTEBOOK_API_URL", "http://localhost:8000/spn"),
			Token:    getEnv("NOTEBOOK_API_TOKEN", ""),
			CacheTTL: getEnvAsDuration("NOTEBOOK_CACHE_TTL", 10*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs := getEnvAsInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
