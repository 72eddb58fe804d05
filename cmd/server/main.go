package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"knowpack"
	"knowpack/pack"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	packDir := flag.String("pack", "", "Installed pack directory to serve")
	packsDir := flag.String("packs-dir", defaultPacksDir(), "Directory of installed packs")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// .env is optional; real env vars win.
	_ = godotenv.Load()

	cfg := knowpack.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("KNOWPACK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("KNOWPACK_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("KNOWPACK_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("KNOWPACK_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("KNOWPACK_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("KNOWPACK_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("KNOWPACK_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("KNOWPACK_CHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("KNOWPACK_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Chat.APIKey == "" {
		switch cfg.Chat.Provider {
		case "openai":
			cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		case "gemini":
			cfg.Chat.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Embedding.APIKey = os.Getenv("GROQ_API_KEY")
		case "gemini":
			cfg.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	apiKey := os.Getenv("KNOWPACK_API_KEY")
	corsOrigins := os.Getenv("KNOWPACK_CORS_ORIGINS")

	var agent *knowpack.Agent
	var err error
	if *packDir != "" {
		agent, err = knowpack.OpenPack(*packDir, cfg)
	} else {
		cfg.ReadOnly = true
		agent, err = knowpack.New(cfg)
	}
	if err != nil {
		slog.Error("opening pack", "error", err)
		os.Exit(1)
	}
	defer agent.Close()

	registry, err := pack.NewRegistry(*packsDir)
	if err != nil {
		slog.Error("loading pack registry", "error", err)
		os.Exit(1)
	}

	h := newHandler(agent, registry, llmReady(cfg))
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", h.handleChat)
	mux.HandleFunc("POST /query", h.handleQuery)
	mux.HandleFunc("GET /packs", h.handleListPacks)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> rate limit -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = rateLimitMiddleware(newLimiter(10, 20), handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// llmReady reports whether the chat provider is usable: hosted
// providers need an API key, local ones do not.
func llmReady(cfg knowpack.Config) bool {
	switch cfg.Chat.Provider {
	case "openai", "groq", "gemini":
		return cfg.Chat.APIKey != ""
	default:
		return true
	}
}

func defaultPacksDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "packs"
	}
	return filepath.Join(home, ".knowpack", "packs")
}
