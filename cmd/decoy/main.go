package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/TryMightyAI/decoy/pkg/config"
	"github.com/TryMightyAI/decoy/pkg/fingerprint"
	"github.com/TryMightyAI/decoy/pkg/llm"
	"github.com/TryMightyAI/decoy/pkg/notify"
	"github.com/TryMightyAI/decoy/pkg/persona"
	"github.com/TryMightyAI/decoy/pkg/pipeline"
	"github.com/TryMightyAI/decoy/pkg/report"
	"github.com/TryMightyAI/decoy/pkg/store"
)

const Version = "0.1.0"

// App bundles the wired pipeline with the pieces the HTTP surface needs
// directly. Every optional component degrades gracefully when unconfigured.
type App struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	config   *config.Config
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	if cfg.PersonaDir != "" {
		persona.SetSeedDir(cfg.PersonaDir)
	}

	st, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	classifierRetry := llm.RetryPolicy{
		Attempts: cfg.ClassifierAttempts,
		Floor:    cfg.BackoffFloor,
		Ceiling:  cfg.BackoffCeiling,
	}
	extractorRetry := llm.RetryPolicy{
		Attempts: cfg.ExtractorAttempts,
		Floor:    cfg.BackoffFloor,
		Ceiling:  cfg.BackoffCeiling,
	}

	// Engager is always constructed; without a reachable provider the retry
	// budget exhausts and the pipeline answers with the persona fallback.
	engager := llm.NewEngageClient(llm.NewClient(llm.ClientConfig{
		Provider:    llm.Provider(cfg.LLMProvider),
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		BaseURL:     cfg.LLMBaseURL,
		Temperature: cfg.LLMTemperature,
	}), classifierRetry)

	var extractor llm.Extractor
	if cfg.LLMProvider != config.ProviderNone && cfg.EnableLLMExtraction {
		extractor = llm.NewExtractClient(llm.NewClient(llm.ClientConfig{
			Provider:    llm.Provider(cfg.LLMProvider),
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.ExtractorModel,
			BaseURL:     cfg.LLMBaseURL,
			Temperature: cfg.LLMTemperature,
		}), extractorRetry, persona.ExtractionInstruction)
		log.Printf("✓ LLM extraction enabled (provider: %s, model: %s)", cfg.LLMProvider, cfg.ExtractorModel)
	} else {
		log.Println("○ LLM extraction disabled (lexical extraction only)")
	}

	embedder := fingerprint.NewAutoDetectedEmbedder(fingerprint.RemoteEmbedderConfig{
		APIKey:    cfg.EmbedAPIKey,
		BaseURL:   cfg.EmbedBaseURL,
		Model:     cfg.EmbedModel,
		Dimension: cfg.EmbedDimension,
	})
	var matcher pipeline.Matcher
	index, err := fingerprint.NewIndex(embedder)
	if err != nil {
		log.Printf("○ Fingerprint matching disabled (index init failed: %v)", err)
	} else {
		matcher = fingerprint.NewMatcher(index)
		log.Println("✓ Fingerprint matching enabled")
	}

	notifier := notify.NewNotifier(cfg.CallbackURL)
	if notifier != nil {
		log.Printf("✓ Intel callback enabled (%s)", cfg.CallbackURL)
	} else {
		log.Println("○ Intel callback disabled (no DECOY_CALLBACK_URL)")
	}

	reports, err := report.NewWriter(cfg.ReportDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init report writer: %w", err)
	}

	p, err := pipeline.New(st, engager, extractor, matcher, notifier, reports, pipeline.Config{
		ContextWindow:  cfg.ContextWindow,
		MaxSideEffects: cfg.MaxSideEffects,
	})
	if err != nil {
		return nil, err
	}

	return &App{pipeline: p, store: st, config: cfg}, nil
}

// buildStore selects the session store backend: postgres > redis > memory.
func buildStore(cfg *config.Config) (store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		st, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		log.Println("✓ Session store: postgres")
		return st, nil
	case config.BackendRedis:
		st, err := store.NewRedisStore(ctx, cfg.RedisURL, 7*24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		log.Println("✓ Session store: redis")
		return st, nil
	default:
		log.Println("○ Session store: memory (state lost on restart)")
		return store.NewMemoryStore(), nil
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "turn":
		if len(os.Args) < 4 {
			fmt.Println("Usage: decoy turn <session-id> <message>")
			os.Exit(1)
		}
		runCLITurn(os.Args[2], strings.Join(os.Args[3:], " "))
	case "version":
		fmt.Printf("Decoy v%s\n", Version)
		fmt.Println("Agentic Scam-Baiting Honeypot")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Decoy v%s - Agentic Scam-Baiting Honeypot\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  decoy serve [port]              Start HTTP server (default: 8080)")
	fmt.Println("  decoy turn <session> <message>  Process one turn and print the result")
	fmt.Println("  decoy version                   Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  DECOY_LLM_PROVIDER   Provider: ollama, openrouter, groq, cerebras, none")
	fmt.Println("  DECOY_LLM_API_KEY    API key for the engagement classifier")
	fmt.Println("  DECOY_REDIS_URL      Redis session store (falls back to memory)")
	fmt.Println("  DECOY_POSTGRES_URL   Postgres session store (preferred over Redis)")
	fmt.Println("  DECOY_CALLBACK_URL   Optional intel callback endpoint")
}

func runHTTPServer(port string) {
	cfg := config.NewDefaultConfig()
	if port != "" {
		cfg.ListenPort = port
	}
	cfg.MustValidate()

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}

	srv := fiber.New(fiber.Config{
		AppName: "Decoy",
	})

	srv.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  Version,
			"provider": cfg.LLMProvider,
			"model":    cfg.LLMModel,
			"store":    cfg.StoreBackend,
		})
	})

	// One inbound scammer message per call. The reply is always
	// persona-consistent, whatever failed internally.
	srv.Post("/webhook", func(c fiber.Ctx) error {
		var req pipeline.TurnRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		resp, err := app.pipeline.ProcessTurn(c.Context(), req)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(resp)
	})

	// Cross-session identifier overlap as a renderable graph.
	srv.Get("/syndicate", func(c fiber.Ctx) error {
		overlap, err := app.store.IdentifierOverlap(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "overlap query failed"})
		}
		return c.JSON(report.SyndicateGraph(report.FilterOverlap(overlap, cfg.SyndicateIgnore)))
	})

	srv.Get("/summary", func(c fiber.Ctx) error {
		sum, err := app.store.Summary(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "summary query failed"})
		}
		return c.JSON(sum)
	})

	log.Printf("Decoy HTTP server starting on :%s", cfg.ListenPort)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health     - Health check")
	log.Printf("  POST /webhook    - Process one scammer message")
	log.Printf("  GET  /syndicate  - Identifier overlap graph")
	log.Printf("  GET  /summary    - Session and intel totals")

	if err := srv.Listen(":" + cfg.ListenPort); err != nil {
		log.Fatal(err)
	}
}

func runCLITurn(session, message string) {
	cfg := config.NewDefaultConfig()
	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}

	resp, err := app.pipeline.ProcessTurn(context.Background(), pipeline.TurnRequest{
		SessionID: session,
		Message:   message,
	})
	if err != nil {
		log.Fatalf("turn failed: %v", err)
	}
	app.pipeline.Drain()

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}
