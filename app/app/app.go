package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/marketconnect/llm-workbench/app/internal/auth"
	"github.com/marketconnect/llm-workbench/app/internal/catalog"
	"github.com/marketconnect/llm-workbench/app/internal/config"
	"github.com/marketconnect/llm-workbench/app/internal/handlers"
	"github.com/marketconnect/llm-workbench/app/internal/llm"
	"github.com/marketconnect/llm-workbench/app/internal/pricing"
	"github.com/marketconnect/llm-workbench/app/internal/queue"
	"github.com/marketconnect/llm-workbench/app/internal/repository"
	"github.com/marketconnect/llm-workbench/app/internal/session"
	"github.com/marketconnect/llm-workbench/app/internal/template"
	"github.com/marketconnect/llm-workbench/app/internal/tokenizer"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// App holds all application dependencies
type App struct {
	Config         *config.Config
	Repository     repository.Repository
	Tokenizer      *tokenizer.Tokenizer
	Pricing        *pricing.Engine
	Queue          *queue.Queue
	LLM            *llm.Client
	SessionManager *session.SessionManager
	Templates      *template.Service
	Auth           *auth.Authenticator

	closeOnce sync.Once
	closeErr  error
}

// NewApp creates and initializes all application dependencies from the
// environment.
func NewApp() (*App, error) {
	return New(config.GetConfig())
}

// New wires the application from an explicit configuration.
func New(cfg *config.Config) (*App, error) {
	repo, err := OpenRepository(cfg)
	if err != nil {
		return nil, err
	}

	models, err := catalog.Load(cfg.Pricing.ModelsFile)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}
	if err := catalog.Seed(context.Background(), repo, models); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to seed model catalog: %w", err)
	}
	log.Printf("Loaded %d models into the pricing catalog", len(models))

	tok, err := tokenizer.New(cfg.Pricing.Encoding)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	// Streamed bodies outlive Do, so the client has no Timeout; requests are
	// bounded by their contexts.
	q := queue.NewQueue(cfg.OpenAI.RateLimitPerMin, &http.Client{})
	client := llm.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel, q)

	sessionManager := session.NewSessionManager(repo, client, session.Options{
		GenerationTimeout: cfg.Chat.GenerationTimeout,
		TitleTimeout:      cfg.Chat.TitleTimeout,
		TitleMaxAttempts:  cfg.Chat.TitleMaxAttempts,
		StreamBuffer:      cfg.Chat.StreamBuffer,
		Logger:            log.Default(),
	})

	return &App{
		Config:         cfg,
		Repository:     repo,
		Tokenizer:      tok,
		Pricing:        pricing.NewEngine(repo, tok),
		Queue:          q,
		LLM:            client,
		SessionManager: sessionManager,
		Templates:      template.NewService(repo),
		Auth:           auth.NewAuthenticator(cfg.Auth.JWTSecret),
	}, nil
}

// OpenRepository creates and initializes the configured storage backend.
func OpenRepository(cfg *config.Config) (repository.Repository, error) {
	var repo repository.Repository
	var err error

	log.Printf("Initializing repository with type: %s", cfg.Repository.Type)

	switch cfg.Repository.Type {
	case "sqlite":
		repo, err = repository.NewSQLiteRepository(cfg.Repository.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
	case "postgres":
		if cfg.Repository.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN is required for the postgres repository")
		}
		repo, err = repository.NewPostgresRepository(cfg.Repository.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
	case "memory", "":
		repo = repository.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("unknown repository type %q", cfg.Repository.Type)
	}

	if err := repo.Init(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	return repo, nil
}

// Handler returns the HTTP routes of the application.
func (a *App) Handler() http.Handler {
	return handlers.NewRouter(
		handlers.NewPriceHandler(a.Pricing, a.Repository),
		handlers.NewChatHandler(a.SessionManager),
		handlers.NewTemplateHandler(a.Templates),
		a.Auth.RequireUser,
	)
}

// Close cleans up all dependencies. In-flight generations and title tasks
// are allowed to finish first. Close is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.SessionManager != nil {
			a.SessionManager.Wait()
		}
		if a.Queue != nil {
			a.Queue.Close()
		}
		if a.SessionManager != nil {
			if err := a.SessionManager.Close(); err != nil {
				a.closeErr = fmt.Errorf("failed to close session manager: %w", err)
			}
		}
	})
	return a.closeErr
}

// Run serves HTTP until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.Config.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", addr)
		log.Printf("Available endpoints:")
		log.Printf("  - Pricing: POST /api/price, GET /api/models")
		log.Printf("  - Chat: POST /api/chat/respond, /api/chat/sessions[/{id}[/messages]]")
		log.Printf("  - Templates: /api/templates[/{id}]")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Print("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
