package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/job-agents/internal/ai"
	"github.com/spigell/job-agents/internal/ai/gemini"
	"github.com/spigell/job-agents/internal/ai/openai"
	"github.com/spigell/job-agents/internal/filtering"
	"github.com/spigell/job-agents/internal/intent"
	"github.com/spigell/job-agents/internal/jobboard"
	"github.com/spigell/job-agents/internal/orchestrator"
	"github.com/spigell/job-agents/internal/secrets"
	"github.com/spigell/job-agents/internal/store"
	"github.com/spigell/job-agents/internal/tools"
	"go.uber.org/zap"
)

// gateway is a store that may hold resources to release.
type gateway interface {
	store.Gateway
	Close() error
}

type memoryGateway struct {
	*store.Memory
}

func (memoryGateway) Close() error { return nil }

func openStore(ctx context.Context, cfg *StoreConfig, logger *zap.Logger) (gateway, error) {
	driver, path := "sqlite", defaultStorePath
	if cfg != nil {
		if d := strings.TrimSpace(strings.ToLower(cfg.Driver)); d != "" {
			driver = d
		}
		if p := strings.TrimSpace(cfg.Path); p != "" {
			path = p
		}
	}

	switch driver {
	case "memory":
		logger.Warn("using in-memory store", zap.String("hint", "saved jobs and the profile are lost on exit"))
		return memoryGateway{store.NewMemory()}, nil
	case "sqlite":
		logger.Debug("opening sqlite store", zap.String("path", path))
		return store.NewSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func newCollaborator(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.Collaborator, error) {
	if cfg == nil {
		cfg = &AIConfig{}
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	switch provider {
	case "", ai.ProviderGemini:
		g := cfg.Gemini
		if g == nil {
			g = &GeminiConfig{}
		}
		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: g.APIKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or JOB_AGENTS_GEMINI_API_KEY_FILE)", err)
		}
		return gemini.New(ctx, gemini.Config{
			APIKey:       apiKey,
			Model:        g.Model,
			MaxRetries:   g.MaxRetries,
			MaxLogLength: g.MaxLogLength,
			Thinking:     g.Thinking,
		}, logger)
	case ai.ProviderOpenAI:
		o := cfg.OpenAI
		if o == nil {
			o = &OpenAIConfig{}
		}
		apiKey, err := secrets.Load(secrets.Source{
			Name: "openai api key",
			File: o.APIKeyFile,
			Env:  "OPENAI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file or JOB_AGENTS_OPENAI_API_KEY_FILE)", err)
		}
		return openai.New(openai.Config{APIKey: apiKey, BaseURL: o.BaseURL, Model: o.Model}, logger)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

func newJobBoard(cfg *JobBoardConfig, logger *zap.Logger) (*jobboard.Client, error) {
	var token string
	if strings.TrimSpace(cfg.TokenFile) != "" {
		var err error
		token, err = secrets.Load(secrets.Source{Name: "job board token", File: cfg.TokenFile})
		if err != nil {
			return nil, err
		}
	}

	board := jobboard.New(logger, token)
	if cfg.URL != "" {
		board.APIURL = strings.TrimRight(cfg.URL, "/")
	}
	if cfg.UserAgent != "" {
		board.UserAgent = cfg.UserAgent
	}
	return board, nil
}

// application holds everything a command needs to talk to the agents.
type application struct {
	config *Config
	logger *zap.Logger
	store  gateway
	orch   *orchestrator.Orchestrator
}

// openApplication opens the store only. Commands that do not chat use it.
func openApplication(ctx context.Context) (*application, error) {
	logger := newLogger()

	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}
	if strings.TrimSpace(config.UserID) == "" {
		config.UserID = defaultUserID
	}

	gw, err := openStore(ctx, config.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &application{config: config, logger: logger, store: gw}, nil
}

// buildApplication wires the store, the model provider, the tools and the
// orchestrator.
func buildApplication(ctx context.Context) (*application, error) {
	a, err := openApplication(ctx)
	if err != nil {
		return nil, err
	}

	collaborator, err := newCollaborator(ctx, a.config.AI, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building ai collaborator: %w", err)
	}

	pipeline := filtering.New(a.config.Filters, a.logger.Named("filtering"))
	for _, status := range pipeline.Describe() {
		a.logger.Debug("save filter", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled), zap.String("reason", status.Reason))
	}

	discoveryTools := []tools.Executor{tools.NewSaveJobs(pipeline, a.logger.Named("save"))}
	if jb := a.config.JobBoard; jb != nil && jb.Enabled {
		board, err := newJobBoard(jb, a.logger.Named("jobboard"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("building job board client: %w", err)
		}
		discoveryTools = append(discoveryTools, tools.NewSearchJobs(board, jb.SearchParams))
	}

	var keywords []string
	if a.config.Intent != nil {
		keywords = a.config.Intent.ExtraKeywords
	}

	maxSteps := 0
	if a.config.AI != nil {
		maxSteps = a.config.AI.MaxSteps
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		UserID:         a.config.UserID,
		Gateway:        a.store,
		Classifier:     intent.NewKeywordClassifier(keywords...),
		Discovery:      collaborator,
		Matching:       collaborator,
		DiscoveryTools: tools.NewToolbox(a.logger.Named("tools"), discoveryTools...),
		MatchingTools:  tools.NewToolbox(a.logger.Named("tools"), tools.NewScoreJobs(a.store, a.config.UserID, a.logger.Named("score"))),
		MaxSteps:       maxSteps,
		Logger:         a.logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.logger.Info("starting the job-agents",
		zap.String("version", version),
		zap.String("model", collaborator.Model()),
		zap.String("user_id", a.config.UserID),
	)

	return a, nil
}

func (a *application) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
