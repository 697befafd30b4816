package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/agent"
	bqagent "github.com/lifeops/lifeops/pkg/agent/bigquery"
	"github.com/lifeops/lifeops/pkg/agent/mcp"
	"github.com/lifeops/lifeops/pkg/agent/system"
	"github.com/lifeops/lifeops/pkg/policy"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/lifeops/lifeops/pkg/usecase/decision"
	"github.com/lifeops/lifeops/pkg/usecase/memory"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	backendMemory    = "memory"
	backendFirestore = "firestore"
	backendRedis     = "redis"

	completerGemini = "gemini"
	completerClaude = "claude"
)

// config holds configuration values
type config struct {
	// Repository
	backend  string
	project  string
	database string
	redisURL string

	// Provider
	geminiProject      string
	geminiLocation     string
	geminiAPIKey       string
	embeddingModel     string
	generativeModel    string
	embeddingDimension int64
	anthropicAPIKey    string
	completer          string
	embeddingCacheSize int64
	providerTimeout    time.Duration

	// Agents
	agentsDir       string
	policyDir       string
	mcpConfig       string
	bigqueryProject string
	runBookDir      string
	tablesFile      string
	scanLimitMB     int64

	// Archive
	archiveBucket string
	archivePrefix string
}

// globalFlags returns storage backend flags with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Storage backend (memory, firestore, redis)",
			Value:       backendMemory,
			Sources:     cli.EnvVars("LIFEOPS_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for decisions and agents (e.g. redis://localhost:6379/0)",
			Sources:     cli.EnvVars("LIFEOPS_REDIS_URL"),
			Destination: &cfg.redisURL,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket for exported decisions",
			Sources:     cli.EnvVars("LIFEOPS_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object name prefix inside the archive bucket",
			Sources:     cli.EnvVars("LIFEOPS_ARCHIVE_PREFIX"),
			Destination: &cfg.archivePrefix,
		},
	}
}

// llmFlags returns flags for provider configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini (Vertex AI)",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used when no Gemini project is set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("LIFEOPS_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini generative model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("LIFEOPS_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension",
			Value:       adapter.DefaultEmbeddingDimension,
			Sources:     cli.EnvVars("LIFEOPS_EMBEDDING_DIMENSION"),
			Destination: &cfg.embeddingDimension,
		},
		&cli.StringFlag{
			Name:        "completer",
			Usage:       "Completion backend (gemini, claude)",
			Value:       completerGemini,
			Sources:     cli.EnvVars("LIFEOPS_COMPLETER"),
			Destination: &cfg.completer,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key, required with --completer claude",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.IntFlag{
			Name:        "embedding-cache-size",
			Usage:       "Number of embeddings cached in process (0 disables)",
			Value:       1024,
			Sources:     cli.EnvVars("LIFEOPS_EMBEDDING_CACHE_SIZE"),
			Destination: &cfg.embeddingCacheSize,
		},
		&cli.DurationFlag{
			Name:        "provider-timeout",
			Usage:       "Timeout of a single provider call",
			Value:       memory.DefaultProviderTimeout,
			Sources:     cli.EnvVars("LIFEOPS_PROVIDER_TIMEOUT"),
			Destination: &cfg.providerTimeout,
		},
	}
}

// agentFlags returns flags configuring which agents get installed
func agentFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "agents",
			Usage:       "Directory of agent manifest YAML files to register",
			Sources:     cli.EnvVars("LIFEOPS_AGENTS_DIR"),
			Destination: &cfg.agentsDir,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of rego policies planning consultations",
			Sources:     cli.EnvVars("LIFEOPS_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "MCP server configuration YAML",
			Sources:     cli.EnvVars("LIFEOPS_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project for the BigQuery agent",
			Sources:     cli.EnvVars("LIFEOPS_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-runbooks",
			Usage:       "Directory of SQL runbooks for the BigQuery agent",
			Sources:     cli.EnvVars("LIFEOPS_BIGQUERY_RUNBOOKS"),
			Destination: &cfg.runBookDir,
		},
		&cli.StringFlag{
			Name:        "bigquery-tables",
			Usage:       "YAML file listing tables known to the BigQuery agent",
			Sources:     cli.EnvVars("LIFEOPS_BIGQUERY_TABLES"),
			Destination: &cfg.tablesFile,
		},
		&cli.IntFlag{
			Name:        "bigquery-scan-limit-mb",
			Usage:       "Maximum bytes scanned per BigQuery query in MB",
			Value:       1024,
			Sources:     cli.EnvVars("LIFEOPS_BIGQUERY_SCAN_LIMIT_MB"),
			Destination: &cfg.scanLimitMB,
		},
	}
}

// closers collects cleanup functions of created clients
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

// Close runs cleanups in reverse order of creation
func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func closeWith(ctx context.Context, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logging.From(ctx).Warn("failed to close", "component", name, "error", err)
		}
	}
}

// newRepository creates the repository selected by --backend
func (cfg *config) newRepository(ctx context.Context, cleanup *closers) (repository.Repository, error) {
	switch cfg.backend {
	case backendMemory, "":
		repo, err := repository.NewInProcess()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create in-process repository")
		}
		return repo, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for firestore backend")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		cleanup.add(closeWith(ctx, "firestore", repo.Close))
		return repo, nil

	case backendRedis:
		if cfg.redisURL == "" {
			return nil, goerr.New("redis-url is required for redis backend")
		}
		store, err := repository.NewRedis(ctx, cfg.redisURL)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create redis repository")
		}
		cleanup.add(closeWith(ctx, "redis", store.Close))
		return store, nil

	default:
		return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
	}
}

// newProvider creates the embedding and completion provider
func (cfg *config) newProvider(ctx context.Context, cleanup *closers) (adapter.Provider, error) {
	gemini, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
		Project:  cfg.geminiProject,
		Location: cfg.geminiLocation,
		APIKey:   cfg.geminiAPIKey,
	},
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingDimension(cfg.dimension()),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}

	var embedder adapter.Embedder = gemini
	if cfg.embeddingCacheSize > 0 {
		cached, err := adapter.NewCachedEmbedder(gemini, cfg.embeddingCacheSize)
		if err != nil {
			return nil, err
		}
		cleanup.add(cached.Close)
		embedder = cached
	}

	switch cfg.completer {
	case completerGemini, "":
		return adapter.Compose(embedder, gemini), nil
	case completerClaude:
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required with claude completer")
		}
		return adapter.Compose(embedder, adapter.NewClaude(cfg.anthropicAPIKey)), nil
	default:
		return nil, goerr.New("unknown completer", goerr.V("completer", cfg.completer))
	}
}

func (cfg *config) dimension() int {
	if cfg.embeddingDimension <= 0 {
		return adapter.DefaultEmbeddingDimension
	}
	return int(cfg.embeddingDimension)
}

// newRuntime creates the agent runtime with the system agent, the optional BigQuery and
// MCP agents and any manifests from --agents installed
func (cfg *config) newRuntime(ctx context.Context, repo repository.Repository, provider adapter.Provider, cleanup *closers) (*agent.Runtime, error) {
	rt := agent.New(repo)

	sys := system.New(provider, system.WithProbe("database", func(ctx context.Context) error {
		_, err := repo.ListAgents(ctx)
		return err
	}))
	if _, err := rt.Install(ctx, system.Manifest(), sys); err != nil {
		return nil, goerr.Wrap(err, "failed to install system agent")
	}

	if cfg.bigqueryProject != "" {
		if err := cfg.installBigQuery(ctx, rt, cleanup); err != nil {
			return nil, err
		}
	}

	if cfg.mcpConfig != "" {
		mcpCfg, err := mcp.LoadConfig(cfg.mcpConfig)
		if err != nil {
			return nil, err
		}
		client, _, err := mcp.Install(ctx, rt, mcpCfg)
		if err != nil {
			return nil, err
		}
		cleanup.add(closeWith(ctx, "mcp", client.Close))
	}

	if cfg.agentsDir != "" {
		descriptors, err := loadManifests(cfg.agentsDir)
		if err != nil {
			return nil, err
		}
		for _, desc := range descriptors {
			record, err := rt.Register(ctx, desc)
			if err != nil {
				return nil, err
			}
			if !rt.Bound(record.Slug) {
				logging.From(ctx).Debug("registered agent without implementation", "slug", record.Slug)
			}
		}
	}

	return rt, nil
}

func (cfg *config) installBigQuery(ctx context.Context, rt *agent.Runtime, cleanup *closers) error {
	client, closeFn, err := adapter.NewBigQuery(ctx, cfg.bigqueryProject)
	if err != nil {
		return goerr.Wrap(err, "failed to create bigquery client")
	}
	cleanup.add(closeWith(ctx, "bigquery", closeFn))

	opts := []bqagent.Option{bqagent.WithScanLimitMB(cfg.scanLimitMB)}
	if cfg.runBookDir != "" {
		runBooks, err := bqagent.LoadRunBooks(cfg.runBookDir)
		if err != nil {
			return err
		}
		opts = append(opts, bqagent.WithRunBooks(runBooks))
	}
	if cfg.tablesFile != "" {
		tables, err := bqagent.LoadTables(cfg.tablesFile)
		if err != nil {
			return err
		}
		opts = append(opts, bqagent.WithTables(tables))
	}

	a := bqagent.New(client, opts...)
	if _, err := rt.Install(ctx, a.Manifest(), a); err != nil {
		return goerr.Wrap(err, "failed to install bigquery agent")
	}
	return nil
}

// newPlanner loads consultation policies. Without --policy-dir the planner is disabled.
func (cfg *config) newPlanner(ctx context.Context) (*policy.Planner, error) {
	if cfg.policyDir == "" {
		return nil, nil
	}
	return policy.Load(ctx, cfg.policyDir)
}

// newArchive creates the Cloud Storage archive. Without --archive-bucket it is nil.
func (cfg *config) newArchive(ctx context.Context, cleanup *closers) (adapter.Storage, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}

	var opts []adapter.StorageOption
	if cfg.archivePrefix != "" {
		opts = append(opts, adapter.WithObjectPrefix(cfg.archivePrefix))
	}
	storage, closeFn, err := adapter.NewStorage(ctx, cfg.archiveBucket, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	cleanup.add(closeWith(ctx, "storage", closeFn))
	return storage, nil
}

// components is everything a command may need, built from config
type components struct {
	repo      repository.Repository
	provider  adapter.Provider
	runtime   *agent.Runtime
	memories  *memory.UseCase
	decisions *decision.UseCase
}

// build wires repository, provider, agents, policy and archive into use cases
func (cfg *config) build(ctx context.Context, cleanup *closers) (*components, error) {
	repo, err := cfg.newRepository(ctx, cleanup)
	if err != nil {
		return nil, err
	}

	provider, err := cfg.newProvider(ctx, cleanup)
	if err != nil {
		return nil, err
	}

	rt, err := cfg.newRuntime(ctx, repo, provider, cleanup)
	if err != nil {
		return nil, err
	}

	planner, err := cfg.newPlanner(ctx)
	if err != nil {
		return nil, err
	}

	archive, err := cfg.newArchive(ctx, cleanup)
	if err != nil {
		return nil, err
	}

	opts := []decision.Option{
		decision.WithRuntime(rt),
		decision.WithDimension(cfg.dimension()),
		decision.WithProviderTimeout(cfg.providerTimeout),
	}
	if planner != nil {
		opts = append(opts, decision.WithPlanner(planner))
	}
	if archive != nil {
		opts = append(opts, decision.WithArchive(archive))
	}

	return &components{
		repo:     repo,
		provider: provider,
		runtime:  rt,
		memories: memory.New(repo, provider,
			memory.WithDimension(cfg.dimension()),
			memory.WithProviderTimeout(cfg.providerTimeout),
		),
		decisions: decision.New(repo, provider, opts...),
	}, nil
}

// newLogger builds the process logger from --log-level and --log-format
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.NewWithFormat(level, format, w)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure logger")
	}
	return logger, nil
}
