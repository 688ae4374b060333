package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/pricecache/internal/catalog"
	"github.com/bobmcallan/pricecache/internal/clients/yahoo"
	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/services/jobmanager"
	"github.com/bobmcallan/pricecache/internal/services/market"
	"github.com/bobmcallan/pricecache/internal/storage"
)

// App holds the initialized catalog, store, provider client and services.
// It is the shared core used by cmd/pricecache-server and the HTTP layer.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Catalog       interfaces.AssetCatalog
	Store         interfaces.PriceStore
	Client        interfaces.MarketDataClient
	MarketService interfaces.MarketService
	Jobs          interfaces.JobScheduler
	StartupTime   time.Time

	priceStore *storage.PriceStore
	jobManager *jobmanager.JobManager
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath picks the config file: the provided path, PRICECACHE_CONFIG,
// then the binary directory, then the development fallback.
func resolveConfigPath(configPath, binDir string) string {
	if configPath == "" {
		configPath = os.Getenv("PRICECACHE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "pricecache.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/pricecache.toml"
		}
	}
	return configPath
}

// resolveRelative anchors a relative path at the binary directory when the
// file exists there, leaving it relative to the working directory otherwise.
func resolveRelative(path, binDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	candidate := filepath.Join(binDir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// NewApp loads configuration and wires every component.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()
	common.LoadVersionFromFile(binDir)

	config, err := common.LoadConfig(resolveConfigPath(configPath, binDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.Catalog.Path = resolveRelative(config.Catalog.Path, binDir)

	// The snapshot directory may not exist yet, so anchor on its parent.
	if p := config.Storage.File.Path; p != "" && !filepath.IsAbs(p) {
		if _, err := os.Stat(filepath.Join(binDir, filepath.Dir(p))); err == nil {
			config.Storage.File.Path = filepath.Join(binDir, p)
		}
	}

	return New(config, common.NewLoggerFromConfig(config.Logging))
}

// New wires an App from an already loaded config.
func New(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	ctx := context.Background()

	assets, err := catalog.Load(config.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset catalog: %w", err)
	}
	logger.Info().Str("path", config.Catalog.Path).Int("assets", assets.Len()).Msg("Asset catalog loaded")

	if config.IsProduction() && config.Admin.Secret == "" {
		logger.Warn().Str("environment", config.Environment).Msg("Admin secret not set, /api/admin routes are open")
	}

	backend, err := storage.NewSnapshotBackend(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store := storage.NewPriceStore(backend, logger)
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load price snapshot: %w", err)
	}

	yc := config.Clients.Yahoo
	opts := []yahoo.ClientOption{
		yahoo.WithLogger(logger),
		yahoo.WithRateLimit(yc.RateLimit),
		yahoo.WithTimeout(yc.GetTimeout()),
	}
	if yc.BaseURL != "" {
		opts = append(opts, yahoo.WithBaseURL(yc.BaseURL))
	}
	if yc.UserAgent != "" {
		opts = append(opts, yahoo.WithUserAgent(yc.UserAgent))
	}
	client := yahoo.NewClient(opts...)

	marketService := market.NewService(store, client, assets, logger,
		market.WithTTL(config.Cache.GetTTL()),
		market.WithRefreshPolicy(market.RefreshPolicyFromConfig(config)),
	)

	jobManager := jobmanager.NewJobManager(marketService, store, logger, config.Refresh)

	a := &App{
		Config:        config,
		Logger:        logger,
		Catalog:       assets,
		Store:         store,
		Client:        client,
		MarketService: marketService,
		Jobs:          jobManager,
		StartupTime:   startupStart,
		priceStore:    store,
		jobManager:    jobManager,
	}

	logger.Info().
		Str("version", common.GetBuildInfo().String()).
		Int("cached_symbols", store.Len()).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// StartScheduler registers the refresh schedule and the startup run.
func (a *App) StartScheduler() error {
	if a.jobManager == nil {
		return nil
	}
	return a.jobManager.Start()
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, then close storage.
func (a *App) Close() {
	if a.jobManager != nil {
		a.jobManager.Stop()
		a.jobManager = nil
	}
	if a.priceStore != nil {
		if err := a.priceStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close price store")
		}
		a.priceStore = nil
	}
}
