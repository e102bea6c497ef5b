package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/quotefeed/internal/calendar"
	"github.com/bobmcallan/quotefeed/internal/clients"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/services/fetcher"
	"github.com/bobmcallan/quotefeed/internal/services/portfolio"
	"github.com/bobmcallan/quotefeed/internal/services/quoteindex"
	"github.com/bobmcallan/quotefeed/internal/services/quotemanager"
	"github.com/bobmcallan/quotefeed/internal/services/throttle"
	"github.com/bobmcallan/quotefeed/internal/storage"
)

// App holds all initialized services and storage.
// It is the shared core used by both cmd/quotefeed-server and cmd/quotefeed.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Calendar    *calendar.Calendar
	Histories   interfaces.HistoryStore
	Throttles   *throttle.Registry
	Portfolio   *portfolio.Service
	PriceIndex  *quoteindex.Index
	Quotes      *quotemanager.Manager
	StartupTime time.Time

	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration and initializes all services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Load configuration - check provided path, QUOTEFEED_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("QUOTEFEED_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "quotefeed.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/quotefeed.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths to the binary directory
	for _, p := range []*string{&config.Storage.Path, &config.Portfolio.Path, &config.Logging.FilePath, &config.Calendar.HolidaysFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(binDir, *p)
		}
	}

	return NewAppFromConfig(config, common.NewLoggerFromConfig(config.Logging))
}

// NewAppFromConfig initializes all services from an already loaded config.
func NewAppFromConfig(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	histories, err := storage.NewHistoryStore(logger, &config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cal, err := calendar.Load(config.Calendar.HolidaysFile)
	if err != nil {
		histories.Close()
		return nil, err
	}

	portfolioService, err := portfolio.NewService(logger, config.Portfolio.Path)
	if err != nil {
		histories.Close()
		return nil, err
	}

	registry := throttle.NewRegistry(config.Storage.ThrottleDir(),
		throttle.WithLogger(logger),
		throttle.WithDebounce(config.Quotes.GetThrottleDebounce()),
	)

	index := quoteindex.New(portfolioService, histories, quoteindex.WithLogger(logger))

	manager := quotemanager.NewManager(portfolioService, index, histories, registry, logger,
		quotemanager.WithCalendar(cal),
		quotemanager.WithHistoryMaxAge(config.Quotes.GetHistoryMaxAge()),
		quotemanager.WithClientOptions(clients.Options{
			Logger:  logger,
			Timeout: config.Quotes.GetHTTPTimeout(),
		}),
		quotemanager.WithFetcherOptions(fetcher.WithPostCallDelay(config.Quotes.GetPostCallDelay())),
	)

	a := &App{
		Config:      config,
		Logger:      logger,
		Calendar:    cal,
		Histories:   histories,
		Throttles:   registry,
		Portfolio:   portfolioService,
		PriceIndex:  index,
		Quotes:      manager,
		StartupTime: startupStart,
	}

	if config.Quotes.Provider != "" {
		settings, err := clients.SettingsFromConfig(config.Quotes.Provider, config)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := manager.SetProvider(settings); err != nil {
			a.Close()
			return nil, err
		}
		if settings.APIKey == "" && clients.RequiresAPIKey(settings.Name) {
			logger.Warn().Str("provider", settings.Name).Msg("API key not configured - requests will likely be rejected")
		}
	} else {
		logger.Warn().Msg("No quote provider configured - quotes will not be fetched")
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
// Shutdown order: cancel scheduler, stop fetching, flush throttles, save portfolio, close storage.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Quotes != nil {
		a.Quotes.Close()
		a.Quotes = nil
	}
	if a.PriceIndex != nil {
		a.PriceIndex.Close()
		a.PriceIndex = nil
	}
	if a.Throttles != nil {
		a.Throttles.Close()
		a.Throttles = nil
	}
	if a.Portfolio != nil {
		if err := a.Portfolio.Save(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to save portfolio on close")
		}
		a.Portfolio = nil
	}
	if a.Histories != nil {
		a.Histories.Close()
		a.Histories = nil
	}
}

// StartPriceScheduler launches the background quote refresh goroutine.
// A zero refresh interval leaves the scheduler off.
func (a *App) StartPriceScheduler() {
	interval := a.Config.Quotes.GetRefreshInterval()
	if interval <= 0 {
		a.Logger.Debug().Msg("Price scheduler: disabled")
		return
	}
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	a.schedulerCancel = schedulerCancel
	go startPriceScheduler(schedulerCtx, a.Quotes, a.Logger, interval)
}
