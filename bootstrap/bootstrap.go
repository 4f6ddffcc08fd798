// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/marketlens/insightgate/adapters/clock"
	"github.com/marketlens/insightgate/adapters/hasher"
	apihttp "github.com/marketlens/insightgate/adapters/http"
	"github.com/marketlens/insightgate/adapters/idgen"
	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/marketlens/insightgate/app"
	"github.com/marketlens/insightgate/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Stores     *Stores
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Auth     *app.Authenticator
	Engine   *app.Engine
	Insights *app.InsightService

	holder *config.Holder
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is the YAML file. When it does not exist, configuration
	// comes from INSIGHTGATE_* environment variables.
	ConfigPath string

	// Version is reported by /version.
	Version string

	// Watch enables hot reload on file change and SIGHUP.
	Watch bool

	// LogOutput overrides stdout.
	LogOutput io.Writer
}

// New loads configuration and creates the application.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	a, err := NewWithConfig(cfg, opts)
	if err != nil {
		return nil, err
	}

	if opts.Watch && opts.ConfigPath != "" {
		if _, statErr := os.Stat(opts.ConfigPath); statErr == nil {
			if err := a.watch(opts.ConfigPath); err != nil {
				a.Logger.Warn().Err(err).Msg("config hot reload disabled")
			}
		}
	}

	return a, nil
}

// NewWithConfig creates the application from an already loaded configuration.
func NewWithConfig(cfg *config.Config, opts Options) (*App, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := SetupLogger(cfg.Logging, out)

	logger.Info().Msg("initializing insightgate")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	stores, err := OpenStores(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	a.Stores = stores

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = metrics.NewWithRegistry(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		logger.Info().Msg("prometheus metrics enabled")
	}

	a.buildServices(cfg)

	router := apihttp.NewRouter(
		apihttp.NewInsightHandler(a.Insights, logger, a.Metrics),
		apihttp.NewHealthHandler(stores.Checks),
		logger,
		apihttp.RouterConfig{
			Metrics:        a.Metrics,
			MetricsHandler: metricsHandler,
			Version:        opts.Version,
			RequestTimeout: cfg.Server.RequestTimeout,
			EnableOpenAPI:  cfg.Server.OpenAPI,
		},
	)

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) buildServices(cfg *config.Config) {
	clk := clock.Real{}

	a.Auth = app.NewAuthenticator(app.AuthDeps{
		Clients: a.Stores.Directory,
		Ledger:  a.Stores.Ledger,
		Hasher:  hasher.NewBcrypt(cfg.Auth.BcryptCost),
		Clock:   clk,
		Logger:  a.Logger.With().Str("component", "auth").Logger(),
		Metrics: a.Metrics,
	}, app.AuthConfig{
		KeyPrefix: cfg.Auth.KeyPrefix,
		Tiers:     cfg.QuotaTiers(),
	})

	a.Engine = app.NewEngine(a.Stores.Observations, clk, cfg.Insights.KThreshold, a.Metrics)

	a.Insights = app.NewInsightService(app.InsightDeps{
		Auth:    a.Auth,
		Engine:  a.Engine,
		Ledger:  a.Stores.Ledger,
		Clock:   clk,
		IDGen:   idgen.UUID{},
		Logger:  a.Logger,
		Metrics: a.Metrics,
	}, app.InsightConfig{
		Defaults:     cfg.InsightDefaults(),
		QueryTimeout: cfg.Insights.QueryTimeout,
	})

	a.Logger.Info().
		Int("k_threshold", a.Engine.Threshold()).
		Int("tiers", len(cfg.Tiers)).
		Str("ledger", cfg.Ledger.Driver).
		Str("observations", cfg.Observations.Driver).
		Str("directory", cfg.Directory.Mode).
		Msg("services initialized")
}

func (a *App) watch(path string) error {
	h, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return err
	}
	h.OnChange(a.ApplyConfig)
	h.OnError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})
	if err := h.WatchFile(); err != nil {
		h.Stop()
		return err
	}
	h.WatchSignals()
	a.holder = h
	return nil
}

// ApplyConfig pushes the reloadable parts of cfg into the running services.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Auth.UpdateTiers(cfg.QuotaTiers())
	a.Insights.UpdateDefaults(cfg.InsightDefaults())

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	}
	a.Logger.Info().Int("tiers", len(cfg.Tiers)).Msg("configuration applied")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("store close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// SetupLogger builds the root logger and sets the global level.
func SetupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
