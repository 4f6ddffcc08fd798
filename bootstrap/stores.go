package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketlens/insightgate/adapters/postgres"
	"github.com/marketlens/insightgate/adapters/redis"
	"github.com/marketlens/insightgate/adapters/remote"
	"github.com/marketlens/insightgate/adapters/sqlite"
	"github.com/marketlens/insightgate/config"
	"github.com/marketlens/insightgate/ports"
	"github.com/rs/zerolog"
)

// Stores holds the storage adapters selected by configuration.
type Stores struct {
	DB *sqlite.DB

	// Clients is the local directory. Operator commands always write here.
	Clients *sqlite.ClientStore

	// Directory is what the authenticator reads: Clients or the remote service.
	Directory ports.ClientDirectory

	Ledger       ports.UsageLedger
	Observations ports.ObservationSource

	// LocalObservations is set when observations live in the local database.
	LocalObservations *sqlite.ObservationStore

	// Checks are pinged by the readiness endpoint.
	Checks map[string]ports.Pinger

	closers []func() error
}

// OpenStores opens the local database, runs migrations and connects the
// configured ledger, observation source and client directory.
func OpenStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Stores, error) {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("dsn", cfg.Database.DSN).Str("schema", schema).Msg("database initialized")

	s := &Stores{
		DB:      db,
		Clients: sqlite.NewClientStore(db),
		Checks:  map[string]ports.Pinger{"database": db},
		closers: []func() error{db.Close},
	}

	if err := s.openLedger(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openObservations(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}
	s.openDirectory(cfg, logger)

	return s, nil
}

func (s *Stores) openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	switch cfg.Ledger.Driver {
	case config.DriverRedis:
		rc := cfg.Ledger.Redis
		ledger := redis.NewLedger(redis.NewClient(rc.Addr, rc.Password, rc.DB), redis.Options{
			KeyPrefix:  rc.KeyPrefix,
			CounterTTL: rc.CounterTTL,
			MaxRecords: rc.MaxRecords,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ledger.Ping(pingCtx); err != nil {
			ledger.Close()
			return fmt.Errorf("connect redis ledger: %w", err)
		}

		s.Ledger = ledger
		s.Checks["ledger"] = ledger
		s.closers = append(s.closers, ledger.Close)
		logger.Info().Str("addr", rc.Addr).Msg("using redis usage ledger")
	default:
		s.Ledger = sqlite.NewLedger(s.DB)
		logger.Info().Msg("using sqlite usage ledger")
	}
	return nil
}

func (s *Stores) openObservations(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	switch cfg.Observations.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Observations.DSN)
		if err != nil {
			return err
		}
		src := postgres.NewObservationSource(db)
		s.Observations = src
		s.Checks["observations"] = src
		s.closers = append(s.closers, db.Close)
		logger.Info().Msg("reading observations from postgres")
	default:
		s.LocalObservations = sqlite.NewObservationStore(s.DB)
		s.Observations = s.LocalObservations
		logger.Info().Msg("reading observations from local database")
	}
	return nil
}

func (s *Stores) openDirectory(cfg *config.Config, logger zerolog.Logger) {
	if cfg.Directory.Mode != config.DirectoryRemote {
		s.Directory = s.Clients
		return
	}

	rc := cfg.Directory.Remote
	dir := remote.NewDirectory(remote.NewClient(remote.ClientConfig{
		BaseURL: rc.URL,
		APIKey:  rc.APIKey,
		Timeout: rc.Timeout,
		Headers: rc.Headers,
	}))
	s.Directory = dir
	s.Checks["directory"] = dir
	logger.Info().Str("url", rc.URL).Msg("using remote client directory")
}

// Close releases every store in reverse order of opening.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
