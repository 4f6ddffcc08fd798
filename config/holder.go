package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// Holder owns the live configuration and reloads it on file change or SIGHUP.
// Listeners only ever see configurations that passed validation.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	onChange []func(*Config)
	onError  []func(error)

	watcher  *fsnotify.Watcher
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// OnChange registers fn to receive every successfully reloaded configuration.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers fn to receive reload failures.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// Reload reads the file again. On failure the current configuration stays.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.mu.RLock()
		listeners := h.onError
		h.mu.RUnlock()

		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		for _, fn := range listeners {
			fn(err)
		}
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.config
	h.config = next
	listeners := h.onChange
	h.mu.Unlock()

	h.logDiff(Diff(prev, next))
	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// WatchFile reloads when the file is written or replaced. The parent
// directory is watched so atomic renames are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop(filepath.Base(h.path))

	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop is called.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("SIGHUP received")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
		h.mu.Lock()
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Unlock()
	})
}

func (h *Holder) watchLoop(filename string) {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.scheduleReload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) scheduleReload() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.timer != nil {
		h.timer.Reset(reloadDebounce)
		return
	}
	h.timer = time.AfterFunc(reloadDebounce, func() {
		select {
		case <-h.stopCh:
			return
		default:
		}
		h.Reload()
	})
}

// field is one configuration value tracked across reloads.
type field struct {
	name       string
	reloadable bool
	value      func(*Config) any
}

var fields = []field{
	{"server.host", false, func(c *Config) any { return c.Server.Host }},
	{"server.port", false, func(c *Config) any { return c.Server.Port }},
	{"server.openapi", false, func(c *Config) any { return c.Server.OpenAPI }},
	{"database.dsn", false, func(c *Config) any { return c.Database.DSN }},
	{"ledger.driver", false, func(c *Config) any { return c.Ledger.Driver }},
	{"ledger.redis", false, func(c *Config) any { return c.Ledger.Redis }},
	{"observations.driver", false, func(c *Config) any { return c.Observations.Driver }},
	{"observations.dsn", false, func(c *Config) any { return c.Observations.DSN }},
	{"directory.mode", false, func(c *Config) any { return c.Directory.Mode }},
	{"directory.remote", false, func(c *Config) any { return c.Directory.Remote }},
	{"auth.key_prefix", false, func(c *Config) any { return c.Auth.KeyPrefix }},
	{"auth.bcrypt_cost", false, func(c *Config) any { return c.Auth.BcryptCost }},
	{"insights.k_threshold", false, func(c *Config) any { return c.Insights.KThreshold }},
	{"insights.query_timeout", false, func(c *Config) any { return c.Insights.QueryTimeout }},
	{"metrics.enabled", false, func(c *Config) any { return c.Metrics.Enabled }},

	{"tiers", true, func(c *Config) any { return c.Tiers }},
	{"insights.default_category_weeks", true, func(c *Config) any { return c.Insights.DefaultCategoryWeeks }},
	{"insights.default_trend_weeks", true, func(c *Config) any { return c.Insights.DefaultTrendWeeks }},
	{"insights.max_weeks", true, func(c *Config) any { return c.Insights.MaxWeeks }},
	{"logging.level", true, func(c *Config) any { return c.Logging.Level }},
}

// ReloadableFields returns which fields take effect without a restart.
func ReloadableFields() []string {
	return fieldNames(true)
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return fieldNames(false)
}

func fieldNames(reloadable bool) []string {
	var names []string
	for _, f := range fields {
		if f.reloadable == reloadable {
			names = append(names, f.name)
		}
	}
	return names
}

// Changes describes the difference between two configurations.
type Changes struct {
	Applied         []string // reloadable fields that changed
	RestartRequired []string // changed fields that only take effect after restart

	TiersAdded   []string
	TiersRemoved []string
	TiersChanged []string // daily limit or default flag changed
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Applied) == 0 && len(c.RestartRequired) == 0
}

// Diff compares two configurations field by field.
func Diff(prev, next *Config) Changes {
	var c Changes
	for _, f := range fields {
		if reflect.DeepEqual(f.value(prev), f.value(next)) {
			continue
		}
		if f.reloadable {
			c.Applied = append(c.Applied, f.name)
		} else {
			c.RestartRequired = append(c.RestartRequired, f.name)
		}
	}

	before := make(map[string]TierConfig, len(prev.Tiers))
	for _, t := range prev.Tiers {
		before[t.ID] = t
	}
	for _, t := range next.Tiers {
		old, ok := before[t.ID]
		switch {
		case !ok:
			c.TiersAdded = append(c.TiersAdded, t.ID)
		case old.RequestsPerDay != t.RequestsPerDay || old.Default != t.Default:
			c.TiersChanged = append(c.TiersChanged, t.ID)
		}
		delete(before, t.ID)
	}
	for id := range before {
		c.TiersRemoved = append(c.TiersRemoved, id)
	}
	sort.Strings(c.TiersRemoved)

	return c
}

func (h *Holder) logDiff(c Changes) {
	if c.Empty() {
		h.logger.Info().Msg("config reloaded, no changes")
		return
	}

	h.logger.Info().
		Strs("applied", c.Applied).
		Strs("tiers_added", c.TiersAdded).
		Strs("tiers_removed", c.TiersRemoved).
		Strs("tiers_changed", c.TiersChanged).
		Msg("config reloaded")

	if len(c.RestartRequired) > 0 {
		h.logger.Warn().
			Strs("fields", c.RestartRequired).
			Msg("changed fields take effect after restart")
	}
}
