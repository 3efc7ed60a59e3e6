package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/metrics"
	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/store"
)

// ConfigObserver is called on every configuration state transition.
type ConfigObserver func(state model.ConfigState, err error)

// LocalService guards configuration reads: the local federation service
// must be running before the store is read.
type LocalService interface {
	EnsureLocal(ctx context.Context) error
}

// ConfigController owns the single in-memory Configuration of this
// process and its persistence. Mutations go through Update so the dirty
// flag always tracks divergence from the last persisted snapshot.
//
// Observers run synchronously and must not call back into the controller's
// operations.
type ConfigController struct {
	store     store.ConfigStore
	cache     store.Cache
	bus       notify.Bus
	guard     LocalService
	logger    zerolog.Logger
	localName string

	// op serializes Load, Save and Reload.
	op sync.Mutex

	mu        sync.Mutex
	cfg       *model.Configuration
	snapshot  *model.Configuration
	state     model.ConfigState
	observers []ConfigObserver
}

// NewConfigController creates a controller with nothing loaded.
func NewConfigController(st store.ConfigStore, cache store.Cache, bus notify.Bus, guard LocalService, logger zerolog.Logger, localName string) *ConfigController {
	c := &ConfigController{
		store:     st,
		cache:     cache,
		bus:       bus,
		guard:     guard,
		logger:    logger.With().Str("component", "config-state").Logger(),
		localName: localName,
	}
	c.observers = []ConfigObserver{c.record}
	return c
}

// Observe installs an additional observer after the built-in one.
func (c *ConfigController) Observe(o ConfigObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the current lifecycle state.
func (c *ConfigController) State() model.ConfigState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loaded reports whether a configuration is held in memory.
func (c *ConfigController) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg != nil
}

// Current returns a copy of the in-memory configuration, or nil.
func (c *ConfigController) Current() *model.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

// Snapshot returns a copy of the last persisted configuration, or nil.
func (c *ConfigController) Snapshot() *model.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

func (c *ConfigController) record(state model.ConfigState, _ error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	metrics.ObserveConfigState(state)
}

func (c *ConfigController) emit(state model.ConfigState, err error) {
	c.mu.Lock()
	obs := append([]ConfigObserver(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range obs {
		o(state, err)
	}
}

// Ensure loads the configuration unless one is already in memory. Every
// configuration-dependent operation passes through it.
func (c *ConfigController) Ensure(ctx context.Context) error {
	if c.Loaded() {
		return nil
	}
	return c.Load(ctx)
}

// Load makes sure the local service runs, then reads the configuration
// from the durable store. On failure the previous in-memory configuration
// is kept.
func (c *ConfigController) Load(ctx context.Context) error {
	if err := c.guard.EnsureLocal(ctx); err != nil {
		c.emit(model.ConfigError, err)
		return err
	}
	return c.read(ctx)
}

// Reload re-reads the durable store without the service guard. It is the
// reaction to configuration notifications from other nodes.
func (c *ConfigController) Reload(ctx context.Context) error {
	return c.read(ctx)
}

func (c *ConfigController) read(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	cfg, err := c.store.Read(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: no configuration stored", ErrFarmNotInitialized)
		} else {
			err = fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
		}
		c.emit(model.ConfigError, err)
		return err
	}
	if !cfg.Farm.Initialized {
		err := fmt.Errorf("%w: stored farm topology was never discovered", ErrFarmNotInitialized)
		c.emit(model.ConfigError, err)
		return err
	}

	cfg.Dirty = false
	c.mu.Lock()
	c.cfg = cfg
	c.snapshot = cfg.Clone()
	c.mu.Unlock()

	c.mirror(cfg)
	metrics.ObserveTopology(len(cfg.Farm.Nodes))
	c.emit(model.ConfigLoaded, nil)
	return nil
}

// LoadCached installs the cache mirror when nothing is in memory. It lets
// a node answer read-only queries while the durable store is unreachable.
func (c *ConfigController) LoadCached() error {
	if c.Loaded() {
		return nil
	}
	cfg, err := c.cache.Load()
	if err != nil {
		return fmt.Errorf("load cached configuration: %w", err)
	}
	cfg.Dirty = false
	c.mu.Lock()
	c.cfg = cfg
	c.snapshot = cfg.Clone()
	c.mu.Unlock()
	c.emit(model.ConfigLoaded, nil)
	return nil
}

// Update applies fn to the in-memory configuration. When fn reports a
// change the configuration is marked dirty.
func (c *ConfigController) Update(fn func(cfg *model.Configuration) bool) error {
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no configuration loaded", ErrFarmNotInitialized)
	}
	changed := fn(c.cfg)
	if changed {
		c.cfg.Dirty = true
	}
	c.mu.Unlock()

	if changed {
		c.emit(model.ConfigDirty, nil)
	}
	return nil
}

// MarkDirty flags the in-memory configuration as diverged from the store.
func (c *ConfigController) MarkDirty() {
	_ = c.Update(func(*model.Configuration) bool { return true })
}

// Save writes the configuration through to the durable store and tells
// other nodes to reload. A failed write leaves the configuration dirty and
// the persisted snapshot untouched.
func (c *ConfigController) Save(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no configuration loaded", ErrFarmNotInitialized)
	}
	pending := c.cfg.Clone()
	c.mu.Unlock()

	pending.Dirty = false
	if err := c.store.Write(ctx, pending); err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
		c.emit(model.ConfigError, err)
		return err
	}

	c.mu.Lock()
	if c.cfg != nil {
		c.cfg.Dirty = false
	}
	c.snapshot = pending
	c.mu.Unlock()

	c.mirror(pending)
	metrics.ObserveTopology(len(pending.Farm.Nodes))
	c.emit(model.ConfigSaved, nil)
	c.bus.Publish(ctx, notify.New(model.NotifyConfigReload, c.localName))
	return nil
}

// Replace writes cfg over the durable store, then reloads from it so the
// in-memory copy is exactly what was stored, and tells other nodes to
// reload.
func (c *ConfigController) Replace(ctx context.Context, cfg *model.Configuration) error {
	pending := cfg.Clone()
	pending.Dirty = false

	c.op.Lock()
	err := c.store.Write(ctx, pending)
	c.op.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
		c.emit(model.ConfigError, err)
		return err
	}

	if err := c.read(ctx); err != nil {
		return err
	}
	c.emit(model.ConfigSaved, nil)
	c.bus.Publish(ctx, notify.New(model.NotifyConfigReload, c.localName))
	return nil
}

// Stop records a deliberate deactivation.
func (c *ConfigController) Stop() {
	c.emit(model.ConfigStopped, nil)
}

// Fail records a failure that invalidates the current configuration attempt.
func (c *ConfigController) Fail(err error) {
	c.emit(model.ConfigError, err)
}

// Create installs a fresh, unsaved configuration.
func (c *ConfigController) Create(cfg *model.Configuration) {
	cfg.Dirty = true
	c.mu.Lock()
	c.cfg = cfg
	c.snapshot = nil
	c.mu.Unlock()
	c.emit(model.ConfigDirty, nil)
}

// Destroy deletes the durable configuration, then clears local state.
func (c *ConfigController) Destroy(ctx context.Context) error {
	c.op.Lock()
	err := c.store.Delete(ctx)
	c.op.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
		c.emit(model.ConfigError, err)
		return err
	}
	c.Clear()
	return nil
}

// Clear drops the in-memory configuration and the cache mirror.
func (c *ConfigController) Clear() {
	c.mu.Lock()
	c.cfg = nil
	c.snapshot = nil
	c.mu.Unlock()
	if err := c.cache.Delete(); err != nil {
		c.logger.Warn().Err(err).Str("step", "delete_cache").Msg("best-effort step failed")
	}
	c.emit(model.ConfigUnknown, nil)
}

func (c *ConfigController) mirror(cfg *model.Configuration) {
	if err := c.cache.Save(cfg); err != nil {
		c.logger.Warn().Err(err).Str("step", "write_cache").Msg("best-effort step failed")
	}
}
