package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/svcctl"
)

type configLog struct {
	states []model.ConfigState
	errs   []error
}

func (l *configLog) observe(state model.ConfigState, err error) {
	l.states = append(l.states, state)
	l.errs = append(l.errs, err)
}

func watchConfig(h *harness) *configLog {
	log := &configLog{}
	h.configs.Observe(log.observe)
	return log
}

// ---------- Load ----------

func TestConfigController_Load_Success(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	log := watchConfig(h)

	require.NoError(t, h.configs.Load(context.Background()))
	assert.Equal(t, []model.ConfigState{model.ConfigLoaded}, log.states)
	assert.Equal(t, model.ConfigLoaded, h.configs.State())

	cfg := h.configs.Current()
	require.NotNil(t, cfg)
	assert.False(t, cfg.Dirty)
	assert.Equal(t, []string{localFQDN, remoteFQDN}, cfg.Farm.Names())
	assert.NotNil(t, h.cache.cfg, "load mirrors into the cache")
}

func TestConfigController_Load_StartsLocalService(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	h.scm.set(mfaName, "", svcctl.StatusStopped)

	require.NoError(t, h.configs.Load(context.Background()))
	assert.Equal(t, svcctl.StatusRunning, h.scm.get(mfaName, ""))
}

func TestConfigController_Load_NotInitialized(t *testing.T) {
	h := newHarness(t.TempDir())
	log := watchConfig(h)

	err := h.configs.Load(context.Background())
	assert.ErrorIs(t, err, ErrFarmNotInitialized)
	assert.Equal(t, []model.ConfigState{model.ConfigError}, log.states)
	assert.False(t, h.configs.Loaded())
}

func TestConfigController_Load_UndiscoveredFarm(t *testing.T) {
	h := newHarness(t.TempDir())
	cfg := h.seed()
	cfg.Farm.Initialized = false
	h.store.cfg = cfg

	err := h.configs.Load(context.Background())
	assert.ErrorIs(t, err, ErrFarmNotInitialized)
	assert.True(t, IsNotInitialized(err))
}

func TestConfigController_Load_StoreUnavailableKeepsPrevious(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	ctx := context.Background()
	require.NoError(t, h.configs.Load(ctx))

	h.store.readErr = errors.New("connection refused")
	err := h.configs.Load(ctx)
	assert.ErrorIs(t, err, ErrConfigurationUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, h.configs.Loaded())
	assert.Equal(t, model.ConfigError, h.configs.State())
}

func TestConfigController_Load_PlatformMissing(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	h.scm.queryErr[scmKey(mfaName, "")] = errors.New("service does not exist")

	err := h.configs.Load(context.Background())
	assert.ErrorIs(t, err, ErrPlatformUnsupported)
	assert.Zero(t, h.store.reads)
}

func TestConfigController_Ensure_LoadsOnce(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	ctx := context.Background()

	require.NoError(t, h.configs.Ensure(ctx))
	require.NoError(t, h.configs.Ensure(ctx))
	assert.Equal(t, 1, h.store.reads)
}

func TestConfigController_LoadCached(t *testing.T) {
	h := newHarness(t.TempDir())
	cfg := h.seed()
	h.cache.cfg = cfg.Clone()
	h.store.readErr = errors.New("connection refused")

	require.NoError(t, h.configs.LoadCached())
	assert.True(t, h.configs.Loaded())
	assert.Equal(t, cfg.Farm.Names(), h.configs.Current().Farm.Names())
}

// ---------- Update / Save ----------

func TestConfigController_Update_MarksDirty(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	ctx := context.Background()
	require.NoError(t, h.configs.Load(ctx))
	log := watchConfig(h)

	require.NoError(t, h.configs.Update(func(cfg *model.Configuration) bool { return false }))
	assert.Empty(t, log.states)
	assert.False(t, h.configs.Current().Dirty)

	require.NoError(t, h.configs.Update(func(cfg *model.Configuration) bool {
		cfg.Theme.Name = "contoso"
		return true
	}))
	assert.Equal(t, []model.ConfigState{model.ConfigDirty}, log.states)
	assert.True(t, h.configs.Current().Dirty)
	assert.Equal(t, "default", h.configs.Snapshot().Theme.Name)
}

func TestConfigController_Update_NothingLoaded(t *testing.T) {
	h := newHarness(t.TempDir())
	err := h.configs.Update(func(*model.Configuration) bool { return true })
	assert.ErrorIs(t, err, ErrFarmNotInitialized)
}

func TestConfigController_Save_Success(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	ctx := context.Background()
	require.NoError(t, h.configs.Load(ctx))
	h.configs.MarkDirty()
	h.bus.Reset()
	log := watchConfig(h)

	require.NoError(t, h.configs.Save(ctx))
	assert.Equal(t, []model.ConfigState{model.ConfigSaved}, log.states)
	assert.False(t, h.configs.Current().Dirty)
	assert.False(t, h.store.Stored().Dirty)
	assert.Equal(t, []model.NotificationKind{model.NotifyConfigReload}, h.bus.Kinds())
	assert.Equal(t, localFQDN, h.bus.sent[0].Text)
}

func TestConfigController_Save_FailureStaysDirty(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	ctx := context.Background()
	require.NoError(t, h.configs.Load(ctx))
	require.NoError(t, h.configs.Update(func(cfg *model.Configuration) bool {
		cfg.Theme.Name = "contoso"
		return true
	}))
	h.store.writeErr = errors.New("deadlock victim")
	h.bus.Reset()
	log := watchConfig(h)

	err := h.configs.Save(ctx)
	assert.ErrorIs(t, err, ErrConfigurationUnavailable)
	assert.Equal(t, []model.ConfigState{model.ConfigError}, log.states)
	assert.True(t, h.configs.Current().Dirty)
	assert.Equal(t, "default", h.configs.Snapshot().Theme.Name)
	assert.Equal(t, "default", h.store.Stored().Theme.Name)
	assert.Empty(t, h.bus.sent)
}

func TestConfigController_Save_NothingLoaded(t *testing.T) {
	h := newHarness(t.TempDir())
	assert.ErrorIs(t, h.configs.Save(context.Background()), ErrFarmNotInitialized)
	assert.Zero(t, h.store.writes)
}

// ---------- Lifecycle ----------

func TestConfigController_Replace_ReloadsFromStore(t *testing.T) {
	h := loadedHarness(t)
	log := watchConfig(h)
	cfg := h.configs.Current()
	cfg.Theme.Name = "contoso"
	cfg.Dirty = true
	reads := h.store.reads

	require.NoError(t, h.configs.Replace(context.Background(), cfg))
	assert.Equal(t, []model.ConfigState{model.ConfigLoaded, model.ConfigSaved}, log.states)
	assert.Equal(t, reads+1, h.store.reads)
	assert.False(t, h.store.Stored().Dirty)
	assert.Equal(t, "contoso", h.configs.Snapshot().Theme.Name)
	assert.False(t, h.configs.Current().Dirty)
	assert.Equal(t, 1, h.bus.Count(model.NotifyConfigReload))
}

func TestConfigController_Replace_WriteFailureKeepsCurrent(t *testing.T) {
	h := loadedHarness(t)
	cfg := h.configs.Current()
	cfg.Theme.Name = "contoso"
	h.store.writeErr = errors.New("store down")

	err := h.configs.Replace(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfigurationUnavailable)
	assert.NotEqual(t, "contoso", h.configs.Current().Theme.Name)
	assert.Equal(t, model.ConfigError, h.configs.State())
	assert.Zero(t, h.bus.Count(model.NotifyConfigReload))
}

func TestConfigController_CreateAndClear(t *testing.T) {
	h := newHarness(t.TempDir())
	log := watchConfig(h)

	h.configs.Create(model.NewConfiguration())
	assert.True(t, h.configs.Loaded())
	assert.True(t, h.configs.Current().Dirty)
	assert.Nil(t, h.configs.Snapshot())

	h.configs.Clear()
	assert.False(t, h.configs.Loaded())
	assert.True(t, h.cache.deleted)
	assert.Equal(t, []model.ConfigState{model.ConfigDirty, model.ConfigUnknown}, log.states)
}

func TestConfigController_StopAndFail(t *testing.T) {
	h := newHarness(t.TempDir())
	log := watchConfig(h)

	h.configs.Stop()
	h.configs.Fail(ErrNotSupported)
	assert.Equal(t, []model.ConfigState{model.ConfigStopped, model.ConfigError}, log.states)
	assert.ErrorIs(t, log.errs[1], ErrNotSupported)
}

func TestConfigController_Reload_SkipsGuard(t *testing.T) {
	h := newHarness(t.TempDir())
	h.seed()
	h.scm.set(mfaName, "", svcctl.StatusStopped)

	require.NoError(t, h.configs.Reload(context.Background()))
	assert.Empty(t, h.scm.Calls())
	assert.True(t, h.configs.Loaded())
}
