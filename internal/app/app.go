// Package app wires the control plane from configuration for the agent and
// the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/certs"
	"github.com/edvin/mfafarm/internal/config"
	"github.com/edvin/mfafarm/internal/core"
	"github.com/edvin/mfafarm/internal/db"
	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/platform"
	"github.com/edvin/mfafarm/internal/pshost"
	"github.com/edvin/mfafarm/internal/store"
	"github.com/edvin/mfafarm/internal/svcctl"
)

// Options tune Build for the calling binary.
type Options struct {
	// ListenAddr is the notification bus bind address. The CLI binds an
	// ephemeral port and only publishes; the agent binds the farm port.
	ListenAddr string
	// Migrate applies pending configuration store migrations.
	Migrate bool
	// Refresh is the agent's periodic topology refresh interval.
	Refresh time.Duration
}

// App is a fully wired control plane.
type App struct {
	Orchestrator *core.Orchestrator
	Reactor      *core.Reactor
	Bus          *notify.UDPBus
	Pool         *pgxpool.Pool
	LocalName    string
}

// Build connects the configuration store and the notification bus and
// assembles the controllers.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	if opts.Migrate {
		if err := db.RunMigrations(cfg.ConfigDatabaseURL); err != nil {
			return nil, err
		}
	}
	pool, err := db.NewConfigPool(ctx, cfg.ConfigDatabaseURL)
	if err != nil {
		return nil, err
	}

	localName := cfg.NodeName
	if localName == "" {
		if localName, err = platform.ResolveFQDN(ctx, nil, platform.LocalNode); err != nil {
			pool.Close()
			return nil, err
		}
	}

	bus, err := notify.ListenUDP(logger, opts.ListenAddr, cfg.NotifyAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}

	ctl, err := svcctl.New(logger, cfg.InitSystem)
	if err != nil {
		bus.Close()
		pool.Close()
		return nil, fmt.Errorf("service control: %w", err)
	}

	host := pshost.NewPowerShell(logger, cfg.PowerShellPath)
	certStore := certs.NewFileStore(logger, cfg.CertDir)

	services := core.NewServiceController(ctl, bus, logger, map[model.Service]core.ServiceSpec{
		model.ServiceMFA:      {Name: cfg.MFAServiceName, Timeout: cfg.MFAStartTimeout},
		model.ServiceNotifHub: {Name: cfg.HubServiceName, Timeout: cfg.HubStartTimeout},
	}, localName)
	configs := core.NewConfigController(
		store.NewPostgresStore(pool), store.NewFileCache(cfg.CacheDir), bus, services, logger, localName)
	topology := core.NewTopologyManager(configs, services, pshost.NewPlatform(host), bus, nil, logger, cfg.NodeName)
	provisioner := core.NewProvisioner(
		db.NewSQLServer(logger), db.ScriptDir(cfg.SQLScriptsDir), certStore, configs, logger)

	orch := core.NewOrchestrator(core.OrchestratorDeps{
		Configs:     configs,
		Services:    services,
		Topology:    topology,
		Provisioner: provisioner,
		Pipeline:    pshost.NewPipeline(host, logger, cfg.ProviderName, cfg.ProviderType),
		Certs:       certStore,
		Bus:         bus,
		Logger:      logger,
		LocalName:   localName,
		TempDir:     cfg.CacheDir,
	})

	return &App{
		Orchestrator: orch,
		Reactor:      core.NewReactor(configs, services, topology, logger, localName, opts.Refresh),
		Bus:          bus,
		Pool:         pool,
		LocalName:    localName,
	}, nil
}

// Close releases the bus socket and the store pool.
func (a *App) Close() {
	a.Bus.Close()
	a.Pool.Close()
}
