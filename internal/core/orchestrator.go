package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/mfafarm/internal/certs"
	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/platform"
	"github.com/edvin/mfafarm/internal/store"
	"github.com/edvin/mfafarm/internal/svcctl"
)

// HostPipeline is the host authentication pipeline's provider management.
type HostPipeline interface {
	Register(ctx context.Context, configPath string) error
	Unregister(ctx context.Context) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	IsActive(ctx context.Context) (bool, error)
	Import(ctx context.Context, path string) error
	SetTheme(ctx context.Context, name string, paginated, supportsPagination bool) error
}

// Certificate subjects.
const (
	RSAKeysSubject      = "MFA RSA Keys"
	SQLKeySubjectPrefix = "MFA SQL Key : "
)

// statusConcurrency bounds parallel service queries in FarmStatus.
const statusConcurrency = 8

// Orchestrator implements the farm-wide operations an operator invokes.
type Orchestrator struct {
	configs     *ConfigController
	services    *ServiceController
	topology    *TopologyManager
	provisioner *Provisioner
	pipeline    HostPipeline
	certs       certs.Provider
	bus         notify.Bus
	logger      zerolog.Logger
	localName   string
	tempDir     string
}

// OrchestratorDeps groups the Orchestrator's collaborators.
type OrchestratorDeps struct {
	Configs     *ConfigController
	Services    *ServiceController
	Topology    *TopologyManager
	Provisioner *Provisioner
	Pipeline    HostPipeline
	Certs       certs.Provider
	Bus         notify.Bus
	Logger      zerolog.Logger
	LocalName   string
	TempDir     string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	tmp := d.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	return &Orchestrator{
		configs:     d.Configs,
		services:    d.Services,
		topology:    d.Topology,
		provisioner: d.Provisioner,
		pipeline:    d.Pipeline,
		certs:       d.Certs,
		bus:         d.Bus,
		logger:      d.Logger.With().Str("component", "orchestrator").Logger(),
		localName:   d.LocalName,
		tempDir:     tmp,
	}
}

// Configs returns the configuration controller.
func (o *Orchestrator) Configs() *ConfigController { return o.configs }

// Services returns the service controller.
func (o *Orchestrator) Services() *ServiceController { return o.services }

// Topology returns the topology manager.
func (o *Orchestrator) Topology() *TopologyManager { return o.topology }

// Provisioner returns the secret store provisioner.
func (o *Orchestrator) Provisioner() *Provisioner { return o.provisioner }

func (o *Orchestrator) announce(ctx context.Context, kind model.NotificationKind) {
	o.bus.Publish(ctx, notify.New(kind, o.localName))
}

// Register creates a fresh configuration, registers and activates the
// provider, discovers the farm, saves and announces the new configuration.
func (o *Orchestrator) Register(ctx context.Context) error {
	if o.configs.Loaded() {
		return ErrAlreadyRegistered
	}
	if err := o.services.EnsureLocal(ctx); err != nil {
		return err
	}

	if err := o.register(ctx); err != nil {
		o.configs.Clear()
		o.configs.Fail(err)
		return err
	}
	o.announce(ctx, model.NotifyConfigCreated)
	o.logger.Info().Msg("farm registered")
	return nil
}

// register discovers the farm before handing the configuration to the
// host pipeline, so the pipeline's copy matches what is saved.
func (o *Orchestrator) register(ctx context.Context) error {
	o.configs.Create(model.NewConfiguration())
	if err := o.topology.Initialize(ctx); err != nil {
		return err
	}

	path, err := o.writeTemp(o.configs.Current())
	if err != nil {
		return err
	}
	defer os.Remove(path)

	if err := o.pipeline.Register(ctx, path); err != nil {
		return err
	}
	if err := o.pipeline.Activate(ctx); err != nil {
		return err
	}
	return o.configs.Save(ctx)
}

func (o *Orchestrator) writeTemp(cfg *model.Configuration) (string, error) {
	raw, err := store.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}
	path := filepath.Join(o.tempDir, platform.TempName("mfa-")+".cfg")
	if err := store.WriteFileAtomic(path, raw); err != nil {
		return "", err
	}
	return path, nil
}

// Unregister announces the deletion, removes the provider from the host
// pipeline and deletes the stored configuration and the local cache.
func (o *Orchestrator) Unregister(ctx context.Context) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	o.announce(ctx, model.NotifyConfigDeleted)
	if err := o.pipeline.Deactivate(ctx); err != nil {
		return err
	}
	if err := o.pipeline.Unregister(ctx); err != nil {
		return err
	}
	if err := o.configs.Destroy(ctx); err != nil {
		return err
	}
	o.logger.Info().Msg("farm unregistered")
	return nil
}

// Enable activates the provider in the host pipeline.
func (o *Orchestrator) Enable(ctx context.Context) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	if err := o.pipeline.Activate(ctx); err != nil {
		return err
	}
	o.announce(ctx, model.NotifyConfigReload)
	return nil
}

// Disable deactivates the provider and records the configuration as stopped.
func (o *Orchestrator) Disable(ctx context.Context) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	if err := o.pipeline.Deactivate(ctx); err != nil {
		return err
	}
	o.configs.Stop()
	o.announce(ctx, model.NotifyConfigReload)
	return nil
}

// IsEnabled reports whether the provider is active in the host pipeline.
func (o *Orchestrator) IsEnabled(ctx context.Context) (bool, error) {
	if err := o.configs.Ensure(ctx); err != nil {
		return false, err
	}
	return o.pipeline.IsActive(ctx)
}

// Import replaces the farm configuration with the backup at path. The
// running farm's discovered topology is kept when one is loaded. The
// result is loaded into the host pipeline, written to the durable store
// and read back from it, which announces it. A backup whose key policy
// cannot be served fails with ErrNotSupported.
func (o *Orchestrator) Import(ctx context.Context, path string, activate, restartFarm bool) error {
	if err := o.services.EnsureLocal(ctx); err != nil {
		return err
	}
	if err := o.configs.Ensure(ctx); err != nil {
		o.logger.Warn().Err(err).Str("step", "load_before_import").Msg("best-effort step failed")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read backup: %w", err)
		o.configs.Fail(err)
		return err
	}
	cfg, err := store.Unmarshal(raw)
	if err != nil {
		err = fmt.Errorf("decode backup: %w", err)
		o.configs.Fail(err)
		return err
	}
	if !cfg.Keys.Format.Valid() {
		err := fmt.Errorf("%w: invalid key manager %d", ErrNotSupported, cfg.Keys.Format)
		o.configs.Fail(err)
		return err
	}
	if cur := o.configs.Snapshot(); cur != nil && cur.Farm.Initialized {
		cfg.Farm = cur.Farm
	}
	if !cfg.Farm.Initialized {
		err := fmt.Errorf("%w: backup carries no discovered farm", ErrFarmNotInitialized)
		o.configs.Fail(err)
		return err
	}

	staged, err := o.writeTemp(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	if err := o.pipeline.Import(ctx, staged); err != nil {
		o.configs.Fail(err)
		return err
	}
	if err := o.configs.Replace(ctx, cfg); err != nil {
		return err
	}

	if activate {
		if err := o.pipeline.Activate(ctx); err != nil {
			return err
		}
	}
	if restartFarm {
		return o.RestartFarm(ctx)
	}
	return nil
}

// Export writes the last persisted configuration to path.
func (o *Orchestrator) Export(ctx context.Context, path string) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	cfg := o.configs.Snapshot()
	if cfg == nil {
		return fmt.Errorf("%w: nothing persisted to export", ErrFarmNotInitialized)
	}
	raw, err := store.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := store.WriteFileAtomic(path, raw); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	o.logger.Info().Str("path", path).Msg("configuration exported")
	return nil
}

// address maps a topology node to the service-control address.
func (o *Orchestrator) address(n model.NodeDescriptor) string {
	if o.localName != "" && n.Matches(o.localName) {
		return ""
	}
	return n.FQDN
}

func (o *Orchestrator) nodes(ctx context.Context) ([]model.NodeDescriptor, error) {
	if err := o.configs.Ensure(ctx); err != nil {
		return nil, err
	}
	cfg := o.configs.Current()
	if cfg == nil || !cfg.Farm.Initialized {
		return nil, ErrFarmNotInitialized
	}
	return cfg.Farm.Nodes, nil
}

// rollingRestart restarts svc on every node in registration order, one
// node at a time. It stops at the first node that fails so a broken node
// is never followed by taking down the next one.
func (o *Orchestrator) rollingRestart(ctx context.Context, svc model.Service) error {
	nodes, err := o.nodes(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		o.logger.Info().Str("service", string(svc)).Str("node", n.FQDN).Msg("restarting")
		if err := o.services.Restart(ctx, svc, o.address(n)); err != nil {
			return fmt.Errorf("restart %s on %s: %w", svc, n.FQDN, err)
		}
	}
	return nil
}

// RestartFarm restarts the MFA service on every node, sequentially.
func (o *Orchestrator) RestartFarm(ctx context.Context) error {
	return o.rollingRestart(ctx, model.ServiceMFA)
}

// RestartAllFarm restarts the notification hub on every node, sequentially.
func (o *Orchestrator) RestartAllFarm(ctx context.Context) error {
	return o.rollingRestart(ctx, model.ServiceNotifHub)
}

// RestartNode restarts the MFA service on one node.
func (o *Orchestrator) RestartNode(ctx context.Context, name string) error {
	nodes, err := o.nodes(ctx)
	if err != nil {
		return err
	}
	if platform.IsLocal(name) {
		return o.services.Restart(ctx, model.ServiceMFA, "")
	}
	for _, n := range nodes {
		if n.Matches(name) {
			return o.services.Restart(ctx, model.ServiceMFA, o.address(n))
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownNode, name)
}

// StartService starts svc on node.
func (o *Orchestrator) StartService(ctx context.Context, svc model.Service, node string) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	return o.services.Start(ctx, svc, node)
}

// StopService stops svc on node.
func (o *Orchestrator) StopService(ctx context.Context, svc model.Service, node string) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	return o.services.Stop(ctx, svc, node)
}

// RegisterRSACertificate creates a new certificate for RSA secret keys and
// records it. Only farms using the RSA key format can take one.
func (o *Orchestrator) RegisterRSACertificate(ctx context.Context, years int, restart bool) (string, error) {
	if err := o.configs.Ensure(ctx); err != nil {
		return "", err
	}
	if cfg := o.configs.Current(); cfg.Keys.Format != model.KeyFormatRSA {
		return "", fmt.Errorf("%w: key format is %s, not RSA", ErrNotSupported, cfg.Keys.Format)
	}
	thumb, err := o.certs.CreateCertificate(ctx, RSAKeysSubject, years)
	if err != nil {
		return "", fmt.Errorf("create RSA keys certificate: %w", err)
	}
	if err := o.configs.Update(func(cfg *model.Configuration) bool {
		cfg.Keys.CertificateThumbprint = thumb
		return true
	}); err != nil {
		return "", err
	}
	if err := o.configs.Save(ctx); err != nil {
		return "", err
	}
	if restart {
		if err := o.RestartFarm(ctx); err != nil {
			return thumb, err
		}
	}
	return thumb, nil
}

// RegisterSQLCertificate creates a certificate for a column master key.
// When the configuration store is already column-encrypted its descriptor
// is rebound to the new certificate.
func (o *Orchestrator) RegisterSQLCertificate(ctx context.Context, years int, keyName string) (string, error) {
	if err := o.configs.Ensure(ctx); err != nil {
		return "", err
	}
	if keyName == "" {
		keyName = "adfsmfa"
	}
	thumb, err := o.certs.CreateCertificate(ctx, SQLKeySubjectPrefix+keyName, years)
	if err != nil {
		return "", fmt.Errorf("create SQL key certificate: %w", err)
	}

	rebound := false
	if err := o.configs.Update(func(cfg *model.Configuration) bool {
		if !cfg.ConfigStore.AlwaysEncrypted {
			return false
		}
		cfg.ConfigStore.Thumbprint = thumb
		rebound = true
		return true
	}); err != nil {
		return "", err
	}
	if rebound {
		if err := o.configs.Save(ctx); err != nil {
			return "", err
		}
	}
	return thumb, nil
}

// SetTheme activates a web theme across the farm.
func (o *Orchestrator) SetTheme(ctx context.Context, name string, paginated bool) error {
	if err := o.configs.Ensure(ctx); err != nil {
		return err
	}
	gen, _, err := o.topology.DetectGeneration(ctx)
	if err != nil {
		return err
	}
	supports := gen >= platform.Generation2019
	if paginated && !supports {
		o.logger.Warn().Str("generation", gen.String()).Msg("paginated pages need a newer platform, ignoring")
		paginated = false
	}
	if err := o.pipeline.SetTheme(ctx, name, paginated, supports); err != nil {
		return err
	}
	if err := o.configs.Update(func(cfg *model.Configuration) bool {
		cfg.Theme = model.ThemeSettings{Name: name, Paginated: paginated}
		return true
	}); err != nil {
		return err
	}
	return o.configs.Save(ctx)
}

// NodeStatus is the observed state of both services on one node.
type NodeStatus struct {
	FQDN     string `json:"fqdn"`
	NodeType string `json:"node_type"`
	MFA      string `json:"mfa"`
	NotifHub string `json:"notifhub"`
	Error    string `json:"error,omitempty"`
}

// FarmStatus queries both services on every node in parallel. It is
// read-only: nothing is recorded or announced.
func (o *Orchestrator) FarmStatus(ctx context.Context) ([]NodeStatus, error) {
	nodes, err := o.nodes(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]NodeStatus, len(nodes))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, n := range nodes {
		out[i] = NodeStatus{FQDN: n.FQDN, NodeType: n.NodeType}
		for _, svc := range []model.Service{model.ServiceMFA, model.ServiceNotifHub} {
			g.Go(func() error {
				st, err := o.services.Probe(gctx, svc, o.address(n))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					out[i].Error = joinErr(out[i].Error, fmt.Sprintf("%s: %v", svc, err))
					st = svcctl.StatusUnknown
				}
				if svc == model.ServiceMFA {
					out[i].MFA = st.String()
				} else {
					out[i].NotifHub = st.String()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func joinErr(prev, next string) string {
	if prev == "" {
		return next
	}
	return strings.Join([]string{prev, next}, "; ")
}

// AddNode asks the notification hub to register name on every node.
func (o *Orchestrator) AddNode(ctx context.Context, name string) error {
	return o.topology.AddNode(ctx, name)
}

// RemoveNode drops name from the farm topology.
func (o *Orchestrator) RemoveNode(ctx context.Context, name string) error {
	return o.topology.RemoveNode(ctx, name)
}

// Nodes returns the farm topology in registration order.
func (o *Orchestrator) Nodes(ctx context.Context) ([]model.NodeDescriptor, error) {
	return o.topology.Nodes(ctx)
}

// Refresh re-runs discovery and saves any roster changes.
func (o *Orchestrator) Refresh(ctx context.Context) ([]model.NodeDescriptor, error) {
	nodes, err := o.topology.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if cfg := o.configs.Current(); cfg != nil && cfg.Dirty {
		if err := o.configs.Save(ctx); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// CreateDatabase provisions a plain secret store.
func (o *Orchestrator) CreateDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	return o.provisioner.CreateDatabase(ctx, req)
}

// CreateEncryptedDatabase provisions a column-encrypted secret store.
func (o *Orchestrator) CreateEncryptedDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	return o.provisioner.CreateEncryptedDatabase(ctx, req)
}

// UpgradeDatabase upgrades the schema of a recorded secret store.
func (o *Orchestrator) UpgradeDatabase(ctx context.Context, kind StoreKind, server, database string) (string, error) {
	return o.provisioner.UpgradeDatabase(ctx, kind, server, database)
}
