package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/platform"
	"github.com/edvin/mfafarm/internal/pshost"
)

// PlatformQueries are the platform commands topology management issues.
type PlatformQueries interface {
	Version(ctx context.Context) (platform.Version, error)
	SyncRole(ctx context.Context) (string, error)
	FarmBehavior(ctx context.Context) (int, error)
	FarmIdentifier(ctx context.Context) (string, error)
	FarmNodes(ctx context.Context) ([]pshost.FarmNode, error)
}

// DiscoveryInput is what a discovery strategy knows about the local node.
type DiscoveryInput struct {
	Version   platform.Version
	LocalFQDN string
	Now       time.Time
}

// DiscoveryFunc produces the node descriptors visible from the local node.
type DiscoveryFunc func(ctx context.Context, q PlatformQueries, in DiscoveryInput) ([]model.NodeDescriptor, error)

// DefaultStrategies maps each supported generation to its discovery
// strategy. Older generations only expose the local node's role; newer
// ones expose the whole roster.
var DefaultStrategies = map[platform.Generation]DiscoveryFunc{
	platform.Generation2012R2: DiscoverLocalRole,
	platform.Generation2016:   DiscoverFarmRoster,
	platform.Generation2019:   DiscoverFarmRoster,
}

// DefaultBehaviorLevel is used when the platform cannot report its farm behavior.
const DefaultBehaviorLevel = 1

func describe(in DiscoveryInput, fqdn string) model.NodeDescriptor {
	return model.NodeDescriptor{
		FQDN:             fqdn,
		CurrentVersion:   in.Version.CurrentVersion,
		CurrentBuild:     in.Version.CurrentBuild,
		ProductName:      in.Version.ProductName,
		InstallationType: in.Version.InstallationType,
		MajorVersion:     in.Version.MajorVersion,
		MinorVersion:     in.Version.MinorVersion,
	}
}

// DiscoverLocalRole returns the local node tagged with its sync role.
func DiscoverLocalRole(ctx context.Context, q PlatformQueries, in DiscoveryInput) ([]model.NodeDescriptor, error) {
	role, err := q.SyncRole(ctx)
	if err != nil {
		return nil, err
	}
	n := describe(in, in.LocalFQDN)
	n.BehaviorLevel = DefaultBehaviorLevel
	n.NodeType = role
	n.Heartbeat = model.HeartbeatMinute(in.Now)
	return []model.NodeDescriptor{n}, nil
}

// DiscoverFarmRoster returns every node of the platform's farm roster.
func DiscoverFarmRoster(ctx context.Context, q PlatformQueries, in DiscoveryInput) ([]model.NodeDescriptor, error) {
	roster, err := q.FarmNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.NodeDescriptor, 0, len(roster))
	for _, r := range roster {
		if r.FQDN == "" {
			continue
		}
		n := describe(in, r.FQDN)
		n.BehaviorLevel = r.BehaviorLevel
		n.NodeType = r.NodeType
		n.Heartbeat = model.HeartbeatMinute(r.HeartbeatTime())
		out = append(out, n)
	}
	return out, nil
}

// TopologyManager discovers and maintains the farm roster held in the
// configuration.
type TopologyManager struct {
	configs    *ConfigController
	services   *ServiceController
	queries    PlatformQueries
	bus        notify.Bus
	resolver   platform.Resolver
	logger     zerolog.Logger
	strategies map[platform.Generation]DiscoveryFunc
	nodeName   string
	now        func() time.Time

	primaryMu sync.Mutex
	primary   *bool
}

// NewTopologyManager creates a TopologyManager. nodeName, when set,
// overrides the resolved local FQDN.
func NewTopologyManager(configs *ConfigController, services *ServiceController, queries PlatformQueries, bus notify.Bus, resolver platform.Resolver, logger zerolog.Logger, nodeName string) *TopologyManager {
	return &TopologyManager{
		configs:    configs,
		services:   services,
		queries:    queries,
		bus:        bus,
		resolver:   resolver,
		logger:     logger.With().Str("component", "topology").Logger(),
		strategies: DefaultStrategies,
		nodeName:   nodeName,
		now:        time.Now,
	}
}

// DetectGeneration reads the local platform version and maps it to a
// supported generation.
func (m *TopologyManager) DetectGeneration(ctx context.Context) (platform.Generation, platform.Version, error) {
	v, err := m.queries.Version(ctx)
	if err != nil {
		return platform.GenerationUnsupported, v, fmt.Errorf("%w: %w", ErrPlatformUnsupported, err)
	}
	gen, err := platform.DetectGeneration(v)
	if err != nil {
		return platform.GenerationUnsupported, v, fmt.Errorf("%w: %w", ErrPlatformUnsupported, err)
	}
	return gen, v, nil
}

func (m *TopologyManager) localFQDN(ctx context.Context) (string, error) {
	if m.nodeName != "" {
		return m.nodeName, nil
	}
	return platform.ResolveFQDN(ctx, m.resolver, platform.LocalNode)
}

// discover runs the strategy for the local generation.
func (m *TopologyManager) discover(ctx context.Context) ([]model.NodeDescriptor, error) {
	if err := m.services.EnsureLocal(ctx); err != nil {
		return nil, err
	}
	gen, v, err := m.DetectGeneration(ctx)
	if err != nil {
		return nil, err
	}
	strategy, ok := m.strategies[gen]
	if !ok {
		return nil, fmt.Errorf("%w: no discovery strategy for generation %s", ErrPlatformUnsupported, gen)
	}
	fqdn, err := m.localFQDN(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := strategy(ctx, m.queries, DiscoveryInput{Version: v, LocalFQDN: fqdn, Now: m.now()})
	if err != nil {
		return nil, fmt.Errorf("discover %s farm: %w", gen, err)
	}
	m.logger.Debug().Str("generation", gen.String()).Int("nodes", len(nodes)).Msg("discovery pass")
	return nodes, nil
}

// merge folds nodes into topo and reports whether the roster changed.
// A newer heartbeat alone is applied but not counted as a change.
func merge(topo *model.FarmTopology, nodes []model.NodeDescriptor) bool {
	changed := false
	for _, n := range nodes {
		if i := topo.Find(n.FQDN); i >= 0 && topo.Nodes[i].SameState(n) {
			topo.Nodes[i].Heartbeat = model.HeartbeatMinute(n.Heartbeat)
			continue
		}
		topo.Upsert(n)
		changed = true
	}
	return changed
}

// Discover refreshes the roster of an initialized farm. Nodes are merged by
// FQDN and never removed. The configuration is marked dirty only when the
// roster actually changed.
func (m *TopologyManager) Discover(ctx context.Context) ([]model.NodeDescriptor, error) {
	if err := m.configs.Ensure(ctx); err != nil {
		return nil, err
	}
	if cfg := m.configs.Current(); cfg == nil || !cfg.Farm.Initialized {
		return nil, ErrFarmNotInitialized
	}
	nodes, err := m.discover(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.configs.Update(func(cfg *model.Configuration) bool {
		return merge(&cfg.Farm, nodes)
	}); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Initialize sets the farm behavior level and identifier, runs discovery
// and marks the farm initialized. Any failure leaves it uninitialized.
func (m *TopologyManager) Initialize(ctx context.Context) error {
	err := m.initialize(ctx)
	if err != nil {
		_ = m.configs.Update(func(cfg *model.Configuration) bool {
			if !cfg.Farm.Initialized {
				return false
			}
			cfg.Farm.Initialized = false
			return true
		})
	}
	return err
}

func (m *TopologyManager) initialize(ctx context.Context) error {
	if !m.configs.Loaded() {
		return fmt.Errorf("%w: no configuration to initialize", ErrFarmNotInitialized)
	}
	if err := m.services.EnsureLocal(ctx); err != nil {
		return err
	}

	level, err := m.queries.FarmBehavior(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("step", "farm_behavior").Int("fallback", DefaultBehaviorLevel).Msg("best-effort step failed")
		level = DefaultBehaviorLevel
	}
	id, err := m.queries.FarmIdentifier(ctx)
	if err != nil {
		return err
	}
	nodes, err := m.discover(ctx)
	if err != nil {
		return err
	}

	return m.configs.Update(func(cfg *model.Configuration) bool {
		cfg.Farm.BehaviorLevel = level
		cfg.Farm.FarmIdentifier = id
		merge(&cfg.Farm, nodes)
		cfg.Farm.Initialized = true
		return true
	})
}

// AddNode asks the notification hub to collect and broadcast information
// about name so that every node registers it.
func (m *TopologyManager) AddNode(ctx context.Context, name string) error {
	if err := m.configs.Ensure(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("node name is empty")
	}
	m.bus.Publish(ctx, notify.ToHub(model.NotifyNodeInformation, name))
	return nil
}

// RegisterNode merges a node announced by the notification hub.
func (m *TopologyManager) RegisterNode(ctx context.Context, node model.NodeDescriptor) error {
	if err := m.configs.Ensure(ctx); err != nil {
		return err
	}
	if err := m.configs.Update(func(cfg *model.Configuration) bool {
		cfg.Farm.Upsert(node)
		return true
	}); err != nil {
		return err
	}
	if err := m.configs.Save(ctx); err != nil {
		return err
	}
	m.bus.Publish(ctx, notify.New(model.NotifyNodeRegistered, node.FQDN))
	return nil
}

// RemoveNode drops name from the roster and saves. Removing a node that is
// not in the roster is a no-op and leaves the configuration clean.
func (m *TopologyManager) RemoveNode(ctx context.Context, name string) error {
	if err := m.configs.Ensure(ctx); err != nil {
		return err
	}
	fqdn, err := platform.ResolveFQDN(ctx, m.resolver, name)
	if err != nil {
		return err
	}

	removed := false
	if err := m.configs.Update(func(cfg *model.Configuration) bool {
		removed = cfg.Farm.Remove(fqdn)
		if !removed && !strings.EqualFold(fqdn, name) {
			removed = cfg.Farm.Remove(name)
		}
		return removed
	}); err != nil {
		return err
	}
	if !removed {
		m.logger.Info().Str("node", name).Msg("node not in topology, nothing to remove")
		return nil
	}
	return m.configs.Save(ctx)
}

// IsPrimary reports whether the local node holds the primary sync role.
// The answer is cached after the first successful query.
func (m *TopologyManager) IsPrimary(ctx context.Context) (bool, error) {
	m.primaryMu.Lock()
	defer m.primaryMu.Unlock()
	if m.primary != nil {
		return *m.primary, nil
	}
	role, err := m.queries.SyncRole(ctx)
	if err != nil {
		return false, err
	}
	p := strings.EqualFold(role, model.NodeTypePrimary)
	m.primary = &p
	return p, nil
}

// Nodes returns the roster in registration order.
func (m *TopologyManager) Nodes(ctx context.Context) ([]model.NodeDescriptor, error) {
	if err := m.configs.Ensure(ctx); err != nil {
		return nil, err
	}
	cfg := m.configs.Current()
	if cfg == nil {
		return nil, ErrFarmNotInitialized
	}
	return cfg.Farm.Nodes, nil
}

// IsNotInitialized reports whether err means the farm was never set up.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrFarmNotInitialized)
}

// RegisterLocal answers a node-information request addressed to this node:
// it discovers the local node, merges it and announces the registration.
func (m *TopologyManager) RegisterLocal(ctx context.Context) error {
	if err := m.configs.Ensure(ctx); err != nil {
		return err
	}
	nodes, err := m.discover(ctx)
	if err != nil {
		return err
	}
	fqdn, err := m.localFQDN(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.Matches(fqdn) {
			return m.RegisterNode(ctx, n)
		}
	}
	return fmt.Errorf("%w: %s not in discovered roster", ErrUnknownNode, fqdn)
}
