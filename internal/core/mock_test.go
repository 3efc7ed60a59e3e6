package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/notify"
	"github.com/edvin/mfafarm/internal/platform"
	"github.com/edvin/mfafarm/internal/pshost"
	"github.com/edvin/mfafarm/internal/store"
	"github.com/edvin/mfafarm/internal/svcctl"
)

func init() {
	svcctl.PollInterval = time.Millisecond
}

const (
	localFQDN  = "adfs1.corp.local"
	remoteFQDN = "adfs2.corp.local"
	mfaName    = "adfssrv"
	hubName    = "mfanotifhub"
)

var testSpecs = map[model.Service]ServiceSpec{
	model.ServiceMFA:      {Name: mfaName, Timeout: 200 * time.Millisecond},
	model.ServiceNotifHub: {Name: hubName, Timeout: 200 * time.Millisecond},
}

// ---------- service control ----------

// fakeSCM is an in-memory init system. Services listed in stuck accept
// requests but never change state.
type fakeSCM struct {
	mu       sync.Mutex
	status   map[string]svcctl.Status
	stuck    map[string]bool
	startErr map[string]error
	queryErr map[string]error
	calls    []string
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{
		status:   make(map[string]svcctl.Status),
		stuck:    make(map[string]bool),
		startErr: make(map[string]error),
		queryErr: make(map[string]error),
	}
}

func scmKey(service, node string) string { return service + "@" + node }

func (f *fakeSCM) set(service, node string, st svcctl.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[scmKey(service, node)] = st
}

func (f *fakeSCM) get(service, node string) svcctl.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[scmKey(service, node)]
}

func (f *fakeSCM) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSCM) Query(_ context.Context, service, node string) (svcctl.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := scmKey(service, node)
	if err := f.queryErr[k]; err != nil {
		return svcctl.StatusUnknown, err
	}
	st, ok := f.status[k]
	if !ok {
		return svcctl.StatusUnknown, errors.New("service does not exist")
	}
	return st, nil
}

func (f *fakeSCM) request(service, node, verb string, to svcctl.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := scmKey(service, node)
	f.calls = append(f.calls, verb+" "+k)
	if verb == "start" {
		if err := f.startErr[k]; err != nil {
			return err
		}
	}
	if !f.stuck[k] {
		f.status[k] = to
	}
	return nil
}

func (f *fakeSCM) Start(_ context.Context, service, node string) error {
	return f.request(service, node, "start", svcctl.StatusRunning)
}

func (f *fakeSCM) Stop(_ context.Context, service, node string) error {
	return f.request(service, node, "stop", svcctl.StatusStopped)
}

// ---------- bus ----------

// recordingBus records what is published and, when forward is set, relays
// it to another bus.
type recordingBus struct {
	mu      sync.Mutex
	sent    []model.Notification
	forward notify.Bus
}

func (b *recordingBus) Publish(ctx context.Context, n model.Notification) {
	b.mu.Lock()
	b.sent = append(b.sent, n)
	fwd := b.forward
	b.mu.Unlock()
	if fwd != nil {
		fwd.Publish(ctx, n)
	}
}

func (b *recordingBus) Subscribe(h notify.Handler) func() {
	if b.forward != nil {
		return b.forward.Subscribe(h)
	}
	return func() {}
}

func (b *recordingBus) Kinds() []model.NotificationKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.NotificationKind, 0, len(b.sent))
	for _, n := range b.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (b *recordingBus) Count(kind model.NotificationKind) int {
	n := 0
	for _, k := range b.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (b *recordingBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

// ---------- stores ----------

type memStore struct {
	mu       sync.Mutex
	cfg      *model.Configuration
	readErr  error
	writeErr error
	reads    int
	writes   int
}

func (s *memStore) Read(context.Context) (*model.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.cfg == nil {
		return nil, store.ErrNotFound
	}
	return s.cfg.Clone(), nil
}

func (s *memStore) Write(_ context.Context, cfg *model.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.cfg = cfg.Clone()
	return nil
}

func (s *memStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
	return nil
}

func (s *memStore) Stored() *model.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

type memCache struct {
	mu      sync.Mutex
	cfg     *model.Configuration
	deleted bool
}

func (c *memCache) Load() (*model.Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return nil, store.ErrNotFound
	}
	return c.cfg.Clone(), nil
}

func (c *memCache) Save(cfg *model.Configuration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.Clone()
	c.deleted = false
	return nil
}

func (c *memCache) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = nil
	c.deleted = true
	return nil
}

// ---------- platform ----------

type fakeQueries struct {
	version     platform.Version
	versionErr  error
	role        string
	behavior    int
	behaviorErr error
	identifier  string
	idErr       error
	roster      []pshost.FarmNode
	rosterErr   error
}

func (q *fakeQueries) Version(context.Context) (platform.Version, error) {
	return q.version, q.versionErr
}

func (q *fakeQueries) SyncRole(context.Context) (string, error) { return q.role, nil }

func (q *fakeQueries) FarmBehavior(context.Context) (int, error) {
	return q.behavior, q.behaviorErr
}

func (q *fakeQueries) FarmIdentifier(context.Context) (string, error) {
	return q.identifier, q.idErr
}

func (q *fakeQueries) FarmNodes(context.Context) ([]pshost.FarmNode, error) {
	return q.roster, q.rosterErr
}

var version2019 = platform.Version{
	CurrentVersion: "6.3", CurrentBuild: 17763, MajorVersion: 10, MinorVersion: 0,
	ProductName: "Windows Server 2019 Datacenter", InstallationType: "Server",
}

var version2012R2 = platform.Version{
	CurrentVersion: "6.3", CurrentBuild: 9600,
	ProductName: "Windows Server 2012 R2 Standard", InstallationType: "Server",
}

func twoNodeRoster() []pshost.FarmNode {
	return []pshost.FarmNode{
		{FQDN: localFQDN, BehaviorLevel: 4, Heartbeat: "2024-05-01T10:15:42.1234567Z", NodeType: model.NodeTypePrimary},
		{FQDN: remoteFQDN, BehaviorLevel: 4, Heartbeat: "2024-05-01T10:16:05Z", NodeType: model.NodeTypeSecondary},
	}
}

type staticResolver map[string]string

func (r staticResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	if v, ok := r[strings.ToLower(host)]; ok {
		return v, nil
	}
	return "", errors.New("no such host")
}

// ---------- pipeline ----------

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Register(ctx context.Context, configPath string) error {
	return m.Called(ctx, configPath).Error(0)
}

func (m *mockPipeline) Unregister(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockPipeline) Activate(ctx context.Context) error   { return m.Called(ctx).Error(0) }
func (m *mockPipeline) Deactivate(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockPipeline) IsActive(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockPipeline) Import(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockPipeline) SetTheme(ctx context.Context, name string, paginated, supportsPagination bool) error {
	return m.Called(ctx, name, paginated, supportsPagination).Error(0)
}

// ---------- provisioning ----------

// recordingExecutor records every statement. Statements containing a key
// of failOn fail with its error.
type recordingExecutor struct {
	mu     sync.Mutex
	stmts  []string
	conns  []string
	failOn map[string]error
}

func (e *recordingExecutor) Exec(_ context.Context, connString, statement string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stmts = append(e.stmts, statement)
	e.conns = append(e.conns, connString)
	for frag, err := range e.failOn {
		if strings.Contains(statement, frag) {
			return err
		}
	}
	return nil
}

func (e *recordingExecutor) Statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.stmts...)
}

type scriptMap map[string]string

func (m scriptMap) Load(name string) (string, error) {
	s, ok := m[name]
	if !ok {
		return "", errors.New("script not found: " + name)
	}
	return s, nil
}

type fakeCerts struct {
	mu       sync.Mutex
	thumb    string
	subjects []string
	wrapped  []string
	err      error
}

func (c *fakeCerts) CreateCertificate(_ context.Context, subject string, _ int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.subjects = append(c.subjects, subject)
	return c.thumb, nil
}

func (c *fakeCerts) WrapKey(_ context.Context, path string, key []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.wrapped = append(c.wrapped, path)
	return append([]byte{0x01, 0x70}, key[:4]...), nil
}

// ---------- harness ----------

type harness struct {
	scm      *fakeSCM
	bus      *recordingBus
	store    *memStore
	cache    *memCache
	queries  *fakeQueries
	pipeline *mockPipeline
	exec     *recordingExecutor
	certs    *fakeCerts

	services    *ServiceController
	configs     *ConfigController
	topology    *TopologyManager
	provisioner *Provisioner
	orch        *Orchestrator
}

func newHarness(dir string) *harness {
	h := &harness{
		scm:   newFakeSCM(),
		bus:   &recordingBus{},
		store: &memStore{},
		cache: &memCache{},
		queries: &fakeQueries{
			version:    version2019,
			role:       model.NodeTypePrimary,
			behavior:   4,
			identifier: "http://sts.corp.local/adfs/services/trust",
			roster:     twoNodeRoster(),
		},
		pipeline: &mockPipeline{},
		exec:     &recordingExecutor{failOn: map[string]error{}},
		certs:    &fakeCerts{thumb: "A1B2C3D4E5F60718293A4B5C6D7E8F9012345678"},
	}
	h.scm.set(mfaName, "", svcctl.StatusRunning)
	h.scm.set(hubName, "", svcctl.StatusRunning)
	h.scm.set(mfaName, remoteFQDN, svcctl.StatusRunning)
	h.scm.set(hubName, remoteFQDN, svcctl.StatusRunning)

	logger := zerolog.Nop()
	h.services = NewServiceController(h.scm, h.bus, logger, testSpecs, localFQDN)
	h.configs = NewConfigController(h.store, h.cache, h.bus, h.services, logger, localFQDN)
	h.topology = NewTopologyManager(h.configs, h.services, h.queries, h.bus, staticResolver{}, logger, localFQDN)
	h.topology.now = func() time.Time { return time.Date(2024, 5, 1, 10, 15, 42, 0, time.UTC) }
	h.provisioner = NewProvisioner(h.exec, scriptMap{
		"mfa-db.sql":                             "USE [%DATABASENAME%]\nGO\nCREATE TABLE REGISTRATIONS (ID bigint)",
		"mfa-db-encrypted.sql":                   "USE [%DATABASENAME%]\nGO\nCREATE TABLE REGISTRATIONS (SECRETKEY nvarchar(max) ENCRYPTED WITH (COLUMN_ENCRYPTION_KEY = [%SQLKEY%]))",
		"mfa-db-upgrade.sql":                     "USE [%DATABASENAME%]\nGO\nALTER TABLE REGISTRATIONS ADD PIN int",
		"mfa-db-Encrypted-upgrade.sql":           "USE [%DATABASENAME%]\nGO\nALTER TABLE REGISTRATIONS ADD PIN int -- [%SQLKEY%]",
		"mfa-secretkey-db.sql":                   "USE [%DATABASENAME%]\nGO\nCREATE TABLE KEYS (ID bigint)",
		"mfa-secretkey-db-encrypted.sql":         "USE [%DATABASENAME%]\nGO\nCREATE TABLE KEYS (K nvarchar(max) ENCRYPTED WITH (COLUMN_ENCRYPTION_KEY = [%SQLKEY%]))",
		"mfa-secretkey-db-upgrade.sql":           "USE [%DATABASENAME%]\nGO\nALTER TABLE KEYS ADD V int",
		"mfa-secretkey-db-encrypted-upgrade.sql": "USE [%DATABASENAME%]\nGO\nALTER TABLE KEYS ADD V int -- [%SQLKEY%]",
	}, h.certs, h.configs, logger)
	h.orch = NewOrchestrator(OrchestratorDeps{
		Configs:     h.configs,
		Services:    h.services,
		Topology:    h.topology,
		Provisioner: h.provisioner,
		Pipeline:    h.pipeline,
		Certs:       h.certs,
		Bus:         h.bus,
		Logger:      logger,
		LocalName:   localFQDN,
		TempDir:     dir,
	})
	return h
}

// seed stores an initialized two-node farm configuration.
func (h *harness) seed() *model.Configuration {
	cfg := model.NewConfiguration()
	cfg.Dirty = false
	cfg.Farm.Initialized = true
	cfg.Farm.BehaviorLevel = 4
	cfg.Farm.FarmIdentifier = h.queries.identifier
	cfg.Farm.Upsert(model.NodeDescriptor{FQDN: localFQDN, NodeType: model.NodeTypePrimary})
	cfg.Farm.Upsert(model.NodeDescriptor{FQDN: remoteFQDN, NodeType: model.NodeTypeSecondary})
	h.store.cfg = cfg.Clone()
	return cfg
}

// remote builds a notification as if sent by another process.
func remote(kind model.NotificationKind, text string) model.Notification {
	n := notify.New(kind, text)
	n.Origin = "other-process"
	return n
}
