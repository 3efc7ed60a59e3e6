package cli

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/mfafarm/internal/core"
	"github.com/edvin/mfafarm/internal/model"
)

type mockFarm struct{ mock.Mock }

func (m *mockFarm) Register(ctx context.Context) error   { return m.Called(ctx).Error(0) }
func (m *mockFarm) Unregister(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockFarm) Enable(ctx context.Context) error     { return m.Called(ctx).Error(0) }
func (m *mockFarm) Disable(ctx context.Context) error    { return m.Called(ctx).Error(0) }

func (m *mockFarm) IsEnabled(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockFarm) Import(ctx context.Context, path string, activate, restartFarm bool) error {
	return m.Called(ctx, path, activate, restartFarm).Error(0)
}

func (m *mockFarm) Export(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockFarm) RestartFarm(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *mockFarm) RestartAllFarm(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockFarm) RestartNode(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockFarm) StartService(ctx context.Context, svc model.Service, node string) error {
	return m.Called(ctx, svc, node).Error(0)
}

func (m *mockFarm) StopService(ctx context.Context, svc model.Service, node string) error {
	return m.Called(ctx, svc, node).Error(0)
}

func (m *mockFarm) FarmStatus(ctx context.Context) ([]core.NodeStatus, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]core.NodeStatus)
	return nodes, args.Error(1)
}

func (m *mockFarm) AddNode(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockFarm) RemoveNode(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockFarm) Nodes(ctx context.Context) ([]model.NodeDescriptor, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]model.NodeDescriptor)
	return nodes, args.Error(1)
}

func (m *mockFarm) Refresh(ctx context.Context) ([]model.NodeDescriptor, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]model.NodeDescriptor)
	return nodes, args.Error(1)
}

func (m *mockFarm) CreateDatabase(ctx context.Context, req core.DatabaseRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockFarm) CreateEncryptedDatabase(ctx context.Context, req core.DatabaseRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockFarm) UpgradeDatabase(ctx context.Context, kind core.StoreKind, server, database string) (string, error) {
	args := m.Called(ctx, kind, server, database)
	return args.String(0), args.Error(1)
}

func (m *mockFarm) RegisterRSACertificate(ctx context.Context, years int, restart bool) (string, error) {
	args := m.Called(ctx, years, restart)
	return args.String(0), args.Error(1)
}

func (m *mockFarm) RegisterSQLCertificate(ctx context.Context, years int, keyName string) (string, error) {
	args := m.Called(ctx, years, keyName)
	return args.String(0), args.Error(1)
}

func (m *mockFarm) SetTheme(ctx context.Context, name string, paginated bool) error {
	return m.Called(ctx, name, paginated).Error(0)
}
