// Package cli implements the mfactl command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edvin/mfafarm/internal/app"
	"github.com/edvin/mfafarm/internal/config"
	"github.com/edvin/mfafarm/internal/core"
	"github.com/edvin/mfafarm/internal/logging"
	"github.com/edvin/mfafarm/internal/model"
)

// Farm is the control plane surface the commands drive.
type Farm interface {
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	IsEnabled(ctx context.Context) (bool, error)
	Import(ctx context.Context, path string, activate, restartFarm bool) error
	Export(ctx context.Context, path string) error

	RestartFarm(ctx context.Context) error
	RestartAllFarm(ctx context.Context) error
	RestartNode(ctx context.Context, name string) error
	StartService(ctx context.Context, svc model.Service, node string) error
	StopService(ctx context.Context, svc model.Service, node string) error
	FarmStatus(ctx context.Context) ([]core.NodeStatus, error)

	AddNode(ctx context.Context, name string) error
	RemoveNode(ctx context.Context, name string) error
	Nodes(ctx context.Context) ([]model.NodeDescriptor, error)
	Refresh(ctx context.Context) ([]model.NodeDescriptor, error)

	CreateDatabase(ctx context.Context, req core.DatabaseRequest) (string, error)
	CreateEncryptedDatabase(ctx context.Context, req core.DatabaseRequest) (string, error)
	UpgradeDatabase(ctx context.Context, kind core.StoreKind, server, database string) (string, error)

	RegisterRSACertificate(ctx context.Context, years int, restart bool) (string, error)
	RegisterSQLCertificate(ctx context.Context, years int, keyName string) (string, error)
	SetTheme(ctx context.Context, name string, paginated bool) error
}

// Opener connects to the farm. The returned func releases it.
type Opener func(ctx context.Context) (Farm, func(), error)

type session struct {
	open   Opener
	farm   Farm
	close  func()
	output string
}

// release closes the farm connection if one was opened.
func (s *session) release() {
	if s.close != nil {
		s.close()
		s.close = nil
	}
}

// NewRootCommand builds the command tree around open. The returned func
// releases the farm connection once the command has finished.
func NewRootCommand(open Opener) (*cobra.Command, func()) {
	s := &session{open: open}

	root := &cobra.Command{
		Use:           "mfactl",
		Short:         "Manage the MFA add-on across an ADFS farm",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch s.output {
			case FormatTable, FormatJSON, FormatYAML:
			default:
				return fmt.Errorf("unknown output format %q", s.output)
			}
			f, closeFn, err := s.open(cmd.Context())
			if err != nil {
				return err
			}
			s.farm, s.close = f, closeFn
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&s.output, "output", "o", FormatTable, "output format: table, json or yaml")

	root.AddCommand(
		s.registerCmd(),
		s.unregisterCmd(),
		s.enableCmd(),
		s.disableCmd(),
		s.statusCmd(),
		s.importCmd(),
		s.exportCmd(),
		s.restartCmd(),
		s.serviceCmd(),
		s.nodeCmd(),
		s.dbCmd(),
		s.certCmd(),
		s.themeCmd(),
	)
	withHints(root)
	return root, s.release
}

// withHints decorates the errors of every command with the next step an
// operator should take, where one is known.
func withHints(cmd *cobra.Command) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(c *cobra.Command, args []string) error {
			return hint(run(c, args))
		}
	}
	for _, sub := range cmd.Commands() {
		withHints(sub)
	}
}

func hint(err error) error {
	if core.IsNotInitialized(err) {
		return fmt.Errorf("%w; run 'mfactl register' first", err)
	}
	return err
}

func (s *session) render(cmd *cobra.Command, v any) error {
	return Render(cmd.OutOrStdout(), s.output, v)
}

// Execute runs mfactl against the configured farm.
func Execute() error {
	root, release := NewRootCommand(openFarm)
	defer release()
	return root.ExecuteContext(context.Background())
}

func openFarm(ctx context.Context) (Farm, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mfactl"
	}
	if err := cfg.Validate("cli"); err != nil {
		return nil, nil, err
	}

	logger := logging.NewConsoleLogger(cfg, os.Stderr)
	a, err := app.Build(ctx, cfg, logger, app.Options{ListenAddr: ":0"})
	if err != nil {
		return nil, nil, err
	}
	return a.Orchestrator, a.Close, nil
}
