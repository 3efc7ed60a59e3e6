package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/edvin/mfafarm/internal/core"
)

type storeKind struct{ core.StoreKind }

func (k *storeKind) Set(v string) error {
	switch v {
	case "config":
		k.StoreKind = core.StoreConfig
	case "keys":
		k.StoreKind = core.StoreKeys
	default:
		return errors.New("must be config or keys")
	}
	return nil
}

func (k *storeKind) Type() string { return "kind" }

var _ pflag.Value = (*storeKind)(nil)

func databaseFlags(fs *pflag.FlagSet, req *core.DatabaseRequest, kind *storeKind) {
	fs.Var(kind, "kind", "secret store: config or keys")
	fs.StringVar(&req.Server, "server", "", "SQL Server instance")
	fs.StringVar(&req.Database, "database", "", "database name")
	fs.StringVar(&req.User, "user", "", "login granted access to the store")
	fs.StringVar(&req.Password, "password", "", "SQL login password (empty selects a Windows login)")
}

func (s *session) dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Provision and upgrade the secret stores",
	}
	cmd.AddCommand(
		s.createDBCmd(false),
		s.createDBCmd(true),
		s.upgradeDBCmd(),
	)
	return cmd
}

type provisioned struct {
	Store      string `json:"store"`
	Connection string `json:"connection"`
}

func (s *session) createDBCmd(encrypted bool) *cobra.Command {
	var req core.DatabaseRequest
	var kind storeKind
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a secret store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Kind = kind.StoreKind
			create := s.farm.CreateDatabase
			if encrypted {
				create = s.farm.CreateEncryptedDatabase
			}
			conn, err := create(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.render(cmd, provisioned{kind.String(), conn})
		},
	}
	databaseFlags(cmd.Flags(), &req, &kind)
	if encrypted {
		cmd.Use = "create-encrypted"
		cmd.Short = "Create a secret store with column encryption"
		cmd.Flags().StringVar(&req.KeyName, "key-name", "", "column master key name")
		cmd.Flags().StringVar(&req.Thumbprint, "thumbprint", "", "certificate thumbprint (default: configured SQL certificate)")
	}
	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("user")
	return cmd
}

func (s *session) upgradeDBCmd() *cobra.Command {
	var kind storeKind
	var server, database string
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the schema of a recorded secret store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := s.farm.UpgradeDatabase(cmd.Context(), kind.StoreKind, server, database)
			if err != nil {
				return err
			}
			return s.render(cmd, provisioned{kind.String(), conn})
		},
	}
	cmd.Flags().Var(&kind, "kind", "secret store: config or keys")
	cmd.Flags().StringVar(&server, "server", "", "SQL Server instance")
	cmd.Flags().StringVar(&database, "database", "", "database name")
	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("database")
	return cmd
}
