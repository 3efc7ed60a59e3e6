package core

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/certs"
	"github.com/edvin/mfafarm/internal/db"
	"github.com/edvin/mfafarm/internal/model"
)

// StoreKind selects which logical secret store a request targets.
type StoreKind int

const (
	// StoreConfig is the primary configuration and user store.
	StoreConfig StoreKind = iota
	// StoreKeys is the optional separate TOTP secret-key store.
	StoreKeys
)

func (k StoreKind) String() string {
	if k == StoreKeys {
		return "keys"
	}
	return "config"
}

// columnKeySize is the length of the generated column encryption key.
const columnKeySize = 32

var validate = validator.New()

var (
	sqlNameRegex  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)
	sqlLoginRegex = regexp.MustCompile(`^[A-Za-z0-9_.$@-]+(\\[A-Za-z0-9_.$@-]+)?$`)
)

func init() {
	validate.RegisterValidation("sqlname", func(fl validator.FieldLevel) bool {
		return sqlNameRegex.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("sqllogin", func(fl validator.FieldLevel) bool {
		return sqlLoginRegex.MatchString(fl.Field().String())
	})
}

// DatabaseRequest describes a secret store to provision. An empty Password
// selects a Windows login and integrated authentication.
type DatabaseRequest struct {
	Kind       StoreKind
	Server     string `validate:"required,max=255,excludesall=;'"`
	Database   string `validate:"required,sqlname"`
	User       string `validate:"required,max=128,sqllogin"`
	Password   string `validate:"max=128"`
	KeyName    string `validate:"omitempty,sqlname"`
	Thumbprint string `validate:"omitempty,hexadecimal,len=40"`
}

func (r DatabaseRequest) createScript() string {
	if r.Kind == StoreKeys {
		return db.ScriptKeys
	}
	return db.ScriptConfig
}

// Provisioner creates and upgrades secret stores and records their
// connection descriptors in the configuration.
type Provisioner struct {
	exec    db.Executor
	scripts db.ScriptSource
	certs   certs.Provider
	configs *ConfigController
	logger  zerolog.Logger
	random  io.Reader
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(exec db.Executor, scripts db.ScriptSource, certProvider certs.Provider, configs *ConfigController, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		exec:    exec,
		scripts: scripts,
		certs:   certProvider,
		configs: configs,
		logger:  logger.With().Str("component", "provisioner").Logger(),
		random:  rand.Reader,
	}
}

// CreateDatabase provisions a plain store and returns its connection string.
func (p *Provisioner) CreateDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("validation error: %w", err)
	}
	if err := p.configs.Ensure(ctx); err != nil {
		return "", err
	}
	script, err := p.scripts.Load(req.createScript())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvisioningFailure, err)
	}

	if err := p.createPrincipals(ctx, req); err != nil {
		return "", err
	}
	if err := p.run(ctx, req.Server, req.Database, "schema", db.Render(script, req.Database, "")); err != nil {
		return "", err
	}

	desc := model.SecretStoreDescriptor{
		ConnectionString: db.ConnString(db.ConnParams{
			Server: req.Server, Database: req.Database, User: req.User, Password: req.Password,
		}),
	}
	if err := p.record(ctx, req.Kind, desc); err != nil {
		return "", err
	}
	return desc.ConnectionString, nil
}

// CreateEncryptedDatabase provisions a column-encrypted store whose column
// master key is bound to the certificate with req.Thumbprint.
func (p *Provisioner) CreateEncryptedDatabase(ctx context.Context, req DatabaseRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("validation error: %w", err)
	}
	if req.KeyName == "" || req.Thumbprint == "" {
		return "", fmt.Errorf("%w: encrypted store needs a key name and a certificate thumbprint", ErrNotSupported)
	}
	if err := p.configs.Ensure(ctx); err != nil {
		return "", err
	}

	name := db.ScriptConfigEncrypted
	if req.Kind == StoreKeys {
		name = db.ScriptKeysEncrypted
	}
	script, err := p.scripts.Load(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvisioningFailure, err)
	}

	thumb := strings.ToUpper(req.Thumbprint)
	keyPath := certs.StorePath(thumb)
	wrapped, err := p.wrapColumnKey(ctx, keyPath)
	if err != nil {
		return "", err
	}

	if err := p.createPrincipals(ctx, req); err != nil {
		return "", err
	}
	p.bestEffort(ctx, req.Server, req.Database, "grant_column_key",
		fmt.Sprintf("GRANT ALTER ANY COLUMN ENCRYPTION KEY TO [%s]", req.User))

	cmk := fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.column_master_keys WHERE name = N'%[1]s') "+
			"CREATE COLUMN MASTER KEY [%[1]s] WITH (KEY_STORE_PROVIDER_NAME = 'MSSQL_CERTIFICATE_STORE', KEY_PATH = '%[2]s')",
		req.KeyName, keyPath)
	if err := p.run(ctx, req.Server, req.Database, "column_master_key", cmk); err != nil {
		return "", err
	}
	cek := fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.column_encryption_keys WHERE name = N'%[1]s') "+
			"CREATE COLUMN ENCRYPTION KEY [%[1]s] WITH VALUES (COLUMN_MASTER_KEY = [%[1]s], ALGORITHM = 'RSA_OAEP', ENCRYPTED_VALUE = %[2]s)",
		req.KeyName, certs.HexLiteral(wrapped))
	if err := p.run(ctx, req.Server, req.Database, "column_encryption_key", cek); err != nil {
		return "", err
	}
	if err := p.run(ctx, req.Server, req.Database, "schema", db.Render(script, req.Database, req.KeyName)); err != nil {
		return "", err
	}

	desc := model.SecretStoreDescriptor{
		ConnectionString: db.ConnString(db.ConnParams{
			Server: req.Server, Database: req.Database, User: req.User, Password: req.Password, Encrypted: true,
		}),
		AlwaysEncrypted: true,
		Thumbprint:      thumb,
		KeyName:         req.KeyName,
	}
	if err := p.record(ctx, req.Kind, desc); err != nil {
		return "", err
	}
	return desc.ConnectionString, nil
}

// UpgradeDatabase runs the upgrade script matching the recorded descriptor
// of kind. The descriptor alone decides whether the store is encrypted.
func (p *Provisioner) UpgradeDatabase(ctx context.Context, kind StoreKind, server, database string) (string, error) {
	if !sqlNameRegex.MatchString(database) {
		return "", fmt.Errorf("validation error: invalid database name %q", database)
	}
	if err := p.configs.Ensure(ctx); err != nil {
		return "", err
	}
	desc := descriptorOf(p.configs.Current(), kind)
	if desc.AlwaysEncrypted != (desc.Thumbprint != "") ||
		(desc.ConnectionString != "" && desc.AlwaysEncrypted != db.IsEncrypted(desc.ConnectionString)) {
		return "", fmt.Errorf("%w: %s store descriptor is inconsistent", ErrNotSupported, kind)
	}
	if server == "" {
		server = db.ServerOf(desc.ConnectionString)
	}

	name := upgradeScript(kind, desc.AlwaysEncrypted)
	script, err := p.scripts.Load(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvisioningFailure, err)
	}
	key := ""
	if desc.AlwaysEncrypted {
		key = desc.KeyName
	}
	if err := p.run(ctx, server, database, "upgrade", db.Render(script, database, key)); err != nil {
		return "", err
	}
	p.logger.Info().Str("store", kind.String()).Str("script", name).Msg("store upgraded")
	return desc.ConnectionString, nil
}

func upgradeScript(kind StoreKind, encrypted bool) string {
	switch {
	case kind == StoreKeys && encrypted:
		return db.ScriptKeysEncryptedUpgrade
	case kind == StoreKeys:
		return db.ScriptKeysUpgrade
	case encrypted:
		return db.ScriptConfigEncryptedUpgrade
	default:
		return db.ScriptConfigUpgrade
	}
}

func descriptorOf(cfg *model.Configuration, kind StoreKind) model.SecretStoreDescriptor {
	if cfg == nil {
		return model.SecretStoreDescriptor{}
	}
	if kind == StoreKeys {
		return cfg.KeyStore
	}
	return cfg.ConfigStore
}

// createPrincipals creates the database, the login and the in-database
// user with its roles. Each statement is guarded so a re-run after a
// partial failure converges.
func (p *Provisioner) createPrincipals(ctx context.Context, req DatabaseRequest) error {
	create := fmt.Sprintf("IF DB_ID(N'%[1]s') IS NULL CREATE DATABASE [%[1]s]", req.Database)
	if err := p.run(ctx, req.Server, "master", "create_database", create); err != nil {
		return err
	}

	var login string
	if req.Password != "" {
		login = fmt.Sprintf(
			"IF NOT EXISTS (SELECT name FROM master.sys.server_principals WHERE name = '%[1]s') "+
				"BEGIN CREATE LOGIN [%[1]s] WITH PASSWORD = '%[2]s', DEFAULT_DATABASE=[master] END",
			req.User, quote(req.Password))
	} else {
		login = fmt.Sprintf(
			"IF NOT EXISTS (SELECT name FROM master.sys.server_principals WHERE name = '%[1]s') "+
				"BEGIN CREATE LOGIN [%[1]s] FROM WINDOWS WITH DEFAULT_DATABASE=[master] END",
			req.User)
	}
	if err := p.run(ctx, req.Server, "master", "create_login", login); err != nil {
		return err
	}

	// The provisioning principal may already own the database; these may fail.
	p.bestEffort(ctx, req.Server, req.Database, "create_user",
		fmt.Sprintf("IF USER_ID(N'%[1]s') IS NULL CREATE USER [%[1]s] FOR LOGIN [%[1]s]", req.User))
	p.bestEffort(ctx, req.Server, req.Database, "grant_db_owner",
		fmt.Sprintf("ALTER ROLE [db_owner] ADD MEMBER [%s]", req.User))
	p.bestEffort(ctx, req.Server, req.Database, "grant_db_securityadmin",
		fmt.Sprintf("ALTER ROLE [db_securityadmin] ADD MEMBER [%s]", req.User))
	return nil
}

func (p *Provisioner) wrapColumnKey(ctx context.Context, keyPath string) ([]byte, error) {
	key := make([]byte, columnKeySize)
	if _, err := io.ReadFull(p.random, key); err != nil {
		return nil, fmt.Errorf("%w: generate column key: %w", ErrProvisioningFailure, err)
	}
	wrapped, err := p.certs.WrapKey(ctx, keyPath, key)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap column key with %s: %w", ErrProvisioningFailure, keyPath, err)
	}
	return wrapped, nil
}

// run executes a state-defining step. The driver error is kept in the chain.
func (p *Provisioner) run(ctx context.Context, server, database, step, statement string) error {
	if err := p.exec.Exec(ctx, db.AdminConnString(server, database), statement); err != nil {
		p.logger.Error().Err(err).Str("step", step).Str("database", database).Msg("provisioning step failed")
		return fmt.Errorf("%w: %s: %w", ErrProvisioningFailure, step, err)
	}
	return nil
}

func (p *Provisioner) bestEffort(ctx context.Context, server, database, step, statement string) {
	if err := p.exec.Exec(ctx, db.AdminConnString(server, database), statement); err != nil {
		p.logger.Warn().Err(err).Str("step", step).Str("database", database).Msg("best-effort step failed")
	}
}

// record writes the descriptor into the configuration and saves it. This
// is the last provisioning step, so a failed run never leaves a partially
// updated descriptor behind. When the save fails the previous descriptor
// is put back.
func (p *Provisioner) record(ctx context.Context, kind StoreKind, desc model.SecretStoreDescriptor) error {
	var prev model.SecretStoreDescriptor
	if err := p.configs.Update(func(cfg *model.Configuration) bool {
		slot := &cfg.ConfigStore
		if kind == StoreKeys {
			slot = &cfg.KeyStore
		}
		prev = *slot
		desc.Parameters = slot.Parameters
		*slot = desc
		return true
	}); err != nil {
		return err
	}
	if err := p.configs.Save(ctx); err != nil {
		if rerr := p.configs.Update(func(cfg *model.Configuration) bool {
			if kind == StoreKeys {
				cfg.KeyStore = prev
			} else {
				cfg.ConfigStore = prev
			}
			return true
		}); rerr != nil {
			p.logger.Warn().Err(rerr).Str("step", "restore_descriptor").Msg("best-effort step failed")
		}
		return err
	}
	p.logger.Info().Str("store", kind.String()).Bool("encrypted", desc.AlwaysEncrypted).Msg("secret store provisioned")
	return nil
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
