package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	// ConfigDatabaseURL is the durable configuration store (Postgres).
	ConfigDatabaseURL string
	CacheDir          string
	NotifyAddr        string
	NotifyListenAddr  string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string
	// NodeName overrides the resolved local FQDN.
	NodeName string
	// InitSystem selects the service-control implementation.
	// "scm" for Windows service control manager, "systemd" elsewhere.
	InitSystem      string
	SQLScriptsDir   string
	CertDir         string
	PowerShellPath  string
	MFAServiceName  string
	HubServiceName  string
	ProviderName    string
	ProviderType    string
	MFAStartTimeout time.Duration
	HubStartTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ConfigDatabaseURL: getEnv("CONFIG_DATABASE_URL", ""),
		CacheDir:          getEnv("CACHE_DIR", filepath.Join(os.TempDir(), "mfafarm")),
		NotifyAddr:        getEnv("NOTIFY_ADDR", "255.255.255.255:5987"),
		NotifyListenAddr:  getEnv("NOTIFY_LISTEN_ADDR", ":5987"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9187"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", ""),
		NodeName:          getEnv("NODE_NAME", ""),
		InitSystem:        getEnv("INIT_SYSTEM", defaultInitSystem()),
		SQLScriptsDir:     getEnv("SQL_SCRIPTS_DIR", filepath.Join("MFA", "SQLTools")),
		CertDir:           getEnv("CERT_DIR", filepath.Join("MFA", "Certificates")),
		PowerShellPath:    getEnv("POWERSHELL_PATH", "powershell.exe"),
		MFAServiceName:    getEnv("MFA_SERVICE_NAME", "adfssrv"),
		HubServiceName:    getEnv("NOTIFHUB_SERVICE_NAME", "mfanotifhub"),
		ProviderName:      getEnv("PROVIDER_NAME", "MultiFactorAuthenticationProvider"),
		ProviderType:      getEnv("PROVIDER_TYPE_NAME", "Neos.IdentityServer.MultiFactor.AuthenticationProvider, Neos.IdentityServer.MultiFactor"),
		MFAStartTimeout:   getDuration("MFA_START_TIMEOUT", 60*time.Second),
		HubStartTimeout:   getDuration("NOTIFHUB_START_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the settings component needs. The agent and the CLI both
// need the configuration store; only the agent binds the listeners.
func (c *Config) Validate(component string) error {
	var errs []error
	if c.ConfigDatabaseURL == "" {
		errs = append(errs, errors.New("CONFIG_DATABASE_URL is required"))
	}
	if c.CacheDir == "" {
		errs = append(errs, errors.New("CACHE_DIR is required"))
	}
	if c.MFAServiceName == "" || c.HubServiceName == "" {
		errs = append(errs, errors.New("MFA_SERVICE_NAME and NOTIFHUB_SERVICE_NAME are required"))
	}
	if component == "agent" && c.NotifyListenAddr == "" {
		errs = append(errs, errors.New("NOTIFY_LISTEN_ADDR is required"))
	}
	if c.NotifyAddr == "" {
		errs = append(errs, errors.New("NOTIFY_ADDR is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", component, errors.Join(errs...))
	}
	return nil
}
