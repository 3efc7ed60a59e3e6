package pshost

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Pipeline manages the add-on's registration with the host authentication
// pipeline. The pipeline itself is a black box reached through Host.
type Pipeline struct {
	host     Host
	logger   zerolog.Logger
	provider string
	typeName string
}

// NewPipeline creates a Pipeline for the provider registered under name.
func NewPipeline(host Host, logger zerolog.Logger, name, typeName string) *Pipeline {
	return &Pipeline{
		host:     host,
		logger:   logger.With().Str("component", "pipeline").Str("provider", name).Logger(),
		provider: name,
		typeName: typeName,
	}
}

// Provider returns the registered provider name.
func (p *Pipeline) Provider() string { return p.provider }

// Register adds the provider, seeding it with the configuration file at configPath.
func (p *Pipeline) Register(ctx context.Context, configPath string) error {
	_, err := p.host.Run(ctx,
		"Register-AdfsAuthenticationProvider -TypeName $p.type -Name $p.name -ConfigurationFilePath $p.path",
		map[string]any{"type": p.typeName, "name": p.provider, "path": configPath})
	if err != nil {
		return fmt.Errorf("register provider %s: %w", p.provider, err)
	}
	p.logger.Info().Msg("provider registered")
	return nil
}

// Unregister removes the provider from the pipeline.
func (p *Pipeline) Unregister(ctx context.Context) error {
	_, err := p.host.Run(ctx,
		"Unregister-AdfsAuthenticationProvider -Name $p.name -Confirm:$false",
		map[string]any{"name": p.provider})
	if err != nil {
		return fmt.Errorf("unregister provider %s: %w", p.provider, err)
	}
	p.logger.Info().Msg("provider unregistered")
	return nil
}

// AdditionalProviders returns the global additional-provider list.
func (p *Pipeline) AdditionalProviders(ctx context.Context) ([]string, error) {
	rows, err := p.host.Run(ctx, "(Get-AdfsGlobalAuthenticationPolicy).AdditionalAuthenticationProvider", nil)
	if err != nil {
		return nil, fmt.Errorf("read additional providers: %w", err)
	}
	return Values(rows), nil
}

func (p *Pipeline) setAdditionalProviders(ctx context.Context, providers []string) error {
	if providers == nil {
		providers = []string{}
	}
	_, err := p.host.Run(ctx,
		"Set-AdfsGlobalAuthenticationPolicy -AdditionalAuthenticationProvider @($p.providers)",
		map[string]any{"providers": providers})
	if err != nil {
		return fmt.Errorf("write additional providers: %w", err)
	}
	return nil
}

// IsActive reports whether the provider is in the additional-provider list.
func (p *Pipeline) IsActive(ctx context.Context) (bool, error) {
	list, err := p.AdditionalProviders(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(list, p.provider) >= 0, nil
}

// Activate adds the provider to the additional-provider list. It is a
// no-op when the provider is already listed.
func (p *Pipeline) Activate(ctx context.Context) error {
	list, err := p.AdditionalProviders(ctx)
	if err != nil {
		return err
	}
	if indexOf(list, p.provider) >= 0 {
		return nil
	}
	if err := p.setAdditionalProviders(ctx, append(list, p.provider)); err != nil {
		return err
	}
	p.logger.Info().Msg("provider activated")
	return nil
}

// Deactivate removes the provider from the additional-provider list.
func (p *Pipeline) Deactivate(ctx context.Context) error {
	list, err := p.AdditionalProviders(ctx)
	if err != nil {
		return err
	}
	i := indexOf(list, p.provider)
	if i < 0 {
		return nil
	}
	rest := append(list[:i:i], list[i+1:]...)
	if err := p.setAdditionalProviders(ctx, rest); err != nil {
		return err
	}
	p.logger.Info().Msg("provider deactivated")
	return nil
}

// Import loads the provider's configuration backup from path.
func (p *Pipeline) Import(ctx context.Context, path string) error {
	_, err := p.host.Run(ctx,
		"Import-AdfsAuthenticationProviderConfigurationData -Name $p.name -FilePath $p.path",
		map[string]any{"name": p.provider, "path": path})
	if err != nil {
		return fmt.Errorf("import provider configuration: %w", err)
	}
	return nil
}

// SetTheme activates a web theme. Paginated authentication pages can only
// be switched on platforms that support them.
func (p *Pipeline) SetTheme(ctx context.Context, name string, paginated, supportsPagination bool) error {
	if supportsPagination {
		if _, err := p.host.Run(ctx,
			"Set-AdfsGlobalAuthenticationPolicy -EnablePaginatedAuthenticationPages $p.paginated",
			map[string]any{"paginated": paginated}); err != nil {
			return fmt.Errorf("set paginated pages: %w", err)
		}
	}
	if _, err := p.host.Run(ctx,
		"Set-AdfsWebConfig -ActiveThemeName $p.theme",
		map[string]any{"theme": name}); err != nil {
		return fmt.Errorf("set theme %s: %w", name, err)
	}
	return nil
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if strings.EqualFold(v, name) {
			return i
		}
	}
	return -1
}
