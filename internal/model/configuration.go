package model

// SecretKeyFormat selects how per-user TOTP secrets are generated and protected.
type SecretKeyFormat int

const (
	KeyFormatRNG SecretKeyFormat = iota
	KeyFormatRSA
	KeyFormatCustom
)

func (f SecretKeyFormat) String() string {
	switch f {
	case KeyFormatRNG:
		return "RNG"
	case KeyFormatRSA:
		return "RSA"
	case KeyFormatCustom:
		return "CUSTOM"
	default:
		return "invalid"
	}
}

// Valid reports whether the format is one a key manager can be loaded for.
func (f SecretKeyFormat) Valid() bool {
	return f >= KeyFormatRNG && f <= KeyFormatCustom
}

// SecretStoreDescriptor points at a durable store holding configuration or secret keys.
// Thumbprint is non-empty if and only if AlwaysEncrypted is set.
type SecretStoreDescriptor struct {
	ConnectionString string            `json:"connection_string" cbor:"connection_string"`
	AlwaysEncrypted  bool              `json:"always_encrypted" cbor:"always_encrypted"`
	Thumbprint       string            `json:"thumbprint" cbor:"thumbprint"`
	KeyName          string            `json:"key_name,omitempty" cbor:"key_name,omitempty"`
	Parameters       map[string]string `json:"parameters,omitempty" cbor:"parameters,omitempty"`
}

// KeysPolicy holds the farm's secret-key settings.
type KeysPolicy struct {
	Format                SecretKeyFormat `json:"format" cbor:"format"`
	CertificateThumbprint string          `json:"certificate_thumbprint,omitempty" cbor:"certificate_thumbprint,omitempty"`
}

// ThemeSettings mirror the host pipeline's presentation settings.
type ThemeSettings struct {
	Name      string `json:"name" cbor:"name"`
	Paginated bool   `json:"paginated" cbor:"paginated"`
}

// Configuration is the single shared farm-wide settings blob.
type Configuration struct {
	Version     int                   `json:"version" cbor:"version"`
	Farm        FarmTopology          `json:"farm" cbor:"farm"`
	Keys        KeysPolicy            `json:"keys" cbor:"keys"`
	ConfigStore SecretStoreDescriptor `json:"config_store" cbor:"config_store"`
	KeyStore    SecretStoreDescriptor `json:"key_store" cbor:"key_store"`
	Theme       ThemeSettings         `json:"theme" cbor:"theme"`

	// Dirty is in-memory only and never persisted.
	Dirty bool `json:"-" cbor:"-"`
}

// NewConfiguration returns the defaults a freshly registered farm starts from.
func NewConfiguration() *Configuration {
	return &Configuration{
		Version: 1,
		Keys:    KeysPolicy{Format: KeyFormatRNG},
		Theme:   ThemeSettings{Name: "default"},
		Dirty:   true,
	}
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	out := *c
	out.Farm.Nodes = append([]NodeDescriptor(nil), c.Farm.Nodes...)
	out.ConfigStore.Parameters = cloneParams(c.ConfigStore.Parameters)
	out.KeyStore.Parameters = cloneParams(c.KeyStore.Parameters)
	return &out
}

func cloneParams(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
