// Package secrets resolves credentials referenced from the configuration.
//
// A config value may be a literal or a reference:
//
//	env:OPENAI_API_KEY     environment variable
//	file:llm_api_key       key of the JSON secrets file
//	vault:llm_api_key      key of the Vault KV v2 secret
//
// Literals are returned unchanged.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when a provider has no value for a key.
var ErrNotFound = errors.New("secret not found")

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config configures the optional file and Vault backends. The env backend
// is always available.
type Config struct {
	FilePath string
	Vault    *VaultConfig
}

// Manager resolves references against the configured backends and caches
// resolved values for the lifetime of the process.
type Manager struct {
	providers map[string]Provider
	cacheMu   sync.RWMutex
	cache     map[string]string
}

// NewManager creates a manager. Backends whose config is empty are not
// registered and references to them fail.
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		providers: map[string]Provider{"env": EnvProvider{}},
		cache:     make(map[string]string),
	}
	if cfg == nil {
		return m, nil
	}
	if cfg.FilePath != "" {
		p, err := NewFileProvider(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		m.providers["file"] = p
	}
	if cfg.Vault != nil && cfg.Vault.Address != "" {
		p, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
		m.providers["vault"] = p
	}
	return m, nil
}

// Resolve returns the value a config entry stands for.
func (m *Manager) Resolve(ctx context.Context, value string) (string, error) {
	scheme, key, ok := strings.Cut(value, ":")
	if !ok {
		return value, nil
	}
	p, known := m.providers[scheme]
	if !known {
		if _, supported := schemes[scheme]; supported {
			return "", fmt.Errorf("secret %q: %s backend is not configured", value, scheme)
		}
		// Not a reference, e.g. a URL or a key containing a colon.
		return value, nil
	}

	m.cacheMu.RLock()
	v, hit := m.cache[value]
	m.cacheMu.RUnlock()
	if hit {
		return v, nil
	}

	v, err := p.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s secret %q: %w", p.Name(), key, err)
	}
	m.cacheMu.Lock()
	m.cache[value] = v
	m.cacheMu.Unlock()
	return v, nil
}

// ResolveAll resolves every pointed-to value in place and reports all
// failures together.
func (m *Manager) ResolveAll(ctx context.Context, values ...*string) error {
	var errs []error
	for _, v := range values {
		if v == nil || *v == "" {
			continue
		}
		resolved, err := m.Resolve(ctx, *v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*v = resolved
	}
	return errors.Join(errs...)
}

var schemes = map[string]struct{}{"env": {}, "file": {}, "vault": {}}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct{}

func (EnvProvider) Name() string { return "env" }

func (EnvProvider) Get(_ context.Context, key string) (string, error) {
	if val := os.Getenv(key); val != "" {
		return val, nil
	}
	return "", ErrNotFound
}
