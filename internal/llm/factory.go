package llm

import (
	"fmt"
	"sort"
	"time"
)

// ProviderConfig holds everything needed to build one endpoint.
type ProviderConfig struct {
	Provider       string // "openai", "ollama", "vllm", "custom", ...
	APIKey         string
	Model          string // Completion model
	EmbedModel     string
	BaseURL        string // Endpoint URL; empty uses the preset for Provider
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	RequestsPerMin int
	RateLimitBurst int
}

// DefaultProviderConfig returns a config with the default timeout and no
// retries.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:   "openai",
		Timeout:    2 * time.Minute,
		RetryDelay: time.Second,
	}
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// NewFactory creates an empty factory.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{constructors: make(map[string]ProviderConstructor)}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a single endpoint and wraps it with the timeout/retry and
// rate-limit decorators the config asks for.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	name := cfg.Provider
	if name == "" {
		name = "openai"
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q, registered: %v", name, f.names())
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = KnownProviders[name]
	}

	p, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", name, err)
	}
	if cfg.Timeout > 0 || cfg.MaxRetries > 0 {
		p = NewRetryProvider(p, &RetryConfig{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			MaxDelay:   30 * time.Second,
			Timeout:    cfg.Timeout,
		})
	}
	return WithRateLimit(p, cfg.RequestsPerMin, cfg.RateLimitBurst), nil
}

// CreateServers builds one endpoint per server URL, all sharing cfg.
func (f *ProviderFactory) CreateServers(cfg ProviderConfig, servers []string) ([]Provider, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers configured")
	}
	out := make([]Provider, 0, len(servers))
	for _, url := range servers {
		c := cfg
		c.BaseURL = url
		p, err := f.Create(c)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", url, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *ProviderFactory) names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownProviders lists OpenAI-compatible presets and their default base
// URLs. Any other server speaking the same API works with "custom" and an
// explicit URL.
var KnownProviders = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"ollama":   "http://localhost:11434/v1",
	"vllm":     "http://localhost:8000/v1",
	"together": "https://api.together.xyz/v1",
	"deepseek": "https://api.deepseek.com/v1",
}
