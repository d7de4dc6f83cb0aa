// Package config loads skillmatch settings from a YAML file with
// SKILLMATCH_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinScore bounds accepted for matching.min_score.
const (
	MinScoreLow  = 0.5
	MinScoreHigh = 0.99
)

// Config holds all application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Matching MatchingConfig `mapstructure:"matching"`
	Index    IndexConfig    `mapstructure:"index"`
	Source   SourceConfig   `mapstructure:"source"`
	Output   OutputConfig   `mapstructure:"output"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

// LLMConfig describes the pooled endpoints. Every server must serve both
// models.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Servers           []string      `mapstructure:"servers"`
	APIKey            string        `mapstructure:"api_key"`
	CompletionModel   string        `mapstructure:"completion_model"`
	EmbedModel        string        `mapstructure:"embed_model"`
	SystemMessage     string        `mapstructure:"system_message"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type MatchingConfig struct {
	StopThreshold   int     `mapstructure:"stop_threshold"`
	MinScore        float64 `mapstructure:"min_score"`
	SkillTemplate   string  `mapstructure:"skill_template"`
	PackageTemplate string  `mapstructure:"package_template"`
	FilterTemplate  string  `mapstructure:"filter_template"`
	BatchSize       int     `mapstructure:"batch_size"`
	// Language is stored with every match when set.
	Language string `mapstructure:"language"`
}

// IndexConfig selects the similarity index. Backend is "memory" or
// "qdrant".
type IndexConfig struct {
	Backend    string `mapstructure:"backend"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type SourceConfig struct {
	SkillsDSN         string   `mapstructure:"skills_dsn"`
	SkillPathPatterns []string `mapstructure:"skill_path_patterns"`
	PackagesCSV       string   `mapstructure:"packages_csv"`
	MinDescription    int      `mapstructure:"min_description"`
}

type OutputConfig struct {
	SQLiteDSN string      `mapstructure:"sqlite_dsn"`
	Neo4j     Neo4jConfig `mapstructure:"neo4j"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// SecretsConfig enables the file and Vault backends used to resolve
// "file:" and "vault:" references in llm.api_key and output.neo4j.password.
type SecretsConfig struct {
	File  string      `mapstructure:"file"`
	Vault VaultConfig `mapstructure:"vault"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
}

// defaults lists every key so environment variables can override keys the
// file leaves out.
var defaults = map[string]any{
	"llm.provider":            "openai",
	"llm.servers":             []string{},
	"llm.api_key":             "",
	"llm.completion_model":    "",
	"llm.embed_model":         "",
	"llm.system_message":      "",
	"llm.temperature":         0.7,
	"llm.timeout":             2 * time.Minute,
	"llm.max_retries":         0,
	"llm.requests_per_minute": 0,

	"matching.stop_threshold":   0,
	"matching.min_score":        0.75,
	"matching.skill_template":   "",
	"matching.package_template": "",
	"matching.filter_template":  "",
	"matching.batch_size":       100,
	"matching.language":         "",

	"index.backend":    "memory",
	"index.host":       "localhost",
	"index.port":       6334,
	"index.collection": "skillmatch_left",

	"source.skills_dsn":          "",
	"source.skill_path_patterns": []string{"%.NET%", "%C#%"},
	"source.packages_csv":        "",
	"source.min_description":     40,

	"output.sqlite_dsn":     "",
	"output.neo4j.uri":      "",
	"output.neo4j.username": "",
	"output.neo4j.password": "",

	"log.level":  "info",
	"log.format": "text",

	"tracing.otlp_endpoint": "",
	"tracing.sample_rate":   1.0,

	"audit.path": "",

	"secrets.file":              "",
	"secrets.vault.address":     "",
	"secrets.vault.token":       "",
	"secrets.vault.mount_path":  "secret",
	"secrets.vault.secret_path": "skillmatch",
}

// Load reads configuration from the file at path (skipped when empty) and
// the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("SKILLMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing or out-of-range setting a run needs.
func (c *Config) Validate() error {
	var errs []error
	req := func(ok bool, key string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	req(len(c.LLM.Servers) > 0, "llm.servers")
	req(c.LLM.APIKey != "", "llm.api_key")
	req(c.LLM.CompletionModel != "", "llm.completion_model")
	req(c.LLM.EmbedModel != "", "llm.embed_model")
	req(c.LLM.SystemMessage != "", "llm.system_message")
	req(c.Matching.SkillTemplate != "", "matching.skill_template")
	req(c.Matching.PackageTemplate != "", "matching.package_template")
	req(c.Matching.FilterTemplate != "", "matching.filter_template")

	if c.Matching.StopThreshold <= 0 {
		errs = append(errs, fmt.Errorf("matching.stop_threshold must be positive, got %d", c.Matching.StopThreshold))
	}
	if c.Matching.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("matching.batch_size must be positive, got %d", c.Matching.BatchSize))
	}
	if c.Matching.MinScore < MinScoreLow || c.Matching.MinScore > MinScoreHigh {
		errs = append(errs, fmt.Errorf("matching.min_score %.2f is outside [%.2f, %.2f]", c.Matching.MinScore, MinScoreLow, MinScoreHigh))
	}
	if c.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must not be negative"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must not be negative"))
	}

	switch c.Index.Backend {
	case "memory":
	case "qdrant":
		req(c.Index.Host != "", "index.host")
		req(c.Index.Collection != "", "index.collection")
	default:
		errs = append(errs, fmt.Errorf("index.backend %q is not one of memory, qdrant", c.Index.Backend))
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Warnings returns settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.Output.SQLiteDSN == "" && c.Output.Neo4j.URI == "" {
		warnings = append(warnings, "no output configured, matches are only logged")
	}
	if c.Source.MinDescription < 0 {
		warnings = append(warnings, fmt.Sprintf("source.min_description %d is negative, every package is kept", c.Source.MinDescription))
	}

	return warnings
}
