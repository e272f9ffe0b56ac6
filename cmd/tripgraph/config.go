package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	// Config is the CLI configuration.
	Config struct {
		Model        ModelConfig        `mapstructure:"model"`
		Anthropic    APIKeyConfig       `mapstructure:"anthropic"`
		OpenAI       APIKeyConfig       `mapstructure:"openai"`
		AWS          AWSConfig          `mapstructure:"aws"`
		Store        StoreConfig        `mapstructure:"store"`
		Stream       StreamConfig       `mapstructure:"stream"`
		Tools        ToolsConfig        `mapstructure:"tools"`
		Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
		Log          LogConfig          `mapstructure:"log"`
	}

	ModelConfig struct {
		// Provider is anthropic, openai or bedrock.
		Provider  string `mapstructure:"provider"`
		Name      string `mapstructure:"name"`
		MaxTokens int    `mapstructure:"max_tokens"`
		// TPM is the initial tokens-per-minute budget. Zero disables rate
		// limiting.
		TPM    int  `mapstructure:"tpm"`
		Strict bool `mapstructure:"strict"`
	}

	APIKeyConfig struct {
		APIKey string `mapstructure:"api_key"`
	}

	AWSConfig struct {
		Region  string `mapstructure:"region"`
		Profile string `mapstructure:"profile"`
	}

	StoreConfig struct {
		// Kind is memory, sqlite, redis or mongo.
		Kind   string       `mapstructure:"kind"`
		SQLite SQLiteConfig `mapstructure:"sqlite"`
		Redis  RedisConfig  `mapstructure:"redis"`
		Mongo  MongoConfig  `mapstructure:"mongo"`
	}

	SQLiteConfig struct {
		Path string `mapstructure:"path"`
	}

	RedisConfig struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		TTL      time.Duration `mapstructure:"ttl"`
	}

	MongoConfig struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	}

	StreamConfig struct {
		// Pulse publishes progress events to Redis streams.
		Pulse  bool `mapstructure:"pulse"`
		MaxLen int  `mapstructure:"max_len"`
	}

	ToolsConfig struct {
		Timeout time.Duration `mapstructure:"timeout"`
		// Cache enables the Redis idempotency cache. It is always on with
		// the redis store.
		Cache    bool          `mapstructure:"cache"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		// KnowledgePath is a YAML file of knowledge documents.
		KnowledgePath string `mapstructure:"knowledge_path"`
		// KnowledgeItems restricts retrieval to these item IDs when set.
		KnowledgeItems []string `mapstructure:"knowledge_items"`
		UserAgent      string   `mapstructure:"user_agent"`
	}

	OrchestratorConfig struct {
		MaxRepairs      int `mapstructure:"max_repairs"`
		MaxStepAttempts int `mapstructure:"max_step_attempts"`
	}

	LogConfig struct {
		// Format is terminal, json or empty to pick based on the output.
		Format string `mapstructure:"format"`
		Debug  bool   `mapstructure:"debug"`
	}
)

var (
	providers  = []string{"anthropic", "openai", "bedrock"}
	storeKinds = []string{"memory", "sqlite", "redis", "mongo"}
)

// loadConfig reads the configuration. Precedence, highest first: flags bound
// to v, TRIPGRAPH_* environment variables, the config file, defaults. When
// file is empty tripgraph.yaml is looked up in the working directory and in
// the user config directory.
func loadConfig(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("tripgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(userConfigDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("TRIPGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "TRIPGRAPH_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "TRIPGRAPH_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("aws.region", "TRIPGRAPH_AWS_REGION", "AWS_REGION")
	_ = v.BindEnv("aws.profile", "TRIPGRAPH_AWS_PROFILE", "AWS_PROFILE")
	_ = v.BindEnv("tools.knowledge_items", "TRIPGRAPH_TOOLS_KNOWLEDGE_ITEMS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Tools.KnowledgeItems) == 0 {
		cfg.Tools.KnowledgeItems = nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "anthropic")
	v.SetDefault("model.name", "")
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.tpm", 60000)
	v.SetDefault("model.strict", false)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")

	v.SetDefault("store.kind", "sqlite")
	v.SetDefault("store.sqlite.path", filepath.Join(userDataDir(), "tripgraph.db"))
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.ttl", "0s")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "tripgraph")

	v.SetDefault("stream.pulse", false)
	v.SetDefault("stream.max_len", 1000)

	v.SetDefault("tools.timeout", "30s")
	v.SetDefault("tools.cache", false)
	v.SetDefault("tools.cache_ttl", "300s")
	v.SetDefault("tools.knowledge_path", "")
	v.SetDefault("tools.user_agent", "tripgraph/1.0")

	v.SetDefault("orchestrator.max_repairs", 3)
	v.SetDefault("orchestrator.max_step_attempts", 2)

	v.SetDefault("log.format", "")
	v.SetDefault("log.debug", false)
}

func (c *Config) validate() error {
	if !slices.Contains(providers, c.Model.Provider) {
		return fmt.Errorf("model.provider: unsupported provider %q (want one of %s)", c.Model.Provider, strings.Join(providers, ", "))
	}
	if !slices.Contains(storeKinds, c.Store.Kind) {
		return fmt.Errorf("store.kind: unsupported store %q (want one of %s)", c.Store.Kind, strings.Join(storeKinds, ", "))
	}
	if c.Model.MaxTokens <= 0 {
		return errors.New("model.max_tokens must be positive")
	}
	switch c.Log.Format {
	case "", "terminal", "json":
	default:
		return fmt.Errorf("log.format: unsupported format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) cacheEnabled() bool {
	return (c.Tools.Cache || c.Store.Kind == "redis") && c.Tools.CacheTTL > 0
}

// usesRedis reports whether any component needs the Redis connection.
func (c *Config) usesRedis() bool {
	return c.Store.Kind == "redis" || c.Stream.Pulse || c.cacheEnabled()
}

func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tripgraph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tripgraph")
	}
	return filepath.Join(home, ".config", "tripgraph")
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tripgraph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tripgraph")
	}
	return filepath.Join(home, ".local", "share", "tripgraph")
}
