package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "ATOPYPASS"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "atopypass.db"
	defaultLogLevel      = "info"
	defaultRPCEndpoint   = "https://api.devnet.solana.com"
	defaultRPCCommitment = "confirmed"
	defaultAIBaseURL     = "https://api.openai.com/v1"
	defaultAIModel       = "gpt-4o-mini"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	RPCEndpoint   string
	RPCCommitment string
	AIBaseURL     string
	AIAPIKey      string
	AIModel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("ledger.rpc_url", defaultRPCEndpoint)
	configViper.SetDefault("ledger.commitment", defaultRPCCommitment)
	configViper.SetDefault("ai.base_url", defaultAIBaseURL)
	configViper.SetDefault("ai.model", defaultAIModel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		RPCEndpoint:   configViper.GetString("ledger.rpc_url"),
		RPCCommitment: configViper.GetString("ledger.commitment"),
		AIBaseURL:     configViper.GetString("ai.base_url"),
		AIAPIKey:      configViper.GetString("ai.api_key"),
		AIModel:       configViper.GetString("ai.model"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RPCEndpoint) == "" {
		return fmt.Errorf("ledger.rpc_url is required")
	}
	if strings.TrimSpace(c.RPCCommitment) == "" {
		return fmt.Errorf("ledger.commitment is required")
	}
	if strings.TrimSpace(c.AIAPIKey) != "" && strings.TrimSpace(c.AIBaseURL) == "" {
		return fmt.Errorf("ai.base_url is required when ai.api_key is set")
	}
	return nil
}
