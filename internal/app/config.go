package app

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	GlobalConfig struct {
		Env               string `yaml:"env"`
		LogLevel          string `yaml:"log_level"`
		LogPath           string `yaml:"log_path"`
		Port              int    `yaml:"port"`
		UseHTTPS          bool   `yaml:"use_https"`
		CertFile          string `yaml:"cert_file"`
		KeyFile           string `yaml:"key_file"`
		ShutdownTimeout   int    `yaml:"shutdown_timeout"`
		EncryptionKey     string `yaml:"encryption_key"`
		RateLimitRequests int    `yaml:"rate_limit_requests"`
		RateLimitBurst    int    `yaml:"rate_limit_burst"`
	} `yaml:"global_config"`
	Neo4j        types.GraphConnection `yaml:"neo4j"`
	QueryLogging types.QueryLogOptions `yaml:"query_logging"`
	BasicAuth    struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"basic_auth"`
}

// IsDevelopment reports whether the config was loaded for the development environment.
func (c Config) IsDevelopment() bool {
	return c.GlobalConfig.Env == "development"
}

func defaultConfig() Config {
	var config Config
	config.GlobalConfig.Port = 8080
	config.GlobalConfig.LogLevel = "INFO"
	config.GlobalConfig.LogPath = "logs"
	config.Neo4j.MaxRetries = db.DefaultMaxRetries
	config.Neo4j.BackoffBaseMS = int(db.DefaultBackoffBase.Milliseconds())
	config.Neo4j.AttemptTimeout = int(db.DefaultAttemptTimeout.Seconds())
	config.Neo4j.MaxInvocationTime = 120
	config.Neo4j.Database = "neo4j"
	return config
}

// LoadConfig reads the YAML config at filename. ${VAR} references are expanded
// from the environment (and a .env file, when present) and NEO4J_* variables
// override the neo4j section.
func LoadConfig(filename string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	config := defaultConfig()
	data, err := os.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("reading file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return config, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	applyEnvOverrides(&config)

	if config.Neo4j.MaxRetries < 0 {
		return config, fmt.Errorf("neo4j.max_retries cannot be negative")
	}
	if config.Neo4j.BackoffBaseMS <= 0 {
		return config, fmt.Errorf("neo4j.backoff_base_ms must be positive")
	}
	if config.Neo4j.AttemptTimeout < 0 || config.Neo4j.MaxInvocationTime < 0 {
		return config, fmt.Errorf("neo4j timeouts cannot be negative")
	}

	env := config.GlobalConfig.Env
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "production"
		logrus.Warn("Environment not specified in config or ENV; defaulting to production")
	}
	config.GlobalConfig.Env = env
	isDev := config.IsDevelopment()

	if config.GlobalConfig.EncryptionKey != "" {
		key := []byte(config.GlobalConfig.EncryptionKey)
		if config.Neo4j.Password != "" {
			if !isEncrypted(config.Neo4j.Password) && !isDev {
				return config, fmt.Errorf("neo4j.password must be encrypted in production")
			}
			if decrypted, err := utils.Decrypt(key, config.Neo4j.Password); err == nil {
				config.Neo4j.Password = decrypted
			} else if !isDev {
				return config, fmt.Errorf("failed to decrypt neo4j.password: %w", err)
			}
		}
		if config.BasicAuth.Password != "" {
			if !isEncrypted(config.BasicAuth.Password) && !isDev {
				return config, fmt.Errorf("basic_auth.password must be encrypted in production")
			}
			if decrypted, err := utils.Decrypt(key, config.BasicAuth.Password); err == nil {
				config.BasicAuth.Password = decrypted
			} else if !isDev {
				return config, fmt.Errorf("failed to decrypt basic_auth.password: %w", err)
			}
		}
	} else if !isDev {
		return config, fmt.Errorf("encryption_key must be set in production")
	}

	if config.GlobalConfig.ShutdownTimeout == 0 {
		config.GlobalConfig.ShutdownTimeout = 30
	}
	if config.GlobalConfig.RateLimitRequests == 0 {
		config.GlobalConfig.RateLimitRequests = 100
	}
	if config.GlobalConfig.RateLimitBurst == 0 {
		config.GlobalConfig.RateLimitBurst = 50
	}
	return config, nil
}

func applyEnvOverrides(config *Config) {
	overrides := map[string]*string{
		"NEO4J_URI":      &config.Neo4j.URI,
		"NEO4J_USERNAME": &config.Neo4j.Username,
		"NEO4J_PASSWORD": &config.Neo4j.Password,
		"NEO4J_DATABASE": &config.Neo4j.Database,
	}
	for name, field := range overrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}
}

func isEncrypted(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil && len(s) > 32
}
