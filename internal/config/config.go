package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Auth     AuthConfig
	Webhook  WebhookConfig
	Workflow WorkflowConfig
	Agent    AgentConfig
	Site     SiteConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AuthConfig struct {
	APIToken string
}

type WebhookConfig struct {
	SigningSecret string
	// Tolerance is the maximum age of a signed webhook, in seconds.
	// Zero falls back to the webhook package default.
	Tolerance int
}

type WorkflowConfig struct {
	ProvisionURL string
	// AgentURLs maps an agent type to its workflow webhook.
	AgentURLs map[string]string
}

type AgentConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type SiteConfig struct {
	URL string
}

// AgentTypes are the agent gateway routes with a configurable workflow URL.
var AgentTypes = []string{"homepage", "sales", "service", "integrated"}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Webhook: WebhookConfig{Tolerance: 300},
		Workflow: WorkflowConfig{
			AgentURLs: make(map[string]string, len(AgentTypes)),
		},
		Agent: AgentConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Site: SiteConfig{URL: "http://localhost:4000"},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/agentdesk/config.json, a .env file in the working
// directory and AGENTDESK_* environment variables, later sources winning.
// Variables already present in the environment are never replaced by .env.
// Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v. Ignoring it.\n", dotenv, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: log.level %q (want debug, info, warn or error)", c.Log.Level)
	}
	if c.Webhook.Tolerance < 0 {
		return fmt.Errorf("invalid config: webhook.tolerance must not be negative")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "agentdesk-data"
		}
	}
	return filepath.Join(dir, "agentdesk")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "agentdesk", "config.json")
}
