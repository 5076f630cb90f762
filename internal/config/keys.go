package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = append([]keySpec{
	{
		key: "server.port", typ: kInt, env: "AGENTDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AGENTDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "AGENTDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "auth.api_token", typ: kString, env: "AGENTDESK_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.APIToken },
	},
	{
		key: "webhook.signing_secret", typ: kString, env: "AGENTDESK_WEBHOOK_SIGNING_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Webhook.SigningSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Webhook.SigningSecret },
	},
	{
		key: "webhook.tolerance", typ: kInt, env: "AGENTDESK_WEBHOOK_TOLERANCE",
		apply:   func(cfg *Config, v any) { cfg.Webhook.Tolerance = v.(int) },
		extract: func(cfg Config) any { return cfg.Webhook.Tolerance },
	},
	{
		key: "workflow.provision_url", typ: kString, env: "AGENTDESK_WORKFLOW_PROVISION_URL",
		apply:   func(cfg *Config, v any) { cfg.Workflow.ProvisionURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Workflow.ProvisionURL },
	},
	{
		key: "agent.base_url", typ: kString, env: "AGENTDESK_AGENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Agent.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.BaseURL },
	},
	{
		key: "agent.api_key", typ: kString, env: "AGENTDESK_AGENT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Agent.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.APIKey },
	},
	{
		key: "agent.model", typ: kString, env: "AGENTDESK_AGENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Agent.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Model },
	},
	{
		key: "site.url", typ: kString, env: "AGENTDESK_SITE_URL",
		apply:   func(cfg *Config, v any) { cfg.Site.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Site.URL },
	},
}, agentURLSpecs()...)

// agentURLSpecs adds one workflow.agent_urls.<type> key per agent type.
func agentURLSpecs() []keySpec {
	out := make([]keySpec, 0, len(AgentTypes))
	for _, typ := range AgentTypes {
		out = append(out, keySpec{
			key: "workflow.agent_urls." + typ,
			typ: kString,
			env: "AGENTDESK_WORKFLOW_" + strings.ToUpper(typ) + "_URL",
			apply: func(cfg *Config, v any) {
				if cfg.Workflow.AgentURLs == nil {
					cfg.Workflow.AgentURLs = make(map[string]string)
				}
				cfg.Workflow.AgentURLs[typ] = v.(string)
			},
			extract: func(cfg Config) any { return cfg.Workflow.AgentURLs[typ] },
		})
	}
	return out
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// coerce converts a raw value from the config file or the environment to
// the key's type. JSON numbers arrive as float64.
func (s keySpec) coerce(raw any) (any, error) {
	switch s.typ {
	case kInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%v is not a valid integer", v)
			}
			return int(v), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%q is not a valid integer", v)
			}
			return i, nil
		}
		return nil, fmt.Errorf("unexpected %T for an integer", raw)
	default:
		if v, ok := raw.(string); ok {
			return v, nil
		}
		return fmt.Sprintf("%v", raw), nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok {
			continue
		}
		v, err := s.coerce(raw)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.coerce(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring env var %s: %v. Using default value.\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
