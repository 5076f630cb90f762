package config

import "fmt"

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll lists every key with its current value. Secret values are
// reported only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		v := s.extract(cfg)
		switch {
		case !s.secret:
			info.Value = fmt.Sprintf("%v", v)
		case v != "":
			info.Value = "(set)"
		default:
			info.Value = "(unset)"
		}
		result = append(result, info)
	}
	return result
}

// SetKey persists a non-secret key to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes a key from the config file, restoring its default.
func UnsetKey(key string) error {
	if _, ok := lookupSpec(key); !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	return newFileBackend(configFilePath()).Remove(key)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	v, err := s.coerce(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.Store(key, v)
}

// ValidKeys returns the keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
