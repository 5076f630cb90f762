package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigBackend is persistent storage for non-secret settings, keyed by
// dotted names such as "server.port".
type ConfigBackend interface {
	Lookup(key string) (val any, ok bool)
	Store(key string, val any) error
	Remove(key string) error
}

// jsonFile keeps settings as one flat JSON object on disk. Every write
// rewrites the whole file.
type jsonFile struct {
	path   string
	values map[string]any
}

func newFileBackend(path string) *jsonFile {
	f := &jsonFile{path: path, values: map[string]any{}}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
	default:
		if err := json.Unmarshal(raw, &f.values); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
			f.values = map[string]any{}
		}
	}
	return f
}

func (f *jsonFile) Lookup(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *jsonFile) Store(key string, val any) error {
	f.values[key] = val
	return f.flush()
}

func (f *jsonFile) Remove(key string) error {
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.flush()
}

func (f *jsonFile) flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, f.path)
}
