//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "firewatch-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "firewatch")
}

func newPlatformBackend() ConfigBackend {
	return openYAMLBackend(configFilePath())
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "firewatch.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "firewatch", "config.yaml")
}

// yamlBackend keeps settings in a YAML file grouped by section:
//
//	server:
//	  port: "4242"
//	cache:
//	  ttl: 20m
type yamlBackend struct {
	path     string
	sections map[string]map[string]string
	loadErr  error
}

func openYAMLBackend(path string) *yamlBackend {
	b := &yamlBackend{path: path, sections: make(map[string]map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b
	}
	if err == nil {
		err = yaml.Unmarshal(data, &b.sections)
	}
	if err != nil {
		b.loadErr = fmt.Errorf("config file %s: %w", path, err)
	}
	return b
}

func splitKey(key string) (section, name string) {
	section, name, found := strings.Cut(key, ".")
	if !found {
		return "", key
	}
	return section, name
}

func (b *yamlBackend) Location() string { return b.path }

func (b *yamlBackend) Lookup(key string) (string, bool, error) {
	if b.loadErr != nil {
		return "", false, b.loadErr
	}
	section, name := splitKey(key)
	v, ok := b.sections[section][name]
	return v, ok, nil
}

func (b *yamlBackend) Store(key, raw string) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	section, name := splitKey(key)
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]string)
	}
	b.sections[section][name] = raw
	return b.save()
}

func (b *yamlBackend) Remove(key string) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	section, name := splitKey(key)
	delete(b.sections[section], name)
	if len(b.sections[section]) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}

func (b *yamlBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	// yaml.v3 sorts map keys, so the file diffs cleanly between writes.
	data, err := yaml.Marshal(b.sections)
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}
