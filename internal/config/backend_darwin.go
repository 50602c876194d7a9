//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.firewatch.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "firewatch-data"
	}
	return filepath.Join(home, "Library", "Application Support", "firewatch")
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain, run: runDefaults}
}

// runDefaults invokes the `defaults` tool and returns its trimmed output.
func runDefaults(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// defaultsBackend stores every key as a string in the user defaults domain.
type defaultsBackend struct {
	domain string
	run    func(args ...string) (string, error)
}

func (b *defaultsBackend) Location() string { return "defaults domain " + b.domain }

func (b *defaultsBackend) Lookup(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err != nil {
		// Exit status 1 is how defaults reports a missing key.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
	}
	return out, true, nil
}

func (b *defaultsBackend) Store(key, raw string) error {
	if out, err := b.run("write", b.domain, key, "-string", raw); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (b *defaultsBackend) Remove(key string) error {
	if _, ok, err := b.Lookup(key); err != nil || !ok {
		return err
	}
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}
