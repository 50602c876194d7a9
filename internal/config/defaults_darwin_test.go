//go:build darwin

package config

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultsBackend(t *testing.T) {
	store := map[string]string{}
	var calls []string
	b := &defaultsBackend{domain: "test.domain", run: func(args ...string) (string, error) {
		calls = append(calls, strings.Join(args, " "))
		switch args[0] {
		case "read":
			if v, ok := store[args[2]]; ok {
				return v, nil
			}
			return "", errors.New("boom")
		case "write":
			store[args[2]] = args[4]
		case "delete":
			delete(store, args[2])
		}
		return "", nil
	}}

	if err := setKey(b, "server.port", "4242"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if calls[0] != "write test.domain server.port -string 4242" {
		t.Errorf("write call = %q", calls[0])
	}
	raw, ok, err := b.Lookup("server.port")
	if err != nil || !ok || raw != "4242" {
		t.Errorf("Lookup = %q, %v, %v", raw, ok, err)
	}

	// Errors other than a missing key are reported.
	if _, _, err := b.Lookup("log.level"); err == nil {
		t.Error("expected error from failing defaults read")
	}
}
