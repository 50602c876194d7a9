//go:build darwin

package config

import "os/exec"

// keychainExec reads a generic password item from the login keychain.
// A missing item surfaces as a non-nil error, which callers treat as unset.
func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-w", "-s", service, "-a", account).Output()
}
