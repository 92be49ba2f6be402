//go:build linux

package vault

import (
	"os"
	"strings"
)

// readPlatformMachineID reads the D-Bus machine id, the platform-standard
// location on Linux systems, falling back to the legacy path some minimal
// distributions ship instead.
func readPlatformMachineID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(b))
		if id != "" {
			return id, nil
		}
	}
	return "", os.ErrNotExist
}
