//go:build !linux

package vault

import "os"

// readPlatformMachineID has no portable implementation outside Linux in
// this engine; callers fall back to the persisted UUID.
func readPlatformMachineID() (string, error) {
	return "", os.ErrNotExist
}
