//go:build linux || darwin

package buffer

import "golang.org/x/sys/unix"

// lockMemory page-locks region against swapping (§4.1, §12.7).
func lockMemory(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	return unix.Mlock(region)
}

// unlockMemory releases a previously locked region.
func unlockMemory(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	return unix.Munlock(region)
}
