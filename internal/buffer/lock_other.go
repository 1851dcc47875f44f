//go:build !linux && !darwin

package buffer

import "errors"

// errUnsupported is returned on platforms without a page-lock syscall
// wired up; the allocator treats this the same as a host refusal.
var errUnsupported = errors.New("page-locking not supported on this platform")

func lockMemory(_ []byte) error {
	return errUnsupported
}

func unlockMemory(_ []byte) error {
	return nil
}
