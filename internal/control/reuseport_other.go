//go:build !linux && !darwin

package control

import "syscall"

// reusePortControl is a no-op on platforms without SO_REUSEPORT
// support; the listener still binds normally.
func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
