//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package udp

import "syscall"

func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
