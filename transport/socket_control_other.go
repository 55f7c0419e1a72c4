//go:build !unix

package transport

import "syscall"

// reuseAddrControl is a no-op where the unix socket options are unavailable.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
