//go:build windows

package gossip

import (
	"net"
	"syscall"
)

// reuseAddrAndPort is a no-op on Windows: SO_REUSEPORT has no equivalent
// and net.ListenConfig already sets SO_REUSEADDR-equivalent behavior via
// SO_EXCLUSIVEADDRUSE defaults.
func reuseAddrAndPort(network, address string, c syscall.RawConn) error {
	return nil
}

func setBroadcast(conn *net.UDPConn) error {
	return nil
}
