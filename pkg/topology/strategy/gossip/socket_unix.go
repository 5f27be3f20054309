//go:build !windows

package gossip

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrAndPort sets SO_REUSEADDR (all unixes) and SO_REUSEPORT
// (BSD/Darwin, harmless best-effort elsewhere) on the listening socket so
// multiple topology workers - or a restarted worker racing its
// predecessor's TIME_WAIT socket - can bind the same gossip port.
func reuseAddrAndPort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// setBroadcast enables SO_BROADCAST, required to send to the limited
// broadcast address when broadcast_only is configured.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
