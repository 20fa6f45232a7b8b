package netstack

import (
	"context"
	"net"
	"syscall"
	"time"
)

// DialTCPNetwork dials on the given network ("tcp", "tcp4", "tcp6") from
// localAddr (may be "") to addr, running ctrl against the raw socket before
// connect so callers can set IP_TOS/SO_REUSEADDR ahead of the handshake.
func DialTCPNetwork(network, localAddr, addr string, timeout time.Duration, ctrl func(fd uintptr) error) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	if localAddr != "" {
		la, err := net.ResolveTCPAddr(network, localAddr)
		if err != nil {
			return nil, err
		}
		d.LocalAddr = la
	}
	if ctrl != nil {
		d.Control = func(_, _ string, c syscall.RawConn) error {
			return controlFD(c, ctrl)
		}
	}
	return d.DialContext(context.Background(), network, addr)
}

// ListenTCPNetwork listens on the given network ("tcp", "tcp4", "tcp6") and
// address, running ctrl against the raw socket before bind/listen so callers
// can set SO_REUSEADDR/IPV6_V6ONLY.
func ListenTCPNetwork(network, addr string, ctrl func(fd uintptr) error) (net.Listener, error) {
	lc := net.ListenConfig{}
	if ctrl != nil {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			return controlFD(c, ctrl)
		}
	}
	return lc.Listen(context.Background(), network, addr)
}
