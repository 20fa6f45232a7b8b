package netstack

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// syscallRawConn is the callback shape net.ListenConfig.Control and
// net.Dialer.Control both use; aliased so tcp.go/udp.go share one signature.
type syscallRawConn = syscall.RawConn

// controlFD runs fn against the raw file descriptor backing c, surfacing both
// the Control-invocation error and fn's own error.
func controlFD(c syscallRawConn, fn func(fd uintptr) error) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = fn(fd)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// SetReuseAddr sets SO_REUSEADDR on fd. Safe to call pre-bind only.
func SetReuseAddr(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// SetV6Only sets IPV6_V6ONLY on fd so a "[::]"-bound socket does not also
// accept IPv4-mapped connections, matching the socket matrix's per-family
// isolation requirement.
func SetV6Only(fd uintptr, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v)
}

// ChainControl composes zero or more fd-level setup functions into one
// net.Dialer/net.ListenConfig Control callback, running them in order and
// stopping at the first error.
func ChainControl(fns ...func(fd uintptr) error) func(fd uintptr) error {
	return func(fd uintptr) error {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(fd); err != nil {
				return err
			}
		}
		return nil
	}
}
