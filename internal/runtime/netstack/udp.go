package netstack

import (
	"context"
	"net"
	"time"
)

// UDPEndpoint provides simple UDP send/recv helpers.
type UDPEndpoint struct {
	conn *net.UDPConn
}

// Conn exposes the underlying *net.UDPConn for callers that need socket-option
// access (e.g. TOS, RCVTIMEO) beyond what UDPEndpoint wraps.
func (e *UDPEndpoint) Conn() *net.UDPConn { return e.conn }

func ListenUDP(addr string) (*UDPEndpoint, error) {
	return ListenUDPNetwork("udp", addr, nil)
}

// ListenUDPNetwork binds a UDP listener on the given network ("udp", "udp4",
// "udp6") and address, running ctrl (if non-nil) against the raw socket
// before bind so callers can set SO_REUSEADDR/IPV6_V6ONLY/IP_TOS.
func ListenUDPNetwork(network, addr string, ctrl func(fd uintptr) error) (*UDPEndpoint, error) {
	lc := net.ListenConfig{}
	if ctrl != nil {
		lc.Control = func(_, _ string, c syscallRawConn) error {
			return controlFD(c, ctrl)
		}
	}
	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return &UDPEndpoint{conn: pc.(*net.UDPConn)}, nil
}

func DialUDP(addr string) (*UDPEndpoint, error) {
	return DialUDPNetwork("udp", "", addr, nil)
}

// DialUDPNetwork connects a UDP socket from localAddr (may be "") to addr on
// the given network, running ctrl against the raw socket before connect.
func DialUDPNetwork(network, localAddr, addr string, ctrl func(fd uintptr) error) (*UDPEndpoint, error) {
	d := net.Dialer{}
	if localAddr != "" {
		la, err := net.ResolveUDPAddr(network, localAddr)
		if err != nil {
			return nil, err
		}
		d.LocalAddr = la
	}
	if ctrl != nil {
		d.Control = func(_, _ string, c syscallRawConn) error {
			return controlFD(c, ctrl)
		}
	}
	conn, err := d.DialContext(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return &UDPEndpoint{conn: conn.(*net.UDPConn)}, nil
}

func (e *UDPEndpoint) Close() error { return e.conn.Close() }

// LocalAddr and RemoteAddr let UDPEndpoint satisfy net.Conn so it can be
// handed around anywhere a data connection is expected regardless of
// transport.
func (e *UDPEndpoint) LocalAddr() net.Addr  { return e.conn.LocalAddr() }
func (e *UDPEndpoint) RemoteAddr() net.Addr { return e.conn.RemoteAddr() }

func (e *UDPEndpoint) SetDeadline(t time.Time) error      { return e.conn.SetDeadline(t) }
func (e *UDPEndpoint) SetReadDeadline(t time.Time) error  { return e.conn.SetReadDeadline(t) }
func (e *UDPEndpoint) SetWriteDeadline(t time.Time) error { return e.conn.SetWriteDeadline(t) }

// Read reads from the UDP endpoint. If connected, it reads only from the connected peer.
func (e *UDPEndpoint) Read(b []byte) (int, error) { return e.conn.Read(b) }

// Write writes to the connected peer. Returns an error if the endpoint is not connected.
func (e *UDPEndpoint) Write(b []byte) (int, error) { return e.conn.Write(b) }

func (e *UDPEndpoint) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	n, addr, err := e.conn.ReadFromUDP(b)
	return n, addr, err
}

func (e *UDPEndpoint) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	return e.conn.WriteToUDP(b, addr)
}
