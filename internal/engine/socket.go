package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/netpulse/netpulse/internal/runtime/netstack"
)

// setupSocket implements the {TCP,UDP}x{client,server}x{v4,v6} matrix,
// populating inst.conn/inst.listener/inst.targetAddr (or returning an
// EngineError) and applying TOS/REUSEADDR/timeouts.
func setupSocket(inst *instance) error {
	switch {
	case inst.cfg.Proto == ProtoTCP && inst.cfg.Role == RoleServer:
		return setupTCPServer(inst)
	case inst.cfg.Proto == ProtoTCP && inst.cfg.Role == RoleClient:
		return setupTCPClient(inst)
	case inst.cfg.Proto == ProtoUDP && inst.cfg.Role == RoleServer:
		return setupUDPServer(inst)
	default:
		return setupUDPClient(inst)
	}
}

func ipNetwork(base string, ip net.IP) string {
	if ip != nil && ip.To4() == nil {
		return base + "6"
	}
	return base + "4"
}

func hostPort(ip net.IP, port int) string {
	host := "0.0.0.0"
	if ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

func setupTCPServer(inst *instance) error {
	network := ipNetwork("tcp", inst.cfg.Source)
	ctrl := netstack.ChainControl(netstack.SetReuseAddr, v6OnlyFor(network))
	ln, err := netstack.ListenTCPNetwork(network, hostPort(inst.cfg.Source, inst.cfg.SourcePort), ctrl)
	if err != nil {
		return errSocket(CategorySocketBind, "BIND", err)
	}
	inst.listener = ln

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan acceptResult, 1)
	go func() {
		c, err := ln.Accept()
		resCh <- acceptResult{c, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			_ = ln.Close()
			return errSocket(CategorySocketAccept, "ACCEPT", r.err)
		}
		inst.conn = r.conn
		inst.targetAddr = r.conn.RemoteAddr()
	case <-time.After(acceptTimeout):
		_ = ln.Close()
		return errSocket(CategoryTimeout, "ACCEPT", context.DeadlineExceeded)
	}

	if err := applyRxTimeout(inst); err != nil && inst.logger != nil {
		inst.logger.Printf("instance %d: set RCVTIMEO failed: %v", inst.id, err)
	}
	applyTOS(inst, inst.conn)

	if err := performServerHandshake(inst.conn); err != nil {
		closeSocket(inst)
		return errSocket(CategorySocketConnect, "HANDSHAKE", err)
	}
	return nil
}

func setupTCPClient(inst *instance) error {
	network := ipNetwork("tcp", inst.cfg.Destination)
	local := ""
	if inst.cfg.Source != nil || inst.cfg.SourcePort != 0 {
		local = hostPort(inst.cfg.Source, inst.cfg.SourcePort)
	}
	dest := hostPort(inst.cfg.Destination, inst.cfg.DestPort)
	conn, err := netstack.DialTCPNetwork(network, local, dest, defaultTCPTxTimeout, netstack.SetReuseAddr)
	if err != nil {
		return errSocket(CategorySocketConnect, "CONNECT", err)
	}
	inst.conn = conn
	inst.targetAddr = conn.RemoteAddr()
	if err := applyTxTimeout(inst); err != nil && inst.logger != nil {
		inst.logger.Printf("instance %d: set SNDTIMEO failed: %v", inst.id, err)
	}
	applyTOS(inst, conn)

	// A handshake mismatch does not fail client setup: the connection is
	// real, just to an incompatible peer. The traffic loop notices and
	// fails fast instead.
	if err := performClientHandshake(conn); err != nil {
		inst.handshakeFailed.Store(true)
		if inst.logger != nil {
			inst.logger.Printf("instance %d: handshake: %v", inst.id, err)
		}
	}
	return nil
}

func setupUDPServer(inst *instance) error {
	network := ipNetwork("udp", inst.cfg.Source)
	ctrl := netstack.ChainControl(netstack.SetReuseAddr, v6OnlyFor(network))
	ep, err := netstack.ListenUDPNetwork(network, hostPort(inst.cfg.Source, inst.cfg.SourcePort), ctrl)
	if err != nil {
		return errSocket(CategorySocketBind, "BIND", err)
	}
	inst.conn = ep
	applyTOS(inst, ep.Conn())
	if err := applyRxTimeout(inst); err != nil && inst.logger != nil {
		inst.logger.Printf("instance %d: set RCVTIMEO failed: %v", inst.id, err)
	}
	return nil
}

func setupUDPClient(inst *instance) error {
	network := ipNetwork("udp", inst.cfg.Destination)
	local := ""
	if inst.cfg.Source != nil || inst.cfg.SourcePort != 0 {
		local = hostPort(inst.cfg.Source, inst.cfg.SourcePort)
	}
	dest := hostPort(inst.cfg.Destination, inst.cfg.DestPort)
	ep, err := netstack.DialUDPNetwork(network, local, dest, netstack.SetReuseAddr)
	if err != nil {
		return errSocket(CategorySocketConnect, "CONNECT", err)
	}
	inst.conn = ep
	inst.targetAddr = ep.Conn().RemoteAddr()
	applyTOS(inst, ep.Conn())
	return nil
}

func v6OnlyFor(network string) func(fd uintptr) error {
	if network == "tcp6" || network == "udp6" {
		return func(fd uintptr) error { return netstack.SetV6Only(fd, true) }
	}
	return nil
}

// applyTOS sets IP_TOS (v4) or the IPv6 traffic class via golang.org/x/net,
// which works uniformly across any net.Conn backed by a syscall.Conn.
func applyTOS(inst *instance, conn net.Conn) {
	if inst.cfg.TOS == 0 || conn == nil {
		return
	}
	if isV6Addr(conn.LocalAddr()) {
		_ = ipv6.NewConn(conn).SetTrafficClass(int(inst.cfg.TOS))
	} else {
		_ = ipv4.NewConn(conn).SetTOS(int(inst.cfg.TOS))
	}
}

func isV6Addr(a net.Addr) bool {
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}

func applyRxTimeout(inst *instance) error {
	return inst.conn.SetReadDeadline(time.Now().Add(defaultTCPRxTimeout))
}

func applyTxTimeout(inst *instance) error {
	return inst.conn.SetWriteDeadline(time.Now().Add(defaultTCPTxTimeout))
}

func closeSocket(inst *instance) {
	if inst.conn != nil {
		_ = inst.conn.Close()
	}
	if inst.listener != nil {
		_ = inst.listener.Close()
	}
}
