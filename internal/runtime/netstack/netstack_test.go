package netstack

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestDialListenTCPNetwork_ClientServerRoundTrip(t *testing.T) {
	ln, err := ListenTCPNetwork("tcp", "127.0.0.1:0", SetReuseAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	cli, err := DialTCPNetwork("tcp", "", ln.Addr().String(), time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	srv, ok := <-accepted
	if !ok {
		t.Fatal("listener did not accept a connection")
	}
	defer srv.Close()

	if _, err := cli.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(srv, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want %q", buf, "ping")
	}
}

func TestDialTCPNetwork_ConnectRefused(t *testing.T) {
	// Reserve a port, close it, then dial it immediately: nothing is
	// listening, so the dial must fail rather than hang.
	ln, err := ListenTCPNetwork("tcp", "127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := DialTCPNetwork("tcp", "", addr, time.Second, nil); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}

func TestUDP_Roundtrip(t *testing.T) {
	srv, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cli, err := DialUDP(srv.conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	msg := []byte("hi")
	// cli is connected, so Write (not WriteTo) addresses the bound peer.
	n, err := cli.Write(msg)
	if err != nil || n != len(msg) {
		t.Fatalf("write: %v n=%d", err, n)
	}

	buf := make([]byte, 16)
	_ = srv.conn.SetReadDeadline(time.Now().Add(time.Second))
	n, addr, err := srv.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("got %q", string(buf[:n]))
	}

	_, _ = srv.WriteTo([]byte("ok"), addr)
	_ = cli.conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err = cli.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "ok" {
		t.Fatalf("got %q", string(buf[:n]))
	}
}
