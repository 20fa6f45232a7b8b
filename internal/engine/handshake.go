package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/Masterminds/semver/v3"
)

// Protocol handshake, modeled on iperf's connection cookie exchange:
// framing, not authentication, so it stays in scope despite the
// authenticated-peers non-goal. TCP only; UDP's first datagram is the
// start signal.

const (
	handshakeMagic = "NPLS"
	handshakeLen   = 12 // 4 magic + 4 version + 4 flags
)

// engineVersion is the wire-protocol version this build speaks.
var engineVersion = mustVersion("1.0.0")

func mustVersion(v string) *semver.Version {
	sv, err := semver.NewVersion(v)
	if err != nil {
		panic(err)
	}
	return sv
}

func encodeHandshake(v *semver.Version, flags uint32) []byte {
	buf := make([]byte, handshakeLen)
	copy(buf[0:4], handshakeMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(v.Major())<<16|uint32(v.Minor())<<8|uint32(v.Patch()))
	binary.BigEndian.PutUint32(buf[8:12], flags)
	return buf
}

func decodeHandshake(buf []byte) (*semver.Version, uint32, error) {
	if len(buf) != handshakeLen || string(buf[0:4]) != handshakeMagic {
		return nil, 0, fmt.Errorf("handshake: bad magic")
	}
	packed := binary.BigEndian.Uint32(buf[4:8])
	v, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", packed>>16&0xff, packed>>8&0xff, packed&0xff))
	if err != nil {
		return nil, 0, fmt.Errorf("handshake: bad version: %w", err)
	}
	flags := binary.BigEndian.Uint32(buf[8:12])
	return v, flags, nil
}

func writeHandshake(conn net.Conn, flags uint32) error {
	_, err := conn.Write(encodeHandshake(engineVersion, flags))
	return err
}

func readHandshake(conn net.Conn) (*semver.Version, uint32, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, 0, err
	}
	return decodeHandshake(buf)
}

// compatibleVersion reports whether v is wire-compatible with this build:
// same major, minor >= ours is accepted, any patch.
func compatibleVersion(v *semver.Version) bool {
	c, err := semver.NewConstraint(fmt.Sprintf("^%d.%d", engineVersion.Major(), engineVersion.Minor()))
	if err != nil {
		return false
	}
	return c.Check(v)
}

// performClientHandshake writes this build's header and blocks for the
// server's reply, failing if the server's version is incompatible.
func performClientHandshake(conn net.Conn) error {
	if err := writeHandshake(conn, 0); err != nil {
		return err
	}
	v, _, err := readHandshake(conn)
	if err != nil {
		return err
	}
	if !compatibleVersion(v) {
		return fmt.Errorf("handshake: incompatible peer version %s", v)
	}
	return nil
}

// performServerHandshake reads the client's header, rejects incompatible
// versions, and echoes its own header back.
func performServerHandshake(conn net.Conn) error {
	v, _, err := readHandshake(conn)
	if err != nil {
		return err
	}
	if !compatibleVersion(v) {
		return fmt.Errorf("handshake: incompatible peer version %s", v)
	}
	return writeHandshake(conn, 0)
}
