package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/netpulse/netpulse/internal/runtime/netstack"
)

// runTraffic is the hot path: one goroutine per instance, sending for a
// client, receiving for a server. It owns the instance's single data buffer
// for its whole lifetime.
func (inst *instance) runTraffic() {
	buf := make([]byte, inst.bufferLen)
	if inst.cfg.Role == RoleClient {
		// A client's pacing (and deadline) timer runs from the first wake,
		// not from first send: only the server side defers timer arming
		// until its first datagram/segment arrives.
		inst.startTickTimer()
		inst.startTxTimer()
		inst.runClientLoop(buf)
	} else {
		inst.runServerLoop(buf)
	}
}

func (inst *instance) runClientLoop(buf []byte) {
	if inst.handshakeFailed.Load() {
		inst.isRunning.Store(false)
		return
	}
	paced := inst.cfg.BandwidthLimitBps > 0
	for inst.isRunning.Load() {
		if paced {
			<-inst.txSignal
			if !inst.isRunning.Load() {
				return
			}
		}

		seq := inst.seq.Add(1) - 1
		binary.BigEndian.PutUint32(buf[0:4], seq)

		if inst.cfg.Proto == ProtoTCP {
			_ = inst.conn.SetWriteDeadline(time.Now().Add(defaultTCPTxTimeout))
		}

		n, err := inst.conn.Write(buf)
		if err != nil {
			if inst.cfg.Proto == ProtoUDP && isRetryableSendErr(err) {
				continue // kernel back-pressure, not credited, not fatal
			}
			if !inst.isRunning.Load() {
				return
			}
			inst.fatalf("send: %v", err)
			return
		}

		inst.periodCounter.Add(uint64(n))
		inst.onFirstActivity()
	}
}

func (inst *instance) runServerLoop(buf []byte) {
	for inst.isRunning.Load() {
		n, addr, err := inst.recvOnce(buf)
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			if !inst.isRunning.Load() {
				return
			}
			inst.fatalf("recv: %v", err)
			return
		}
		if inst.targetAddr == nil {
			inst.targetAddr = addr
		}
		inst.periodCounter.Add(uint64(n))
		inst.onFirstActivity()
	}
}

// recvOnce reads one message, refreshing the read deadline each call so a
// forced stop's socket close is what actually unblocks a hung peer rather
// than a single stale deadline.
func (inst *instance) recvOnce(buf []byte) (int, net.Addr, error) {
	_ = inst.conn.SetReadDeadline(time.Now().Add(defaultTCPRxTimeout))
	if ep, ok := inst.conn.(*netstack.UDPEndpoint); ok {
		n, addr, err := ep.ReadFrom(buf)
		return n, addr, err
	}
	n, err := inst.conn.Read(buf)
	return n, inst.conn.RemoteAddr(), err
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isRetryableSendErr reports the UDP client's ENOMEM/ENOBUFS tolerance:
// kernel buffer back-pressure, not a transport failure.
func isRetryableSendErr(err error) bool {
	return errors.Is(err, syscall.ENOBUFS) || errors.Is(err, syscall.ENOMEM)
}

// onFirstActivity emits STARTED exactly once: after the first successful
// send (client) or the first received datagram/segment (server). The
// server additionally arms its tick timer here, since its timer must not
// run before traffic has actually started.
func (inst *instance) onFirstActivity() {
	if !inst.started.CompareAndSwap(false, true) {
		return
	}
	if inst.cfg.Role == RoleServer {
		inst.startTickTimer()
	}
	inst.emitState(StateStarted)
}

// fatalf records an unrecoverable traffic-loop error as an EngineError (so
// it carries the same category/code/context shape as setup-time failures)
// and stops the instance.
func (inst *instance) fatalf(format string, args ...any) {
	inst.isRunning.Store(false)
	err := errFatal(inst.id, fmt.Sprintf(format, args...))
	if inst.logger != nil {
		inst.logger.Printf("instance %d: %s", inst.id, err.Error())
	}
}
