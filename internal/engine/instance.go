package engine

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Role distinguishes a client (sends) instance from a server (receives) one.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Proto selects the transport protocol.
type Proto int

const (
	ProtoTCP Proto = iota
	ProtoUDP
)

func (p Proto) String() string {
	if p == ProtoUDP {
		return "udp"
	}
	return "tcp"
}

// OutputFormat selects the unit the report sink renders bandwidth in.
type OutputFormat int

const (
	FormatBytesPerSec OutputFormat = iota
	FormatKBytesPerSec
	FormatMBytesPerSec
	FormatKbitsPerSec
	FormatMbitsPerSec
)

// Default buffer sizes and ports.
const (
	DefaultTCPBufferLen  = 16384
	DefaultUDPv4TxLen    = 1470
	DefaultUDPv6TxLen    = 1450
	DefaultUDPRxLen      = 16384
	DefaultPort          = 5001
	DefaultIntervalSecs  = 3
	DefaultTimeSecs      = 30
	acceptTimeout        = 5 * time.Second
	defaultTCPRxTimeout  = 3 * time.Second
	defaultTCPTxTimeout  = 3 * time.Second
	deletionWaitBudget   = 1500 * time.Millisecond
	unthrottledBandwidth = -1
)

// Config is the user-supplied instance configuration consumed by
// Engine.StartInstance.
type Config struct {
	RequestedID int // 0 = auto-assign; a positive value requests that exact id.

	Role  Role
	Proto Proto

	Destination net.IP // peer address (client: where to send; server: informational)
	Source      net.IP // local bind address; nil = wildcard
	DestPort    int    // peer port, used as given (0 is not replaced by DefaultPort); server listens on Source:SourcePort
	SourcePort  int    // 0 = ephemeral for both roles (a server then listens on an OS-chosen port)

	IntervalSecs int // report cadence; must be <= TimeSecs
	TimeSecs     int // total run duration; 0 means "no deadline, forced-stop only"

	BandwidthLimitBps int64 // -1 = unthrottled
	BufferLen         int   // 0 = role/proto default
	TOS               uint8
	OutputFormat      OutputFormat

	StateCallback func(id int, state State)
	ReportSink    ReportSink

	Logger *log.Logger // nil = engine's default logger
}

// snapshot is the atomic (bytes, seconds) pair the tick callback produces
// and the report worker consumes. Packed into one int64 so the pair is
// always read/written together.
type snapshot struct {
	bits atomic.Int64
}

// packedSnapshot packs (bytesLow32, secondsLow32) into one int64. Bytes and
// seconds are each capped to 32 bits for the pack; a single report period
// realistically never carries more than 4 billion bytes or seconds, and the
// traffic_report's cumulative counters are kept in separate full-width
// fields (see TrafficReport) unaffected by this packing.
func packedSnapshot(bytes, seconds uint32) int64 {
	return int64(bytes)<<32 | int64(seconds)
}

func unpackSnapshot(v int64) (bytes, seconds uint32) {
	return uint32(v >> 32), uint32(v)
}

// exchange atomically swaps in (bytes, seconds) and returns the previous pair.
func (s *snapshot) exchange(bytes, seconds uint32) (prevBytes, prevSeconds uint32) {
	old := s.bits.Swap(packedSnapshot(bytes, seconds))
	return unpackSnapshot(old)
}

func (s *snapshot) load() (bytes, seconds uint32) {
	return unpackSnapshot(s.bits.Load())
}

// consume atomically exchanges the snapshot with zero, returning
// what was there. A zero result (seconds == 0) means "nothing to report".
func (s *snapshot) consume() (bytes, seconds uint32) {
	old := s.bits.Swap(0)
	return unpackSnapshot(old)
}

// TrafficReport is the cumulative, per-instance counter set copied out by
// GetTrafficReport. Carries only raw bytes/seconds; unit formatting is the
// ReportSink's job.
type TrafficReport struct {
	PeriodStartSecs int
	EndSecs         int
	PeriodBytes     uint64
	TotalBytes      uint64
	OutputFormat    OutputFormat
}

// State is the lifecycle stage delivered to the state callback.
type State int

const (
	StateStarted State = iota
	StateRunning
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "STARTED"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// instance is one running measurement session: one socket, one direction,
// one peer. Exactly one traffic/report goroutine pair drives it.
type instance struct {
	id     int
	cfg    Config
	logger *log.Logger

	conn       net.Conn   // TCP data connection, or connected/unconnected UDP socket
	listener   net.Listener // TCP server only; closed on accept failure or timeout, otherwise by closeSocket
	targetAddr net.Addr   // learned peer (TCP: on accept; UDP server: first recvfrom)
	bufferLen  int

	periodCounter atomic.Uint64 // producer: traffic loop; consumer: tick callback (exchange)
	snap          snapshot

	report   TrafficReport
	reportMu sync.Mutex // guards `report`; only the report worker writes, GetTrafficReport reads

	ticksSinceStart  atomic.Int64
	ticksSinceReport atomic.Int64

	isRunning atomic.Bool
	started   atomic.Bool // STARTED has been emitted

	// handshakeFailed records a TCP client whose peer rejected or never
	// answered the protocol handshake: the client's setup still succeeds,
	// but the traffic loop refuses to send and the instance falls straight
	// through to STOPPED/CLOSED without STARTED.
	handshakeFailed atomic.Bool

	tickSignal chan struct{} // buffered(1); tick callback -> report worker, also the forced-stop wake
	txSignal   chan struct{} // buffered(1); tx callback -> traffic worker, also the forced-stop wake

	clock    Clock
	tickStop func()
	txStop   func()
	tickQuit chan struct{} // closed by stopTimers to unblock the tick goroutine
	txQuit   chan struct{} // closed by stopTimers to unblock the tx goroutine

	sink ReportSink

	stateCB func(id int, state State)

	seq atomic.Uint32 // UDP client: next outgoing sequence number

	reportDone chan struct{} // closed when the report worker returns
	unregister func()        // removes this instance from its owning registry
}

func newInstance(id int, cfg Config, clock Clock, sink ReportSink, logger *log.Logger) *instance {
	inst := &instance{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		bufferLen:  resolveBufferLen(cfg),
		tickSignal: make(chan struct{}, 1),
		txSignal:   make(chan struct{}, 1),
		clock:      clock,
		sink:       sink,
		stateCB:    cfg.StateCallback,
		reportDone: make(chan struct{}),
	}
	inst.isRunning.Store(true)
	inst.report.OutputFormat = cfg.OutputFormat
	return inst
}

func resolveBufferLen(cfg Config) int {
	if cfg.BufferLen > 0 {
		if cfg.Proto == ProtoUDP && cfg.Role == RoleServer {
			// UDP server ignores override; fixed RX buffer size.
			return DefaultUDPRxLen
		}
		return cfg.BufferLen
	}
	switch {
	case cfg.Proto == ProtoTCP:
		return DefaultTCPBufferLen
	case cfg.Proto == ProtoUDP && cfg.Role == RoleServer:
		return DefaultUDPRxLen
	case cfg.Destination != nil && cfg.Destination.To4() == nil:
		return DefaultUDPv6TxLen
	default:
		return DefaultUDPv4TxLen
	}
}

// emitState delivers a lifecycle callback if one was registered; never
// blocks the caller beyond the callback's own execution. Timer callbacks
// must never block, so the state callback itself runs on the traffic or
// report worker (or on StartInstance's caller for a setup failure's
// CLOSED), never on a timer goroutine.
func (inst *instance) emitState(state State) {
	if inst.stateCB != nil {
		inst.stateCB(inst.id, state)
	}
}

func (inst *instance) signalTick() {
	select {
	case inst.tickSignal <- struct{}{}:
	default:
	}
}

func (inst *instance) signalTx() {
	select {
	case inst.txSignal <- struct{}{}:
	default:
	}
}
