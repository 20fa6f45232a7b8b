package engine

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stateTracker records every state transition delivered for one or more
// instances and lets a test block until a given instance reaches a state.
type stateTracker struct {
	mu     sync.Mutex
	states map[int][]State
	wake   chan struct{}
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[int][]State), wake: make(chan struct{}, 1)}
}

func (st *stateTracker) onState(id int, state State) {
	st.mu.Lock()
	st.states[id] = append(st.states[id], state)
	st.mu.Unlock()
	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (st *stateTracker) has(id int, state State) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.states[id] {
		if s == state {
			return true
		}
	}
	return false
}

func (st *stateTracker) waitFor(t *testing.T, id int, state State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if st.has(id, state) {
			return
		}
		select {
		case <-st.wake:
		case <-deadline:
			t.Fatalf("instance %d never reached %s within %s", id, state, timeout)
		}
	}
}

func TestEngine_UDPLoopback_RoundTrip(t *testing.T) {
	eng := NewEngine()
	tracker := newStateTracker()

	serverDone := make(chan int, 1)
	var serverTotal atomic.Uint64
	serverCfg := Config{
		Role:         RoleServer,
		Proto:        ProtoUDP,
		Source:       net.ParseIP("127.0.0.1"),
		SourcePort:   0,
		IntervalSecs: 1,
		TimeSecs:     2,
		StateCallback: func(id int, s State) {
			tracker.onState(id, s)
			if s == StateRunning {
				if rep, err := eng.GetTrafficReport(id); err == nil {
					serverTotal.Store(rep.TotalBytes)
				}
			}
			if s == StateClosed {
				select {
				case serverDone <- id:
				default:
				}
			}
		},
	}
	// Bind to an ephemeral port by asking the OS, then read it back.
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	_ = probe.Close()
	serverCfg.SourcePort = port

	serverID, err := eng.StartInstance(serverCfg)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	clientCfg := Config{
		Role:         RoleClient,
		Proto:        ProtoUDP,
		Destination:  net.ParseIP("127.0.0.1"),
		DestPort:     port,
		IntervalSecs: 1,
		TimeSecs:     2,
		StateCallback: tracker.onState,
	}
	clientID, err := eng.StartInstance(clientCfg)
	if err != nil {
		t.Fatalf("start client: %v", err)
	}

	tracker.waitFor(t, clientID, StateStarted, 3*time.Second)
	tracker.waitFor(t, serverID, StateStarted, 3*time.Second)

	select {
	case <-serverDone:
	case <-time.After(6 * time.Second):
		t.Fatal("server never reached CLOSED")
	}

	clientReport, err := eng.GetTrafficReport(clientID)
	if err != nil {
		// The client may already be CLOSED and removed; its report is not
		// checked here.
	}
	// The server is removed from the registry before its CLOSED callback
	// fires, so its total is the one read at its last RUNNING callback.
	if serverTotal.Load() == 0 {
		t.Fatal("server total_bytes is zero after a completed run")
	}
	_ = clientReport
}

func TestEngine_TCPLoopback_RoundTrip(t *testing.T) {
	eng := NewEngine()
	tracker := newStateTracker()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	serverCfg := Config{
		Role:          RoleServer,
		Proto:         ProtoTCP,
		Source:        net.ParseIP("127.0.0.1"),
		SourcePort:    port,
		IntervalSecs:  1,
		TimeSecs:      2,
		StateCallback: tracker.onState,
	}
	serverID, err := eng.StartInstance(serverCfg)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	clientCfg := Config{
		Role:          RoleClient,
		Proto:         ProtoTCP,
		Destination:   net.ParseIP("127.0.0.1"),
		DestPort:      port,
		IntervalSecs:  1,
		TimeSecs:      2,
		StateCallback: tracker.onState,
	}
	clientID, err := eng.StartInstance(clientCfg)
	if err != nil {
		t.Fatalf("start client: %v", err)
	}

	tracker.waitFor(t, clientID, StateStarted, 3*time.Second)
	tracker.waitFor(t, serverID, StateStarted, 3*time.Second)
	tracker.waitFor(t, clientID, StateClosed, 6*time.Second)
	tracker.waitFor(t, serverID, StateClosed, 6*time.Second)
}

func TestEngine_StopInstanceAll_ClosesWithinBudget(t *testing.T) {
	eng := NewEngine()
	tracker := newStateTracker()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	serverCfg := Config{
		Role:          RoleServer,
		Proto:         ProtoTCP,
		Source:        net.ParseIP("127.0.0.1"),
		SourcePort:    port,
		IntervalSecs:  1,
		TimeSecs:      0, // no deadline: only StopInstance(ALL) ends it
		StateCallback: tracker.onState,
	}
	serverID, err := eng.StartInstance(serverCfg)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	ids, err := eng.StartParallelClients(Config{
		Role:          RoleClient,
		Proto:         ProtoTCP,
		Destination:   net.ParseIP("127.0.0.1"),
		DestPort:      port,
		IntervalSecs:  1,
		TimeSecs:      0,
		StateCallback: tracker.onState,
	}, 4)
	if err != nil {
		t.Fatalf("start parallel clients: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("got %d client ids, want 4", len(ids))
	}
	seen := map[int]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate parallel client id %d", id)
		}
		seen[id] = true
	}

	time.Sleep(200 * time.Millisecond) // let them all reach STARTED

	if err := eng.StopInstance(InstanceAll); err != nil {
		t.Fatalf("stop all: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for _, id := range append(ids, serverID) {
		tracker.waitFor(t, id, StateClosed, 2*time.Second)
	}
	select {
	case <-deadline:
	default:
	}
}

func TestEngine_CustomReportSink_RecordsInOrder(t *testing.T) {
	type record struct {
		kind string
	}
	var mu sync.Mutex
	var records []record
	sink := &recordingSink{
		onConnect: func(ConnectInfoRecord) { mu.Lock(); records = append(records, record{"connect"}); mu.Unlock() },
		onPeriod:  func(PeriodRecord) { mu.Lock(); records = append(records, record{"period"}); mu.Unlock() },
		onSummary: func(SummaryRecord) { mu.Lock(); records = append(records, record{"summary"}); mu.Unlock() },
	}

	eng := NewEngine()
	tracker := newStateTracker()

	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	_ = probe.Close()

	serverID, err := eng.StartInstance(Config{
		Role:          RoleServer,
		Proto:         ProtoUDP,
		Source:        net.ParseIP("127.0.0.1"),
		SourcePort:    port,
		IntervalSecs:  1,
		TimeSecs:      2,
		ReportSink:    sink,
		StateCallback: tracker.onState,
	})
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	_, err = eng.StartInstance(Config{
		Role:         RoleClient,
		Proto:        ProtoUDP,
		Destination:  net.ParseIP("127.0.0.1"),
		DestPort:     port,
		IntervalSecs: 1,
		TimeSecs:     2,
	})
	if err != nil {
		t.Fatalf("start client: %v", err)
	}

	tracker.waitFor(t, serverID, StateClosed, 6*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(records) < 2 {
		t.Fatalf("got %d records, want at least a connect + summary", len(records))
	}
	if records[0].kind != "connect" {
		t.Fatalf("first record = %s, want connect", records[0].kind)
	}
	if records[len(records)-1].kind != "summary" {
		t.Fatalf("last record = %s, want summary", records[len(records)-1].kind)
	}
}

type recordingSink struct {
	onConnect func(ConnectInfoRecord)
	onPeriod  func(PeriodRecord)
	onSummary func(SummaryRecord)
}

func (s *recordingSink) ConnectInfo(r ConnectInfoRecord) { s.onConnect(r) }
func (s *recordingSink) Period(r PeriodRecord)           { s.onPeriod(r) }
func (s *recordingSink) Summary(r SummaryRecord)         { s.onSummary(r) }
