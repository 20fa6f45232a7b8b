package engine

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// InstanceAll is the ALL sentinel for StopInstance: "apply to every live
// instance".
const InstanceAll = -1

// DeletionWaitBudget is the bounded wait an instance's deletion sequence
// allows its report worker before leaking deliberately. Exported so a
// caller doing its own teardown wait (e.g. cmd/netpulse) knows how long to
// linger.
func DeletionWaitBudget() time.Duration { return deletionWaitBudget }

// Engine is the embedder-owned handle in place of a global
// registry/mutex/weak-sink singleton set: every field that would otherwise
// be process-wide becomes a field on this value instead.
type Engine struct {
	reg   registry
	clock Clock

	mu      sync.Mutex
	sink    ReportSink
	stateCB func(id int, state State)
	logger  *log.Logger
}

// NewEngine builds an Engine using the real wall clock and a logger
// writing to stderr (stdlib log, prefixed, injectable).
func NewEngine() *Engine {
	return &Engine{
		clock:  RealClock,
		logger: log.New(os.Stderr, "netpulse: ", log.LstdFlags),
	}
}

// SetStateHandler installs the engine-wide default state callback, used by
// any instance whose Config.StateCallback is nil.
func (e *Engine) SetStateHandler(fn func(id int, state State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateCB = fn
}

// SetReportSink installs the engine-wide default report sink, used by any
// instance whose Config.ReportSink is nil.
func (e *Engine) SetReportSink(sink ReportSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetLogger overrides the engine's default logger (used when Config.Logger
// is nil).
func (e *Engine) SetLogger(logger *log.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

func (e *Engine) resolveSink(cfg Config) ReportSink {
	if cfg.ReportSink != nil {
		return cfg.ReportSink
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink != nil {
		return e.sink
	}
	return processDefaultSink
}

func (e *Engine) resolveStateCB(cfg Config) func(id int, state State) {
	if cfg.StateCallback != nil {
		return cfg.StateCallback
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateCB
}

func (e *Engine) resolveLogger(cfg Config) *log.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logger
}

// StartInstance builds and registers one measurement instance, then blocks
// for the bounded socket-setup work (bind/listen/connect/accept/handshake)
// before returning. On success it spawns the traffic/report worker pair
// and returns the assigned id. On a setup failure the instance is removed
// from the registry and CLOSED is emitted without STARTED: no callbacks
// fire except CLOSED, and only if registration had already succeeded.
func (e *Engine) StartInstance(cfg Config) (int, error) {
	if err := validateConfig(cfg); err != nil {
		return -1, err
	}

	sink := e.resolveSink(cfg)
	stateCB := e.resolveStateCB(cfg)
	logger := e.resolveLogger(cfg)

	inst, err := e.reg.insert(cfg.RequestedID, func(id int) *instance {
		built := newInstance(id, cfg, e.clock, sink, logger)
		built.stateCB = stateCB
		built.unregister = func() { e.reg.remove(id) }
		return built
	})
	if err != nil {
		return -1, err
	}

	if err := setupSocket(inst); err != nil {
		e.reg.remove(inst.id)
		inst.emitState(StateClosed)
		if logger != nil {
			logger.Printf("instance %d: setup failed: %v", inst.id, err)
		}
		return -1, err
	}

	inst.run()
	return inst.id, nil
}

// StartParallelClients launches n independent client instances sharing
// this Engine (the `-P n` CLI surface), each set up in its own goroutine.
// The semaphore is sized to n, so it never holds a client back: all n
// connect attempts run at the same time.
func (e *Engine) StartParallelClients(cfg Config, n int) ([]int, error) {
	if n <= 0 {
		return nil, errInvalidArg("n", n)
	}
	sem := semaphore.NewWeighted(int64(n))
	ctx := context.Background()

	ids := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			perClient := cfg
			perClient.RequestedID = 0 // each parallel stream gets its own auto id
			ids[i], errs[i] = e.StartInstance(perClient)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// StopInstance: id == InstanceAll asks every live instance to stop and
// returns once they have all been asked, not once they have all closed.
func (e *Engine) StopInstance(id int) error {
	if id == InstanceAll {
		e.reg.forEach(func(inst *instance) { inst.forceStop() })
		return nil
	}
	if id < 0 {
		return errInvalidArg("id", id)
	}
	inst, ok := e.reg.find(id)
	if !ok {
		return errInstanceNotFound(id)
	}
	inst.forceStop()
	return nil
}

// GetTrafficReport copies out the cumulative counters for a live instance.
// It is not synchronized against the report worker beyond the copy itself;
// callers are expected to call it from the state callback at RUNNING. The
// instance is removed from the registry before CLOSED is delivered, so a
// call from the CLOSED callback returns an instance-not-found error.
func (e *Engine) GetTrafficReport(id int) (TrafficReport, error) {
	inst, ok := e.reg.find(id)
	if !ok {
		return TrafficReport{}, errInstanceNotFound(id)
	}
	inst.reportMu.Lock()
	defer inst.reportMu.Unlock()
	return inst.report, nil
}

func validateConfig(cfg Config) error {
	if cfg.IntervalSecs <= 0 {
		return errInvalidArg("IntervalSecs", cfg.IntervalSecs)
	}
	if cfg.TimeSecs > 0 && cfg.IntervalSecs > cfg.TimeSecs {
		return errInvalidArg("IntervalSecs", cfg.IntervalSecs)
	}
	if cfg.BandwidthLimitBps != unthrottledBandwidth && cfg.BandwidthLimitBps < 0 {
		return errInvalidArg("BandwidthLimitBps", cfg.BandwidthLimitBps)
	}
	if cfg.Role == RoleClient && cfg.Destination == nil {
		return errInvalidArg("Destination", cfg.Destination)
	}
	return nil
}
