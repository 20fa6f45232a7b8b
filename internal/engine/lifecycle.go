package engine

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// run starts an instance's worker pair after setupSocket has already
// succeeded: one traffic goroutine and one report goroutine, grouped with
// errgroup.Group so a worker's unexpected error surfaces on one log line
// instead of silently vanishing. The group is not waited on synchronously
// here — an instance's worker pair outlives the StartInstance call that
// created it. Deletion is chained after the traffic worker specifically,
// never after the group as a whole, since it must bound its wait on the
// report worker alone.
func (inst *instance) run() {
	g := new(errgroup.Group)
	g.Go(func() error {
		inst.runTraffic()
		inst.finishTraffic()
		inst.beginDeletion()
		return nil
	})
	g.Go(inst.runReport)

	go func() {
		if err := g.Wait(); err != nil && inst.logger != nil {
			inst.logger.Printf("instance %d: worker error: %v", inst.id, err)
		}
	}()
}

// finishTraffic is component D's exit path: emit STOPPED if warranted,
// close the socket on every exit path, then wake the report worker so it
// observes is_running == false promptly instead of waiting for a tick that
// will never come.
func (inst *instance) finishTraffic() {
	inst.isRunning.Store(false)
	if inst.started.Load() || inst.handshakeFailed.Load() {
		inst.emitState(StateStopped)
	}
	closeSocket(inst)
	inst.signalTick()
}

// forceStop is the forced-stop protocol: idempotent, callable from any
// goroutine, never blocks. Stopping the timers directly (instead of
// setting a zero deadline and waiting for the next tick to notice) is a
// strictly equivalent, simpler way to guarantee there is no next tick.
func (inst *instance) forceStop() {
	if !inst.isRunning.CompareAndSwap(true, false) {
		return // already stopping or stopped
	}
	inst.stopTimers()
	if inst.cfg.Role == RoleClient && inst.cfg.BandwidthLimitBps > 0 {
		inst.signalTx()
	}
	if inst.cfg.Role == RoleServer {
		closeSocket(inst)
	}
	inst.signalTick()
}

// beginDeletion waits up to deletionWaitBudget for the report worker to
// exit, then removes the instance from its registry and emits CLOSED. A
// timeout is a deliberate, logged leak: freeing now would race a worker
// that is still alive somewhere in the kernel's blocking-call internals.
func (inst *instance) beginDeletion() {
	select {
	case <-inst.reportDone:
	case <-time.After(deletionWaitBudget):
		if inst.logger != nil {
			inst.logger.Printf("instance %d: deletion wait exceeded %s, leaking instance", inst.id, deletionWaitBudget)
		}
		return
	}
	inst.stopTimers()
	if inst.unregister != nil {
		inst.unregister()
	}
	inst.emitState(StateClosed)
}
