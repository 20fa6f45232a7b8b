package engine

import (
	"time"
)

// startTickTimer arms the 1-second tick timer. The callback must stay
// non-blocking and must never take the registry mutex: it only touches
// this instance's own atomics and sends on a buffered channel.
func (inst *instance) startTickTimer() {
	ch, stop := inst.clock.NewTicker(time.Second)
	inst.tickStop = stop
	inst.tickQuit = make(chan struct{})
	go func() {
		for {
			select {
			case <-inst.tickQuit:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				inst.onTick()
				if !inst.isRunning.Load() {
					return
				}
			}
		}
	}()
}

func (inst *instance) onTick() {
	sinceStart := inst.ticksSinceStart.Add(1)
	sinceReport := inst.ticksSinceReport.Add(1)

	interval := int64(inst.cfg.IntervalSecs)
	deadline := int64(inst.cfg.TimeSecs)

	due := sinceReport >= interval
	expired := deadline > 0 && sinceStart >= deadline
	if !due && !expired {
		return
	}

	counted := inst.periodCounter.Swap(0)
	inst.accumulateSnapshot(uint32(counted), uint32(sinceReport))
	inst.ticksSinceReport.Store(0)

	if expired {
		inst.forceStop()
		return
	}
	inst.signalTick()
}

// accumulateSnapshot implements the tick path's snapshot-merge rule: if the
// report worker already consumed the previous snapshot (seconds == 0),
// install the new one; otherwise add to it and log starvation. A CAS loop
// keeps the (bytes, seconds) pair internally consistent without a lock on
// the tick path.
func (inst *instance) accumulateSnapshot(bytes, seconds uint32) {
	for {
		old := inst.snap.bits.Load()
		oldBytes, oldSeconds := unpackSnapshot(old)
		var next int64
		if oldSeconds == 0 {
			next = packedSnapshot(bytes, seconds)
		} else {
			next = packedSnapshot(oldBytes+bytes, oldSeconds+seconds)
		}
		if inst.snap.bits.CompareAndSwap(old, next) {
			if oldSeconds != 0 && inst.logger != nil {
				inst.logger.Printf("instance %d: report worker starved, merged %ds into pending snapshot", inst.id, seconds)
			}
			return
		}
	}
}

// startTxTimer arms the optional transmit-pacing timer, created only when a
// positive bandwidth limit is configured.
func (inst *instance) startTxTimer() {
	if inst.cfg.BandwidthLimitBps <= 0 {
		return
	}
	period := txPeriod(inst.bufferLen, inst.cfg.BandwidthLimitBps)
	ch, stop := inst.clock.NewTicker(period)
	inst.txStop = stop
	inst.txQuit = make(chan struct{})
	go func() {
		for {
			select {
			case <-inst.txQuit:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				inst.signalTx()
				if !inst.isRunning.Load() {
					return
				}
			}
		}
	}()
}

// txPeriod computes the tx timer's period: buffer_len*8*1e6/bandwidth_bps
// microseconds.
func txPeriod(bufferLen int, bandwidthBps int64) time.Duration {
	if bandwidthBps <= 0 {
		return 0
	}
	us := int64(bufferLen) * 8 * 1_000_000 / bandwidthBps
	if us <= 0 {
		us = 1
	}
	return time.Duration(us) * time.Microsecond
}

// stopTimers stops both timer tickers and unblocks their goroutines. Safe to
// call more than once: forceStop and beginDeletion each call it, and the
// ticker-stop funcs and quit-channel closes are all idempotent-guarded here.
func (inst *instance) stopTimers() {
	if inst.tickStop != nil {
		inst.tickStop()
		inst.tickStop = nil
		close(inst.tickQuit)
	}
	if inst.txStop != nil {
		inst.txStop()
		inst.txStop = nil
		close(inst.txQuit)
	}
}
