package kernel

import "github.com/Nikitarc/aasun-kernel/kernelerr"

// Signals are a 16-bit per-task event word. SignalSend ORs bits into the
// target's pending word and wakes it if it was waiting on a matching mask;
// SignalWait blocks the caller until its own pending word satisfies a mask
// under either AND (all bits) or OR (any bit) semantics, then clears the
// bits that satisfied the wait.

// SignalSend ORs bits into target's pending signal word and, if target is
// blocked in SignalWait with a mask now satisfied, wakes it. ISR-safe.
func (k *Kernel) SignalSend(target TaskID, bits uint16) error {
	t, err := k.resolveTask(InvalidTaskID, target)
	if err != nil {
		return err
	}
	k.EnterCritical()
	t.pendingSignals |= bits
	if t.state == StateWaitingSignal && signalSatisfies(t, bits) {
		k.wake(t.id, WakeEvent)
	}
	k.ExitCritical()
	k.schedule()
	return nil
}

// SignalPulse delivers bits then clears them unconditionally, even if
// target is not currently waiting on them, unlike SignalSend which leaves
// unconsumed bits latched in pendingSignals for a future SignalWait to
// observe.
func (k *Kernel) SignalPulse(target TaskID, bits uint16) error {
	t, err := k.resolveTask(InvalidTaskID, target)
	if err != nil {
		return err
	}
	k.EnterCritical()
	wasWaiting := t.state == StateWaitingSignal
	t.pendingSignals |= bits
	if wasWaiting && signalSatisfies(t, bits) {
		k.wake(t.id, WakeEvent)
	}
	t.pendingSignals &^= bits
	k.ExitCritical()
	k.schedule()
	return nil
}

func signalSatisfies(t *tcb, newBits uint16) bool {
	pending := t.pendingSignals
	if t.waitSignalAnd {
		return pending&t.waitSignalMask == t.waitSignalMask
	}
	return pending&t.waitSignalMask != 0
}

// SignalWait blocks self until its pending-signal word satisfies mask
// (all bits if and is true, any bit otherwise), then clears the satisfying
// bits and returns the pending word as it stood at wake time. Forbidden
// with a nonzero timeout from ISR context.
func (k *Kernel) SignalWait(self TaskID, mask uint16, and bool, timeoutTicks uint32) (uint16, error) {
	if k.inISR() && timeoutTicks != 0 {
		return 0, errNotAllowedFromISR("SignalWait", kernelerr.ModuleSignal)
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return 0, err
	}

	k.EnterCritical()
	caller.waitSignalMask = mask
	caller.waitSignalAnd = and
	if signalSatisfies(caller, 0) {
		result := caller.pendingSignals
		caller.pendingSignals &^= mask
		k.ExitCritical()
		k.Metrics.RecordSignalWait(false)
		return result, nil
	}
	if timeoutTicks == 0 {
		k.ExitCritical()
		return 0, kernelerr.New("SignalWait", kernelerr.ModuleSignal, kernelerr.EWOULDBLOCK, "mask not satisfied, non-blocking call")
	}

	caller.state = StateWaitingSignal
	if timeoutTicks != InfiniteTimeout {
		k.delayInsert(caller.id, k.tickCount+timeoutTicks)
	}
	k.ExitCritical()
	k.schedule()

	if caller.wakeCause == WakeTimeout {
		k.Metrics.RecordSignalWait(true)
		return 0, kernelerr.New("SignalWait", kernelerr.ModuleSignal, kernelerr.ETIMEOUT, "signal wait timed out")
	}
	k.EnterCritical()
	result := caller.pendingSignals
	caller.pendingSignals &^= mask
	k.ExitCritical()
	k.Metrics.RecordSignalWait(false)
	return result, nil
}
