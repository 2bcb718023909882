package kernel

// The delay list orders blocked tasks by absolute wakeup tick. It is kept
// separate from the ready-queue/wait-list linkage in tcb so a task can be
// on an object's wait list and the delay list at the same time (a timed
// mutex/sem/queue/signal wait).

func (k *Kernel) delayInsert(id TaskID, wakeTick uint32) {
	t := k.tcb(id)
	t.wakeTick = wakeTick
	t.hasTimeout = true
	t.inDelayList = true

	if k.delayHead == InvalidTaskID {
		t.delayPrev = InvalidTaskID
		t.delayNext = InvalidTaskID
		k.delayHead = id
		k.delayTail = id
		return
	}

	// Insertion sorted by wakeTick, tolerant of tick-counter wraparound via
	// signed difference comparison.
	cur := k.delayHead
	for cur != InvalidTaskID {
		ct := k.tcb(cur)
		if int32(wakeTick-ct.wakeTick) < 0 {
			break
		}
		cur = ct.delayNext
	}
	if cur == InvalidTaskID {
		prev := k.delayTail
		k.tcb(prev).delayNext = id
		t.delayPrev = prev
		t.delayNext = InvalidTaskID
		k.delayTail = id
		return
	}
	ct := k.tcb(cur)
	prev := ct.delayPrev
	t.delayNext = cur
	t.delayPrev = prev
	ct.delayPrev = id
	if prev == InvalidTaskID {
		k.delayHead = id
	} else {
		k.tcb(prev).delayNext = id
	}
}

func (k *Kernel) delayRemove(id TaskID) {
	t := k.tcb(id)
	if !t.inDelayList {
		return
	}
	if t.delayPrev != InvalidTaskID {
		k.tcb(t.delayPrev).delayNext = t.delayNext
	} else {
		k.delayHead = t.delayNext
	}
	if t.delayNext != InvalidTaskID {
		k.tcb(t.delayNext).delayPrev = t.delayPrev
	} else {
		k.delayTail = t.delayPrev
	}
	t.inDelayList = false
	t.hasTimeout = false
}

// wake transitions a delayed/blocked task back to ready, recording why.
func (k *Kernel) wake(id TaskID, cause WakeCause) {
	t := k.tcb(id)
	if t.inDelayList {
		k.delayRemove(id)
	}
	t.wakeCause = cause
	t.waitMutex = InvalidMutexID
	t.waitSem = InvalidSemID
	t.waitQueue = InvalidQueueID
	t.waitPool = InvalidPoolID
	if t.suspendRequested {
		t.suspendRequested = false
		t.state = StateSuspended
		return
	}
	k.readyEnqueue(id)
}

// Tick advances the tick counter, wakes every task whose wakeTick has
// arrived with WakeTimeout, fires due software timers, and reschedules.
// It is the ISR-safe periodic entry point; a tickless build instead calls
// it after TickStretchUntil's delta elapses.
func (k *Kernel) Tick() {
	k.EnterCritical()
	k.tickCount++
	now := k.tickCount
	k.Metrics.RecordTick()

	for k.delayHead != InvalidTaskID {
		t := k.tcb(k.delayHead)
		if int32(now-t.wakeTick) < 0 {
			break
		}
		next := t.delayNext
		if t.inWaitList {
			// Timed out waiting on an object: remove from that object's
			// wait list too. abandonObjectWait (list.go) picks the
			// object from the task's wait state and unlinks it via
			// waitListRemove.
			k.abandonObjectWait(t.id)
		}
		k.recordTimeoutMetric(t)
		k.wake(t.id, WakeTimeout)
		_ = next
	}

	k.fireTimers(now)
	k.ExitCritical()
	k.schedule()
}

// recordTimeoutMetric must run before wake() resets t.state.
func (k *Kernel) recordTimeoutMetric(t *tcb) {
	switch t.state {
	case StateWaitingMutex:
		k.Metrics.RecordMutexTake(true)
	case StateWaitingSem:
		k.Metrics.RecordSemTake(true)
	case StateWaitingQueue:
		k.Metrics.RecordQueueSend(true)
	case StateWaitingSignal:
		k.Metrics.RecordSignalWait(true)
	}
}
