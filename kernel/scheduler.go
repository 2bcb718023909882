package kernel

import "math/bits"

// priorityBitmap is a hierarchical ready-set bitmap: one
// summary word indexing up to 32 group words, each covering 32 priority
// levels, so PRIORITY_COUNT up to 1024 still resolves the highest set bit
// in O(1) via two CLZ-class lookups (math/bits.LeadingZeros32 here, since there is
// no hosted CLZ intrinsic to call directly).
type priorityBitmap struct {
	groups  []uint32
	summary uint32
}

func newPriorityBitmap(priorityCount int) priorityBitmap {
	return priorityBitmap{groups: make([]uint32, (priorityCount+31)/32)}
}

func (b *priorityBitmap) set(p int) {
	g, bit := p/32, uint(p%32)
	b.groups[g] |= 1 << bit
	b.summary |= 1 << uint(g)
}

func (b *priorityBitmap) clear(p int) {
	g, bit := p/32, uint(p%32)
	b.groups[g] &^= 1 << bit
	if b.groups[g] == 0 {
		b.summary &^= 1 << uint(g)
	}
}

func (b *priorityBitmap) isSet(p int) bool {
	g, bit := p/32, uint(p%32)
	return b.groups[g]&(1<<bit) != 0
}

// highest returns the highest priority level with a non-empty queue.
func (b *priorityBitmap) highest() (int, bool) {
	if b.summary == 0 {
		return 0, false
	}
	g := 31 - bits.LeadingZeros32(b.summary)
	word := b.groups[g]
	bit := 31 - bits.LeadingZeros32(word)
	return g*32 + bit, true
}

func (b *priorityBitmap) empty() bool {
	return b.summary == 0
}

// readyEnqueue appends t to the tail of its effective priority's FIFO and
// sets the bitmap bit (make_ready).
func (k *Kernel) readyEnqueue(id TaskID) {
	t := k.tcb(id)
	p := int(t.effPriority)
	t.state = StateReady
	if k.readyTail[p] == InvalidTaskID {
		k.readyHead[p] = id
		k.readyTail[p] = id
		t.waitPrev = InvalidTaskID
		t.waitNext = InvalidTaskID
	} else {
		tail := k.tcb(k.readyTail[p])
		tail.waitNext = id
		t.waitPrev = k.readyTail[p]
		t.waitNext = InvalidTaskID
		k.readyTail[p] = id
	}
	t.inWaitList = true
	k.readyBitmap.set(p)
}

// readyRemove unlinks t from whichever ready queue it is on (remove_ready).
func (k *Kernel) readyRemove(id TaskID) {
	t := k.tcb(id)
	p := int(t.effPriority)
	if t.waitPrev != InvalidTaskID {
		k.tcb(t.waitPrev).waitNext = t.waitNext
	} else {
		k.readyHead[p] = t.waitNext
	}
	if t.waitNext != InvalidTaskID {
		k.tcb(t.waitNext).waitPrev = t.waitPrev
	} else {
		k.readyTail[p] = t.waitPrev
	}
	t.inWaitList = false
	if k.readyHead[p] == InvalidTaskID {
		k.readyBitmap.clear(p)
	}
}

// pickNext returns the head of the highest-priority non-empty ready queue.
func (k *Kernel) pickNext() TaskID {
	p, ok := k.readyBitmap.highest()
	if !ok {
		return k.idleTask
	}
	return k.readyHead[p]
}

// schedule is called at the end of every kernel API that may change
// readiness, and from the tick handler. If the highest-priority ready task
// is not the running task, it requests a context switch; from inside an
// ISR the switch is deferred by RequestContextSwitch's own semantics until
// the outermost ISR returns.
func (k *Kernel) schedule() {
	if k.schedLockDepth > 0 {
		k.schedPending = true
		return
	}
	next := k.pickNext()
	if next == k.current {
		return
	}

	// The running task is never itself linked into the ready bitmap, so
	// pickNext only ever returns a *different* candidate. Whether that
	// candidate actually preempts depends on whether the current task is
	// still runnable and, if so, whether the candidate outranks it: a
	// same-or-lower-priority arrival (including idle, priority 0) must wait
	// its turn rather than bouncing the running task out.
	runningPrio := -1
	if k.current != InvalidTaskID {
		cur := k.tcb(k.current)
		if cur.state == StateRunning {
			runningPrio = int(cur.effPriority)
		}
	}
	if runningPrio >= 0 && int(k.tcb(next).effPriority) <= runningPrio {
		return
	}
	if k.current != InvalidTaskID {
		cur := k.tcb(k.current)
		if cur.state == StateRunning {
			cur.state = StateReady
			k.readyEnqueue(k.current)
		}
	}
	if next != InvalidTaskID {
		nt := k.tcb(next)
		if nt.inWaitList {
			k.readyRemove(next)
		}
		nt.state = StateRunning
	}
	k.current = next
	k.bsp.RequestContextSwitch()
	// Scheduling latency is not tracked here: the simulation has no
	// wall-clock finer than the tick, so 0 records the switch without a
	// fabricated latency figure.
	k.Metrics.RecordSwitch(0)
}

// lockScheduler/unlockScheduler defer schedule()'s effect across a run of
// kernel operations that must not interleave a switch (e.g. transferring
// ownership of a mutex to a dequeued waiter one step at a time).
func (k *Kernel) lockScheduler() {
	k.schedLockDepth++
}

func (k *Kernel) unlockScheduler() {
	k.schedLockDepth--
	if k.schedLockDepth == 0 && k.schedPending {
		k.schedPending = false
		k.schedule()
	}
}
