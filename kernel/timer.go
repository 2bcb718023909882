package kernel

import "github.com/Nikitarc/aasun-kernel/kernelerr"

// timerObj is a software timer. Armed timers are kept on the kernel's
// timerHead/timerTail list, sorted by dueTick the same way delaylist.go
// orders blocked tasks by wakeTick, so fireTimers only ever looks at the
// head instead of scanning every timer on every tick. A periodic timer
// re-arms itself by period and is reinserted at its new position after
// firing.
//
// Callbacks run synchronously from fireTimers, itself called from Tick
// while the kernel critical section is still held: there is no dedicated
// timer-service task in this simulation, so a callback must not block and
// must return quickly, the same constraint the reference kernel's
// ISR-context tick handler places on anything it calls directly.
type timerObj struct {
	id     TimerID
	inUse  bool
	active bool
	inList bool
	period uint32 // 0 means one-shot
	dueTick uint32
	prev, next TimerID
	callback func(arg any)
	arg      any
}

// TimerCreate allocates a timer in the stopped state. period of 0 makes it
// one-shot; any other value makes it auto-reload every period ticks after
// it first fires.
func (k *Kernel) TimerCreate(period uint32, callback func(arg any), arg any) (TimerID, error) {
	if callback == nil {
		return InvalidTimerID, kernelerr.New("TimerCreate", kernelerr.ModuleTimer, kernelerr.EARG, "callback must not be nil")
	}
	if len(k.freeTimers) == 0 {
		return InvalidTimerID, kernelerr.New("TimerCreate", kernelerr.ModuleTimer, kernelerr.EDEPLETED, "timer table full")
	}
	idx := k.freeTimers[len(k.freeTimers)-1]
	k.freeTimers = k.freeTimers[:len(k.freeTimers)-1]
	id := TimerID(makeHandle(tagTimer, idx))
	k.timers[idx] = timerObj{id: id, inUse: true, period: period, callback: callback, arg: arg, prev: InvalidTimerID, next: InvalidTimerID}
	return id, nil
}

func (k *Kernel) resolveTimer(id TimerID) (*timerObj, error) {
	if !id.isTimer() {
		return nil, kernelerr.New("resolveTimer", kernelerr.ModuleTimer, kernelerr.EARG, "handle is not a timer")
	}
	idx := handleIndex(uint16(id))
	if idx < 0 || idx >= len(k.timers) || !k.timers[idx].inUse || k.timers[idx].id != id {
		return nil, kernelerr.New("resolveTimer", kernelerr.ModuleTimer, kernelerr.EARG, "stale or unknown timer handle")
	}
	return &k.timers[idx], nil
}

// timerListInsert inserts t into the kernel's timer list in dueTick order,
// tolerant of tick-counter wraparound via signed difference comparison, the
// same way delayInsert orders the delay list.
func (k *Kernel) timerListInsert(t *timerObj) {
	t.inList = true
	if k.timerHead == InvalidTimerID {
		t.prev, t.next = InvalidTimerID, InvalidTimerID
		k.timerHead, k.timerTail = t.id, t.id
		return
	}
	cur := k.timerHead
	for cur != InvalidTimerID {
		ct := k.resolveTimerUnsafe(cur)
		if int32(t.dueTick-ct.dueTick) < 0 {
			break
		}
		cur = ct.next
	}
	if cur == InvalidTimerID {
		prev := k.timerTail
		k.resolveTimerUnsafe(prev).next = t.id
		t.prev, t.next = prev, InvalidTimerID
		k.timerTail = t.id
		return
	}
	ct := k.resolveTimerUnsafe(cur)
	prev := ct.prev
	t.next, t.prev = cur, prev
	ct.prev = t.id
	if prev == InvalidTimerID {
		k.timerHead = t.id
	} else {
		k.resolveTimerUnsafe(prev).next = t.id
	}
}

func (k *Kernel) timerListRemove(t *timerObj) {
	if !t.inList {
		return
	}
	if t.prev != InvalidTimerID {
		k.resolveTimerUnsafe(t.prev).next = t.next
	} else {
		k.timerHead = t.next
	}
	if t.next != InvalidTimerID {
		k.resolveTimerUnsafe(t.next).prev = t.prev
	} else {
		k.timerTail = t.prev
	}
	t.inList = false
	t.prev, t.next = InvalidTimerID, InvalidTimerID
}

// resolveTimerUnsafe looks up a timer already known to be in-use, for list
// bookkeeping where the handle came from the list itself rather than a
// caller, so the tag/generation checks resolveTimer does are redundant.
func (k *Kernel) resolveTimerUnsafe(id TimerID) *timerObj {
	return &k.timers[handleIndex(uint16(id))]
}

// TimerStart arms the timer to first fire after firstDelay ticks.
func (k *Kernel) TimerStart(id TimerID, firstDelay uint32) error {
	t, err := k.resolveTimer(id)
	if err != nil {
		return err
	}
	k.EnterCritical()
	if t.inList {
		k.timerListRemove(t)
	}
	t.active = true
	t.dueTick = k.tickCount + firstDelay
	k.timerListInsert(t)
	k.ExitCritical()
	return nil
}

// TimerStop disarms the timer; it will not fire again until TimerStart.
func (k *Kernel) TimerStop(id TimerID) error {
	t, err := k.resolveTimer(id)
	if err != nil {
		return err
	}
	k.EnterCritical()
	t.active = false
	k.timerListRemove(t)
	k.ExitCritical()
	return nil
}

// TimerDelete removes the timer and returns its slot to the free list.
func (k *Kernel) TimerDelete(id TimerID) error {
	t, err := k.resolveTimer(id)
	if err != nil {
		return err
	}
	idx := handleIndex(uint16(t.id))
	k.EnterCritical()
	k.timerListRemove(t)
	k.timers[idx] = timerObj{}
	k.freeTimers = append(k.freeTimers, idx)
	k.ExitCritical()
	return nil
}

// fireTimers pops every timer at the head of the list whose dueTick has
// arrived and runs its callback, called from Tick while still under the
// kernel critical section. It stops at the first timer still in the
// future, since the list is kept sorted by dueTick.
func (k *Kernel) fireTimers(now uint32) {
	for k.timerHead != InvalidTimerID {
		t := k.resolveTimerUnsafe(k.timerHead)
		if int32(now-t.dueTick) < 0 {
			break
		}
		k.timerListRemove(t)
		cb, arg := t.callback, t.arg
		if t.period == 0 {
			t.active = false
		} else {
			t.dueTick = now + t.period
			k.timerListInsert(t)
		}
		cb(arg)
	}
}
