package kernel

import "github.com/Nikitarc/aasun-kernel/kernelerr"

// semObj is a counting semaphore. count can go negative while tasks are
// queued on waitHead/waitTail, mirroring the classic counting-semaphore
// invariant: |count| when negative is the number of waiters.
type semObj struct {
	id       SemID
	inUse    bool
	count    int32
	max      int32 // 0 means unbounded
	waitHead TaskID
	waitTail TaskID
}

// SemCreate allocates a counting semaphore with the given initial count.
// max, if positive, caps Give from exceeding it.
func (k *Kernel) SemCreate(initial, max int32) (SemID, error) {
	if len(k.freeSems) == 0 {
		return InvalidSemID, kernelerr.New("SemCreate", kernelerr.ModuleSem, kernelerr.EDEPLETED, "semaphore table full")
	}
	idx := k.freeSems[len(k.freeSems)-1]
	k.freeSems = k.freeSems[:len(k.freeSems)-1]
	id := SemID(makeHandle(tagSem, idx))
	k.sems[idx] = semObj{id: id, inUse: true, count: initial, max: max, waitHead: InvalidTaskID, waitTail: InvalidTaskID}
	return id, nil
}

func (k *Kernel) resolveSem(id SemID) (*semObj, error) {
	if !id.isSem() {
		return nil, kernelerr.New("resolveSem", kernelerr.ModuleSem, kernelerr.EARG, "handle is not a semaphore")
	}
	idx := handleIndex(uint16(id))
	if idx < 0 || idx >= len(k.sems) || !k.sems[idx].inUse || k.sems[idx].id != id {
		return nil, kernelerr.New("resolveSem", kernelerr.ModuleSem, kernelerr.EARG, "stale or unknown semaphore handle")
	}
	return &k.sems[idx], nil
}

// SemTake decrements count; if it goes negative the caller blocks, ordered
// by effective priority among other waiters, for up to timeoutTicks.
func (k *Kernel) SemTake(self TaskID, s SemID, timeoutTicks uint32) error {
	if k.inISR() && timeoutTicks != 0 {
		return errNotAllowedFromISR("SemTake", kernelerr.ModuleSem)
	}
	sem, err := k.resolveSem(s)
	if err != nil {
		return err
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return err
	}

	k.EnterCritical()
	sem.count--
	if sem.count >= 0 {
		k.ExitCritical()
		k.Metrics.RecordSemTake(false)
		return nil
	}
	if timeoutTicks == 0 {
		sem.count++
		k.ExitCritical()
		return kernelerr.New("SemTake", kernelerr.ModuleSem, kernelerr.EWOULDBLOCK, "semaphore depleted, non-blocking call")
	}

	k.waitListInsert(&sem.waitHead, &sem.waitTail, caller.id)
	caller.state = StateWaitingSem
	caller.waitSem = sem.id
	if timeoutTicks != InfiniteTimeout {
		k.delayInsert(caller.id, k.tickCount+timeoutTicks)
	}
	k.ExitCritical()
	k.schedule()

	if caller.wakeCause == WakeTimeout {
		k.EnterCritical()
		sem.count++
		k.ExitCritical()
		k.Metrics.RecordSemTake(true)
		return kernelerr.New("SemTake", kernelerr.ModuleSem, kernelerr.ETIMEOUT, "semaphore wait timed out")
	}
	if caller.wakeCause == WakeFlush {
		return kernelerr.New("SemTake", kernelerr.ModuleSem, kernelerr.EFLUSH, "semaphore flushed")
	}
	k.Metrics.RecordSemTake(false)
	return nil
}

// SemGive increments count and, if a waiter is queued, wakes the
// highest-priority one. ISR-safe.
func (k *Kernel) SemGive(s SemID) error {
	sem, err := k.resolveSem(s)
	if err != nil {
		return err
	}
	k.EnterCritical()
	if sem.max > 0 && sem.count >= sem.max {
		k.ExitCritical()
		return kernelerr.New("SemGive", kernelerr.ModuleSem, kernelerr.EARG, "semaphore already at max count")
	}
	sem.count++
	if sem.count <= 0 {
		if next, ok := k.waitListPopHighest(&sem.waitHead, &sem.waitTail); ok {
			k.wake(next, WakeEvent)
		}
	}
	k.ExitCritical()
	k.schedule()
	return nil
}

// SemFlush releases every waiter with a flush result instead of success.
// count is raised by the number of waiters released, so a flush consumes
// no give: afterwards count is as if none of them had taken.
func (k *Kernel) SemFlush(s SemID) error {
	sem, err := k.resolveSem(s)
	if err != nil {
		return err
	}
	k.EnterCritical()
	n := int32(0)
	for sem.waitHead != InvalidTaskID {
		next, _ := k.waitListPopHighest(&sem.waitHead, &sem.waitTail)
		k.wake(next, WakeFlush)
		n++
	}
	sem.count += n
	k.ExitCritical()
	k.schedule()
	return nil
}

// SemReset sets count to n. Rejected with ESTATE if any task is currently
// waiting on the semaphore; callers must drain waiters (SemFlush or letting
// them time out) before resetting, since silently flushing them here would
// hide a design error in the caller.
func (k *Kernel) SemReset(s SemID, n int32) error {
	sem, err := k.resolveSem(s)
	if err != nil {
		return err
	}
	k.EnterCritical()
	if sem.waitHead != InvalidTaskID {
		k.ExitCritical()
		return kernelerr.New("SemReset", kernelerr.ModuleSem, kernelerr.ESTATE, "cannot reset semaphore with waiters present")
	}
	sem.count = n
	k.ExitCritical()
	return nil
}
