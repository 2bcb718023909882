package kernel

import "github.com/Nikitarc/aasun-kernel/kernelerr"

// mutexObj is a recursive, priority-inheriting mutex.
type mutexObj struct {
	id        MutexID
	inUse     bool
	owner     TaskID
	recursion uint16
	ownerOrig uint8 // owner's effective priority before it first took this mutex
	waitHead  TaskID
	waitTail  TaskID
}

// MutexCreate allocates an unowned mutex.
func (k *Kernel) MutexCreate() (MutexID, error) {
	if len(k.freeMutexes) == 0 {
		return InvalidMutexID, kernelerr.New("MutexCreate", kernelerr.ModuleMutex, kernelerr.EDEPLETED, "mutex table full")
	}
	idx := k.freeMutexes[len(k.freeMutexes)-1]
	k.freeMutexes = k.freeMutexes[:len(k.freeMutexes)-1]
	id := MutexID(makeHandle(tagMutex, idx))
	k.mutexes[idx] = mutexObj{id: id, inUse: true, owner: InvalidTaskID, waitHead: InvalidTaskID, waitTail: InvalidTaskID}
	return id, nil
}

func (k *Kernel) resolveMutex(id MutexID) (*mutexObj, error) {
	if !id.isMutex() {
		return nil, kernelerr.New("resolveMutex", kernelerr.ModuleMutex, kernelerr.EARG, "handle is not a mutex")
	}
	idx := handleIndex(uint16(id))
	if idx < 0 || idx >= len(k.mutexes) || !k.mutexes[idx].inUse || k.mutexes[idx].id != id {
		return nil, kernelerr.New("resolveMutex", kernelerr.ModuleMutex, kernelerr.EARG, "stale or unknown mutex handle")
	}
	return &k.mutexes[idx], nil
}

const maxInheritanceChain = 1 << 20 // Loop guard; the visited set below is the real cycle detector

// MutexTake acquires m, blocking self for up to timeoutTicks if it is
// already owned by another task. A second take by the owner recurses.
// Forbidden with a nonzero timeout from ISR context.
func (k *Kernel) MutexTake(self TaskID, m MutexID, timeoutTicks uint32) error {
	if k.inISR() && timeoutTicks != 0 {
		return errNotAllowedFromISR("MutexTake", kernelerr.ModuleMutex)
	}
	mu, err := k.resolveMutex(m)
	if err != nil {
		return err
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return err
	}

	k.EnterCritical()

	if mu.owner == InvalidTaskID {
		mu.owner = caller.id
		mu.recursion = 1
		mu.ownerOrig = caller.effPriority
		caller.ownedMutexes = append(caller.ownedMutexes, mu.id)
		k.ExitCritical()
		k.Metrics.RecordMutexTake(false)
		return nil
	}
	if mu.owner == caller.id {
		mu.recursion++
		k.ExitCritical()
		k.Metrics.RecordMutexTake(false)
		return nil
	}
	if timeoutTicks == 0 {
		k.ExitCritical()
		return kernelerr.New("MutexTake", kernelerr.ModuleMutex, kernelerr.EWOULDBLOCK, "mutex owned, non-blocking call")
	}

	// Raise the owner's effective priority, propagating transitively through
	// any chain of mutex ownership, bounded and cycle-checked by a visited
	// set sized to TaskMax.
	if caller.effPriority > k.tcb(mu.owner).effPriority {
		k.propagateInherit(mu, caller.effPriority)
	}

	k.waitListInsert(&mu.waitHead, &mu.waitTail, caller.id)
	caller.state = StateWaitingMutex
	caller.waitMutex = mu.id
	if timeoutTicks != InfiniteTimeout {
		k.delayInsert(caller.id, k.tickCount+timeoutTicks)
	}
	k.ExitCritical()
	k.schedule()

	if caller.wakeCause == WakeTimeout {
		k.Metrics.RecordMutexTake(true)
		return kernelerr.New("MutexTake", kernelerr.ModuleMutex, kernelerr.ETIMEOUT, "mutex wait timed out")
	}
	k.Metrics.RecordMutexTake(false)
	return nil
}

// propagateInherit raises owner.effPriority to at least newPrio and, if the
// owner is itself blocked waiting for another mutex, continues up the
// ownership chain. A task visited twice means a cycle was constructed by
// buggy application code; abort to the assert handler rather than looping
// forever.
func (k *Kernel) propagateInherit(mu *mutexObj, newPrio uint8) {
	visited := make(map[TaskID]bool, k.cfg.TaskMax)
	cur := mu
	for i := 0; i < k.cfg.TaskMax+1; i++ {
		owner := k.tcb(cur.owner)
		if visited[owner.id] {
			k.assert(kernelerr.EFAIL)
			return
		}
		visited[owner.id] = true

		if newPrio <= owner.effPriority {
			return
		}
		requeue := owner.state == StateReady && owner.inWaitList
		if requeue {
			k.readyRemove(owner.id)
		}
		owner.effPriority = newPrio
		k.Metrics.RecordPriorityRaise()
		if requeue {
			k.readyEnqueue(owner.id)
		}
		if owner.state != StateWaitingMutex {
			return
		}
		next, nerr := k.resolveMutex(owner.waitMutex)
		if nerr != nil {
			return
		}
		cur = next
	}
	k.assert(kernelerr.EFAIL)
}

// MutexGive releases one recursion level of m. On the final release, the
// owner's effective priority is restored to the max of its base priority
// and any other mutex it still holds, and ownership transfers to the
// highest-priority waiter if any.
func (k *Kernel) MutexGive(self TaskID, m MutexID) error {
	mu, err := k.resolveMutex(m)
	if err != nil {
		return err
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return err
	}
	k.EnterCritical()
	defer func() { k.ExitCritical(); k.schedule() }()

	if mu.owner != caller.id {
		return kernelerr.New("MutexGive", kernelerr.ModuleMutex, kernelerr.ESTATE, "caller does not own mutex")
	}
	mu.recursion--
	if mu.recursion > 0 {
		return nil
	}

	removeOwned(&caller.ownedMutexes, mu.id)
	requeue := caller.state == StateReady && caller.inWaitList
	if requeue {
		k.readyRemove(caller.id)
	}
	caller.effPriority = maxPriorityAmong(caller.basePriority, caller.ownedMutexes, k)
	if requeue {
		k.readyEnqueue(caller.id)
	}

	next, ok := k.waitListPopHighest(&mu.waitHead, &mu.waitTail)
	if !ok {
		mu.owner = InvalidTaskID
		mu.recursion = 0
		return nil
	}
	nt := k.tcb(next)
	mu.owner = next
	mu.recursion = 1
	mu.ownerOrig = nt.effPriority
	nt.ownedMutexes = append(nt.ownedMutexes, mu.id)
	k.wake(next, WakeEvent)
	return nil
}

func removeOwned(owned *[]MutexID, m MutexID) {
	for i, id := range *owned {
		if id == m {
			*owned = append((*owned)[:i], (*owned)[i+1:]...)
			return
		}
	}
}

// maxPriorityAmong returns the highest priority among base and the highest
// waiter priority of every mutex still owned, i.e. the effective priority
// a task should fall back to once one inherited mutex is released.
func maxPriorityAmong(base uint8, owned []MutexID, k *Kernel) uint8 {
	best := base
	for _, id := range owned {
		mu, err := k.resolveMutex(id)
		if err != nil || mu.waitHead == InvalidTaskID {
			continue
		}
		if p := k.tcb(mu.waitHead).effPriority; p > best {
			best = p
		}
	}
	return best
}
