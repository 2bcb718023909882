package kernel

import (
	"encoding/binary"

	"github.com/Nikitarc/aasun-kernel/kernelcfg"
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

const stackGuardWords = 2 // Words reserved at each end of the stack for overflow detection

// TaskCreate allocates a TCB, fills the stack with the configured pattern
// for later high-water-mark and overflow checks, and makes the task ready
// (unless created with TaskFlagSuspended). Failure modes:
// an empty free-task list is EDEPLETED, a priority outside
// [0, PriorityCount) is EARG.
func (k *Kernel) TaskCreate(p TaskParams) (TaskID, error) {
	if int(p.Priority) >= k.cfg.PriorityCount {
		return InvalidTaskID, kernelerr.New("TaskCreate", kernelerr.ModuleTask, kernelerr.EARG, "priority out of range")
	}
	if len(k.freeTasks) == 0 {
		return InvalidTaskID, kernelerr.New("TaskCreate", kernelerr.ModuleTask, kernelerr.EDEPLETED, "task table full")
	}
	idx := k.freeTasks[len(k.freeTasks)-1]
	k.freeTasks = k.freeTasks[:len(k.freeTasks)-1]

	fill := p.StackFill
	if fill == 0 {
		fill = k.cfg.StackFill
	}
	if len(p.Stack) > 0 {
		fillStack(p.Stack, fill)
	}

	t := &k.tasks[idx]
	*t = tcb{
		id:           TaskID(makeHandle(tagTask, idx)),
		inUse:        true,
		name:         p.Name,
		basePriority: p.Priority,
		effPriority:  p.Priority,
		state:        StateSuspended,
		stack:        p.Stack,
		stackFill:    fill,
		entry:        p.Entry,
		arg:          p.Arg,
		flags:        p.Flags,
		waitPrev:     InvalidTaskID,
		waitNext:     InvalidTaskID,
		delayPrev:    InvalidTaskID,
		delayNext:    InvalidTaskID,
		waitMutex:    InvalidMutexID,
		waitSem:      InvalidSemID,
		waitQueue:    InvalidQueueID,
		waitPool:     InvalidPoolID,
	}

	if p.Flags&TaskFlagSuspended == 0 {
		k.readyEnqueue(t.id)
		k.schedule()
	}
	return t.id, nil
}

func fillStack(stack []byte, pattern uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], pattern)
	for i := 0; i+4 <= len(stack); i += 4 {
		copy(stack[i:i+4], buf[:])
	}
}

// stackHighWaterMark returns the count of untouched fill-pattern bytes from
// the low (guard) end of the stack, a cheap proxy for remaining headroom.
func stackHighWaterMark(stack []byte, pattern uint32) int {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], pattern)
	n := 0
	for i := 0; i+4 <= len(stack); i += 4 {
		if stack[i] != buf[0] || stack[i+1] != buf[1] || stack[i+2] != buf[2] || stack[i+3] != buf[3] {
			break
		}
		n += 4
	}
	return n
}

// CheckStack reports whether task id's stack has been touched all the way
// to its guard region, and notifies Config.Notify when so configured.
func (k *Kernel) CheckStack(self, id TaskID) (headroom int, overflow bool, err error) {
	t, rerr := k.resolveTask(self, id)
	if rerr != nil {
		return 0, false, rerr
	}
	headroom = stackHighWaterMark(t.stack, t.stackFill)
	overflow = len(t.stack) > 0 && headroom < stackGuardWords*4
	if overflow {
		k.logger.Warn("stack overflow detected", "task", t.id, "headroom", headroom)
		if k.cfg.Notify != nil {
			k.cfg.Notify(kernelcfg.NotifyStackOverflow, uint16(t.id))
		}
	}
	return headroom, overflow, nil
}

// TaskDelete removes a task from every list it participates in and returns
// its slot to the free list. Deleting the running task schedules a
// replacement before returning to the (now former) caller. Stack release
// is delegated to Config.ReleaseStack, the caller owns
// stack memory.
func (k *Kernel) TaskDelete(self, id TaskID) error {
	t, err := k.resolveTask(self, id)
	if err != nil {
		return err
	}
	if t.id == k.idleTask {
		return kernelerr.New("TaskDelete", kernelerr.ModuleTask, kernelerr.ESTATE, "idle task cannot be deleted")
	}

	k.EnterCritical()
	if t.inWaitList {
		if t.state == StateReady {
			k.readyRemove(t.id)
		} else {
			k.abandonObjectWait(t.id)
		}
	}
	if t.inDelayList {
		k.delayRemove(t.id)
	}
	wasRunning := t.id == k.current
	if wasRunning {
		k.current = InvalidTaskID
	}

	stack := t.stack
	*t = tcb{id: t.id}
	k.freeTasks = append(k.freeTasks, handleIndex(uint16(t.id)))
	k.ExitCritical()

	if k.cfg.ReleaseStack != nil && len(stack) > 0 {
		k.cfg.ReleaseStack(stack)
	}
	k.schedule()
	return nil
}

// TaskSetPriority updates base_priority. If the task holds no
// priority-inherited mutex (effective == base), effective_priority is also
// updated and the task is re-homed in the ready-set; otherwise the change
// is deferred until the inherited mutex is released.
func (k *Kernel) TaskSetPriority(self, id TaskID, newBase uint8) error {
	if int(newBase) >= k.cfg.PriorityCount {
		return kernelerr.New("TaskSetPriority", kernelerr.ModuleTask, kernelerr.EARG, "priority out of range")
	}
	t, err := k.resolveTask(self, id)
	if err != nil {
		return err
	}

	k.EnterCritical()
	inherited := t.effPriority != t.basePriority
	t.basePriority = newBase
	if !inherited {
		if t.state == StateReady && t.inWaitList {
			k.readyRemove(t.id)
			t.effPriority = newBase
			k.readyEnqueue(t.id)
		} else {
			t.effPriority = newBase
		}
	}
	k.ExitCritical()
	k.schedule()
	return nil
}

// Suspend moves a ready or running task out of the ready set without
// releasing any resource it holds. A task already blocked on a delay or
// object wait records the request and is not moved until it would next
// become ready: suspension is orthogonal to waiting, not an alternative to
// it, so a timed wait keeps ticking down while suspended.
func (k *Kernel) Suspend(self, id TaskID) error {
	t, err := k.resolveTask(self, id)
	if err != nil {
		return err
	}
	k.EnterCritical()
	switch t.state {
	case StateReady:
		k.readyRemove(t.id)
		t.state = StateSuspended
	case StateRunning:
		t.state = StateSuspended
	default:
		t.suspendRequested = true
	}
	k.ExitCritical()
	k.schedule()
	return nil
}

// Resume clears a suspend request or, if the task was fully suspended,
// makes it ready again.
func (k *Kernel) Resume(self, id TaskID) error {
	t, err := k.resolveTask(self, id)
	if err != nil {
		return err
	}
	k.EnterCritical()
	if t.suspendRequested {
		t.suspendRequested = false
	} else if t.state == StateSuspended {
		k.readyEnqueue(t.id)
	}
	k.ExitCritical()
	k.schedule()
	return nil
}
