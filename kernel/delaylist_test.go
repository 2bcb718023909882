package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDelayListOrdersByWakeTick(t *testing.T) {
	k := newTestKernel(t)
	a := createTask(t, k, "a", 2)
	b := createTask(t, k, "b", 2)
	c := createTask(t, k, "c", 2)

	k.delayInsert(a, 30)
	k.delayInsert(b, 10)
	k.delayInsert(c, 20)

	var order []TaskID
	for cur := k.delayHead; cur != InvalidTaskID; cur = k.tcb(cur).delayNext {
		order = append(order, cur)
	}
	require.Equal(t, []TaskID{b, c, a}, order)
}

// TestDelayListToleratesTickWraparound checks that wake-tick comparisons use
// a signed delta, so a wake tick just past the uint32 wraparound point still
// sorts ahead of one just before it.
func TestDelayListToleratesTickWraparound(t *testing.T) {
	k := newTestKernel(t)
	a := createTask(t, k, "a", 2)
	b := createTask(t, k, "b", 2)

	k.tickCount = 0xFFFFFFF0
	k.delayInsert(a, 0xFFFFFFF5)  // due soon, before wraparound
	k.delayInsert(b, 0x00000005)  // due after wraparound, but later in absolute tick time

	require.Equal(t, a, k.delayHead)
	require.Equal(t, b, k.delayTail)
}

func TestDelayRemoveUnlinksMidList(t *testing.T) {
	k := newTestKernel(t)
	a := createTask(t, k, "a", 2)
	b := createTask(t, k, "b", 2)
	c := createTask(t, k, "c", 2)
	k.delayInsert(a, 10)
	k.delayInsert(b, 20)
	k.delayInsert(c, 30)

	k.delayRemove(b)

	require.Equal(t, a, k.delayHead)
	require.Equal(t, c, k.delayTail)
	require.Equal(t, c, k.tcb(a).delayNext)
	require.Equal(t, a, k.tcb(c).delayPrev)
	require.False(t, k.tcb(b).inDelayList)
}

// TestTickAbandonsObjectWaitOnTimeout checks the cross-list interaction: a
// task timing out on a semaphore wait is unlinked from the semaphore's wait
// list, not just the delay list, so the semaphore's bookkeeping does not
// leak a stale waiter.
func TestTickAbandonsObjectWaitOnTimeout(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(0, 0)
	require.NoError(t, err)
	a := createTask(t, k, "a", 2)
	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.NoError(t, k.SemTake(a, s, 2))

	k.Tick()
	sem, rerr := k.resolveSem(s)
	require.NoError(t, rerr)
	require.Equal(t, a, sem.waitHead, "not due yet")

	k.Tick()
	sem, rerr = k.resolveSem(s)
	require.NoError(t, rerr)
	require.Equal(t, InvalidTaskID, sem.waitHead, "timed-out waiter is unlinked from the semaphore too")
	require.Equal(t, WakeTimeout, k.tcb(a).wakeCause)
}
