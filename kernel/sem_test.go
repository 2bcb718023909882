package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

// TestSemWakeOrderByPriority blocks three tasks of priorities {2, 4, 4} on a
// depleted semaphore and checks that three Gives wake them in
// priority-then-FIFO order: the two priority-4 waiters in their arrival
// order, then the priority-2 waiter.
func TestSemWakeOrderByPriority(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(0, 0)
	require.NoError(t, err)

	x := createTask(t, k, "x", 2)
	y := createTask(t, k, "y", 4)
	z := createTask(t, k, "z", 4)

	require.NoError(t, k.Resume(InvalidTaskID, x))
	require.Equal(t, x, k.Current())
	require.NoError(t, k.SemTake(x, s, InfiniteTimeout))

	require.NoError(t, k.Resume(InvalidTaskID, y))
	require.Equal(t, y, k.Current())
	require.NoError(t, k.SemTake(y, s, InfiniteTimeout))

	require.NoError(t, k.Resume(InvalidTaskID, z))
	require.Equal(t, z, k.Current())
	require.NoError(t, k.SemTake(z, s, InfiniteTimeout))

	sem, err := k.resolveSem(s)
	require.NoError(t, err)
	require.Equal(t, y, sem.waitHead, "higher-priority waiter sorts first")

	require.NoError(t, k.SemGive(s))
	require.Equal(t, y, k.Current(), "idle was running, so the woken highest-priority waiter takes over")
	sem, _ = k.resolveSem(s)
	require.Equal(t, z, sem.waitHead, "same-priority waiters stay FIFO")

	require.NoError(t, k.SemGive(s))
	require.Equal(t, StateReady, k.tcb(z).state, "same priority as running y, so z only becomes ready")
	sem, _ = k.resolveSem(s)
	require.Equal(t, x, sem.waitHead, "lowest-priority waiter is last")

	require.NoError(t, k.SemGive(s))
	require.Equal(t, StateReady, k.tcb(x).state, "lower priority than running y, so x only becomes ready")
	sem, _ = k.resolveSem(s)
	require.Equal(t, InvalidTaskID, sem.waitHead)
}

func TestSemTakeNonBlockingFailsWhenDepleted(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(0, 0)
	require.NoError(t, err)
	a := createTask(t, k, "a", 2)
	require.NoError(t, k.Resume(InvalidTaskID, a))

	err = k.SemTake(a, s, 0)
	require.Error(t, err)

	sem, rerr := k.resolveSem(s)
	require.NoError(t, rerr)
	require.Equal(t, int32(0), sem.count, "failed non-blocking take must not leave count decremented")
}

func TestSemGiveRespectsMax(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(1, 1)
	require.NoError(t, err)

	err = k.SemGive(s)
	require.Error(t, err, "give beyond max must fail")
}

func TestSemFlushWakesAllWithoutConsumingAsGiven(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(0, 0)
	require.NoError(t, err)

	a := createTask(t, k, "a", 3)
	b := createTask(t, k, "b", 5)
	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.NoError(t, k.SemTake(a, s, InfiniteTimeout))
	require.NoError(t, k.Resume(InvalidTaskID, b))
	require.NoError(t, k.SemTake(b, s, InfiniteTimeout))

	require.NoError(t, k.SemFlush(s))
	require.Equal(t, WakeFlush, k.tcb(a).wakeCause)
	require.Equal(t, WakeFlush, k.tcb(b).wakeCause)
	require.Equal(t, StateReady, k.tcb(a).state, "a has the lower priority and stays queued")
	require.Equal(t, b, k.Current(), "b has the higher priority and resumes running")
}

func TestSemResetSetsCountWhenNoWaiters(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(0, 0)
	require.NoError(t, err)

	require.NoError(t, k.SemReset(s, 3))
	sem, rerr := k.resolveSem(s)
	require.NoError(t, rerr)
	require.Equal(t, int32(3), sem.count)
}

func TestSemResetRejectedWhenWaitersPresent(t *testing.T) {
	k := newTestKernel(t)
	s, err := k.SemCreate(0, 0)
	require.NoError(t, err)

	a := createTask(t, k, "a", 2)
	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.NoError(t, k.SemTake(a, s, InfiniteTimeout))

	err = k.SemReset(s, 5)
	require.Error(t, err)
	require.True(t, kernelerr.IsCode(err, kernelerr.ESTATE))

	sem, rerr := k.resolveSem(s)
	require.NoError(t, rerr)
	require.Equal(t, int32(-1), sem.count, "rejected reset must leave count untouched")
	require.Equal(t, a, sem.waitHead, "rejected reset must leave waiters queued")
}
