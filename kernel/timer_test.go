package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimerOneShotFiresOnceAtDueTick(t *testing.T) {
	k := newTestKernel(t)
	fires := 0
	tm, err := k.TimerCreate(0, func(arg any) { fires++ }, nil)
	require.NoError(t, err)
	require.NoError(t, k.TimerStart(tm, 3))

	for i := 0; i < 2; i++ {
		k.Tick()
	}
	require.Equal(t, 0, fires, "must not fire before its due tick")

	k.Tick()
	require.Equal(t, 1, fires)

	for i := 0; i < 5; i++ {
		k.Tick()
	}
	require.Equal(t, 1, fires, "one-shot timer never re-arms")
}

func TestTimerPeriodicReArms(t *testing.T) {
	k := newTestKernel(t)
	fires := 0
	tm, err := k.TimerCreate(2, func(arg any) { fires++ }, nil)
	require.NoError(t, err)
	require.NoError(t, k.TimerStart(tm, 2))

	for i := 0; i < 6; i++ {
		k.Tick()
	}
	require.Equal(t, 3, fires, "fires at tick 2, 4, and 6")
}

func TestTimerStopPreventsFiring(t *testing.T) {
	k := newTestKernel(t)
	fires := 0
	tm, err := k.TimerCreate(0, func(arg any) { fires++ }, nil)
	require.NoError(t, err)
	require.NoError(t, k.TimerStart(tm, 2))
	require.NoError(t, k.TimerStop(tm))

	for i := 0; i < 5; i++ {
		k.Tick()
	}
	require.Equal(t, 0, fires)
}

// TestTimerFireOrderFollowsDueTick plants timers out of creation order and
// checks they fire in dueTick order, which only holds if they are kept on a
// list ordered by dueTick rather than scanned in table/creation order.
func TestTimerFireOrderFollowsDueTick(t *testing.T) {
	k := newTestKernel(t)
	var order []string

	late, err := k.TimerCreate(0, func(arg any) { order = append(order, "late") }, nil)
	require.NoError(t, err)
	mid, err := k.TimerCreate(0, func(arg any) { order = append(order, "mid") }, nil)
	require.NoError(t, err)
	early, err := k.TimerCreate(0, func(arg any) { order = append(order, "early") }, nil)
	require.NoError(t, err)

	require.NoError(t, k.TimerStart(late, 5))
	require.NoError(t, k.TimerStart(mid, 3))
	require.NoError(t, k.TimerStart(early, 1))

	for i := 0; i < 5; i++ {
		k.Tick()
	}
	require.Equal(t, []string{"early", "mid", "late"}, order)
	require.Equal(t, InvalidTimerID, k.timerHead, "list must be empty once every one-shot timer has fired")
}

func TestTimerDeleteFreesSlot(t *testing.T) {
	k := newTestKernel(t)
	before := len(k.freeTimers)
	tm, err := k.TimerCreate(0, func(arg any) {}, nil)
	require.NoError(t, err)
	require.Equal(t, before-1, len(k.freeTimers))

	require.NoError(t, k.TimerDelete(tm))
	require.Equal(t, before, len(k.freeTimers))
}
