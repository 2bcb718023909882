package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nikitarc/aasun-kernel/bsp"
	"github.com/Nikitarc/aasun-kernel/kernelcfg"
)

func TestPriorityBitmapHighest(t *testing.T) {
	b := newPriorityBitmap(40)
	_, ok := b.highest()
	require.False(t, ok)

	b.set(3)
	b.set(35)
	hi, ok := b.highest()
	require.True(t, ok)
	require.Equal(t, 35, hi)

	b.clear(35)
	hi, ok = b.highest()
	require.True(t, ok)
	require.Equal(t, 3, hi)
}

func TestReadyQueueFIFOWithinPriority(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.TaskCreate(TaskParams{Name: "a", Priority: 4, Flags: TaskFlagSuspended})
	b, _ := k.TaskCreate(TaskParams{Name: "b", Priority: 4, Flags: TaskFlagSuspended})
	c, _ := k.TaskCreate(TaskParams{Name: "c", Priority: 4, Flags: TaskFlagSuspended})

	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.NoError(t, k.Resume(InvalidTaskID, b))
	require.NoError(t, k.Resume(InvalidTaskID, c))

	// a runs first (same priority as idle's superior, enters running slot);
	// b and c queue behind it in arrival order.
	require.Equal(t, a, k.Current())
	require.Equal(t, b, k.readyHead[4])
	require.Equal(t, c, k.readyTail[4])
}

func TestScheduleRequestsContextSwitchOnlyWhenNeeded(t *testing.T) {
	cfg := kernelcfg.DefaultConfig()
	cfg.PriorityCount = 8
	cfg.TaskMax = 16
	sim := bsp.NewSim()
	k := New(cfg, sim)

	before := sim.SwitchCount()
	a, _ := k.TaskCreate(TaskParams{Name: "a", Priority: 3})
	require.Greater(t, sim.SwitchCount(), before)

	afterCreate := sim.SwitchCount()
	require.NoError(t, k.TaskSetPriority(InvalidTaskID, a, 3))
	require.Equal(t, afterCreate, sim.SwitchCount(), "no-op priority change must not request a switch")
}
