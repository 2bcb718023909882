package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nikitarc/aasun-kernel/bsp"
	"github.com/Nikitarc/aasun-kernel/kernelcfg"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	cfg := kernelcfg.DefaultConfig()
	cfg.PriorityCount = 8
	cfg.TaskMax = 16
	return New(cfg, bsp.NewSim())
}

func createTask(t *testing.T, k *Kernel, name string, prio uint8) TaskID {
	t.Helper()
	id, err := k.TaskCreate(TaskParams{Name: name, Priority: prio, Flags: TaskFlagSuspended})
	require.NoError(t, err)
	return id
}

func TestNewKernelHasIdleRunning(t *testing.T) {
	k := newTestKernel(t)
	require.Equal(t, k.idleTask, k.Current())
}

func TestTaskCreateRunsHighestPriority(t *testing.T) {
	k := newTestKernel(t)
	low := createTask(t, k, "low", 1)
	require.NoError(t, k.Resume(InvalidTaskID, low))
	require.Equal(t, low, k.Current())

	high, err := k.TaskCreate(TaskParams{Name: "high", Priority: 5})
	require.NoError(t, err)
	require.Equal(t, high, k.Current())
}

func TestTaskSetPriorityReHomesReadyTask(t *testing.T) {
	k := newTestKernel(t)
	a := createTask(t, k, "a", 2)
	b := createTask(t, k, "b", 2)
	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.NoError(t, k.Resume(InvalidTaskID, b))

	require.NoError(t, k.TaskSetPriority(InvalidTaskID, b, 6))
	require.Equal(t, b, k.Current())
}

func TestTaskDeleteFreesSlot(t *testing.T) {
	k := newTestKernel(t)
	before := len(k.freeTasks)
	id := createTask(t, k, "doomed", 3)
	require.Equal(t, before-1, len(k.freeTasks))

	require.NoError(t, k.TaskDelete(InvalidTaskID, id))
	require.Equal(t, before, len(k.freeTasks))
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	a := createTask(t, k, "a", 3)
	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.Equal(t, a, k.Current())

	require.NoError(t, k.Suspend(InvalidTaskID, a))
	require.Equal(t, k.idleTask, k.Current())

	require.NoError(t, k.Resume(InvalidTaskID, a))
	require.Equal(t, a, k.Current())
}
