package kernel

// State is a task's scheduling state .
type State uint8

const (
	StateFree State = iota
	StateReady
	StateRunning
	StateDelayed        // On the delay list, no wait object
	StateSuspended       // Suspended, not on any wait list
	StateWaitingMutex
	StateWaitingSem
	StateWaitingSignal
	StateWaitingQueue
	StateWaitingPool
	StateDeleted // Zombie: deleted while not the running task, pending reap
)

// WakeCause records why a blocked task became ready, for callers that need
// to distinguish "got the resource" from "timed out" from "flushed".
type WakeCause uint8

const (
	WakeNone WakeCause = iota
	WakeEvent
	WakeTimeout
	WakeFlush
	WakeDeleted
)

// TaskFlags are bit flags a task is created with.
type TaskFlags uint8

const (
	TaskFlagNone       TaskFlags = 0
	TaskFlagSuspended  TaskFlags = 1 << 0 // Created already suspended
)

// TaskParams describes a task to be created.
type TaskParams struct {
	Name      string
	Priority  uint8
	Stack     []byte
	Entry     func(arg any)
	Arg       any
	Flags     TaskFlags
	StackFill uint32 // 0 means "use the kernel default"
}

// tcb is one task control block. A tcb is never addressed by pointer outside
// this package: every reference to a task is its TaskID, an index into
// kernel.tasks plus a tag nibble, so stale references fail a tag check
// instead of dereferencing freed memory.
type tcb struct {
	id       TaskID
	inUse    bool
	name     string

	basePriority uint8
	effPriority  uint8
	state        State

	stack       []byte
	stackFill   uint32
	guardLow    uint32
	guardHigh   uint32

	entry func(arg any)
	arg   any
	flags TaskFlags

	// waitPrev/waitNext/inWaitList implement the single "primary" list a
	// task can be linked into: the ready queue for its priority or an
	// object's wait list. A task is in at most one of these at a time; a
	// running or suspended task is in neither.
	waitPrev, waitNext TaskID
	inWaitList         bool

	// delayPrev/delayNext/inDelayList implement the delay list, which a task
	// can be linked into concurrently with the primary list above (e.g.
	// waiting on a mutex with a timeout): at most two lists.
	delayPrev, delayNext TaskID
	inDelayList          bool
	wakeTick             uint32
	hasTimeout           bool

	wakeCause WakeCause

	// Object the task is blocked on, tagged by state; only one is valid at
	// a time, selected by State.
	waitMutex MutexID
	waitSem   SemID
	waitQueue QueueID
	waitPool  PoolID

	waitSignalMask uint16
	waitSignalAnd  bool
	pendingSignals uint16

	queueRecvBuf []byte
	queueRecvLen int

	poolBuf []byte

	ownedMutexes []MutexID // For priority-inheritance restore on release

	suspendRequested bool // Suspend requested while task is in a wait state

	cpuTicks uint64
}

func (t *tcb) effectivePriority() uint8 {
	return t.effPriority
}
