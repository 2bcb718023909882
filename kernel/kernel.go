// Package kernel implements the preemptive priority-based real-time kernel
// core: the scheduler and ready-set, task lifecycle, the delay list and
// tick handling, and the mutex/semaphore/queue/signal/buffer-pool
// primitives built on top of them.
//
// The package never starts a real goroutine per task: a Kernel is a
// deterministic state machine driven by explicit calls from the embedding
// simulation (cmd/kernelsim) or from tests, the same way the reference
// kernel is driven by real interrupts and a cooperative scheduler on bare
// metal. Every primitive takes the calling task's TaskID explicitly instead
// of reading it from a "current CPU" pointer, since there is no real
// concurrent execution context to read it from.
package kernel

import (
	"runtime"

	"github.com/Nikitarc/aasun-kernel/bsp"
	"github.com/Nikitarc/aasun-kernel/internal/logging"
	"github.com/Nikitarc/aasun-kernel/internal/metrics"
	"github.com/Nikitarc/aasun-kernel/kernelcfg"
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

// Kernel is the aggregate kernel instance: one value bundling configuration,
// BSP contract and every object table, created once by New and driven by
// the caller.
type Kernel struct {
	cfg    kernelcfg.Config
	bsp    bsp.Contract
	logger *logging.Logger
	Metrics *metrics.Metrics

	tasks     []tcb
	freeTasks []int

	readyBitmap      priorityBitmap
	readyHead        []TaskID
	readyTail        []TaskID
	current          TaskID
	idleTask         TaskID
	schedLockDepth   int
	schedPending     bool

	tickCount            uint32
	delayHead, delayTail TaskID

	irqNesting  uint32
	critDepth   uint32
	critState   bsp.IRQState

	mutexes     []mutexObj
	freeMutexes []int
	sems        []semObj
	freeSems    []int
	queues      []queueObj
	freeQueues  []int
	timers               []timerObj
	freeTimers           []int
	timerHead, timerTail TimerID
	pools                []poolObj
	freePools            []int
}

// New builds a Kernel from cfg and contract, with all object tables
// preallocated to their configured maxima: no dynamic growth at runtime.
func New(cfg kernelcfg.Config, contract bsp.Contract) *Kernel {
	if cfg.AssertHandler == nil {
		cfg.AssertHandler = defaultAssertHandler
	}
	k := &Kernel{
		cfg:     cfg,
		bsp:     contract,
		logger:  logging.Default(),
		Metrics: metrics.New(),

		tasks:     make([]tcb, cfg.TaskMax),
		readyBitmap: newPriorityBitmap(cfg.PriorityCount),
		readyHead: make([]TaskID, cfg.PriorityCount),
		readyTail: make([]TaskID, cfg.PriorityCount),
		current:   InvalidTaskID,
		idleTask:  InvalidTaskID,

		delayHead: InvalidTaskID,
		delayTail: InvalidTaskID,
		timerHead: InvalidTimerID,
		timerTail: InvalidTimerID,

		mutexes: make([]mutexObj, cfg.MutexMax),
		sems:    make([]semObj, cfg.SemMax),
		queues:  make([]queueObj, cfg.QueueMax),
		timers:  make([]timerObj, cfg.TimerMax),
		pools:   make([]poolObj, cfg.PoolMax),
	}
	for p := range k.readyHead {
		k.readyHead[p] = InvalidTaskID
		k.readyTail[p] = InvalidTaskID
	}
	for i := cfg.TaskMax - 1; i >= 0; i-- {
		k.freeTasks = append(k.freeTasks, i)
	}
	for i := cfg.MutexMax - 1; i >= 0; i-- {
		k.freeMutexes = append(k.freeMutexes, i)
	}
	for i := cfg.SemMax - 1; i >= 0; i-- {
		k.freeSems = append(k.freeSems, i)
	}
	for i := cfg.QueueMax - 1; i >= 0; i-- {
		k.freeQueues = append(k.freeQueues, i)
	}
	for i := cfg.TimerMax - 1; i >= 0; i-- {
		k.freeTimers = append(k.freeTimers, i)
	}
	for i := cfg.PoolMax - 1; i >= 0; i-- {
		k.freePools = append(k.freePools, i)
	}

	idle, err := k.TaskCreate(TaskParams{Name: "idle", Priority: 0})
	if err != nil {
		k.assert(kernelerr.EDEPLETED)
	}
	// TaskCreate's own schedule() call already picked idle as current,
	// since it was the only ready task at that point.
	k.idleTask = idle

	k.bsp.TickConfigure(cfg.TickHz)
	return k
}

func defaultAssertHandler(file string, line int, code kernelerr.Code) {
	logging.Default().Errorf("kernel assert failed at %s:%d: %s", file, line, code)
	panic(kernelerr.New("assert", kernelerr.ModuleKernel, code, "kernel invariant violation"))
}

// assert reports an invariant violation at the call site one level up from
// here, via runtime.Caller, so AssertHandler gets the file:line of the
// actual violated invariant instead of a hardcoded string.
func (k *Kernel) assert(code kernelerr.Code) {
	_, file, line, _ := runtime.Caller(1)
	k.logger.Error("kernel invariant violated", "file", file, "line", line, "code", code)
	k.cfg.AssertHandler(file, line, code)
}

// tcb resolves a TaskID to its control block. Callers within the package
// only ever call this after validating the handle's tag with resolveTask,
// except for the idle task and current-task bookkeeping set up by New.
func (k *Kernel) tcb(id TaskID) *tcb {
	return &k.tasks[handleIndex(uint16(id))]
}

// resolveTask validates a TaskID's tag and live/in-use bit, resolving
// SelfTaskID against the caller-supplied self.
func (k *Kernel) resolveTask(self, id TaskID) (*tcb, error) {
	if id == SelfTaskID {
		id = self
	}
	if !id.isTask() {
		return nil, kernelerr.New("resolveTask", kernelerr.ModuleTask, kernelerr.EARG, "handle is not a task")
	}
	idx := handleIndex(uint16(id))
	if idx < 0 || idx >= len(k.tasks) || !k.tasks[idx].inUse || k.tasks[idx].id != id {
		return nil, kernelerr.New("resolveTask", kernelerr.ModuleTask, kernelerr.EARG, "stale or unknown task handle")
	}
	return &k.tasks[idx], nil
}

// Current returns the task the scheduler currently considers running.
func (k *Kernel) Current() TaskID {
	return k.current
}

// EnterCritical masks interrupts up to the kernel's configured max IRQ
// priority. Critical sections nest: only the outermost call touches the
// BSP.
func (k *Kernel) EnterCritical() {
	if k.critDepth == 0 {
		k.critState = k.bsp.IRQSaveDisable()
		k.logger.Debug("enter critical section")
	}
	k.critDepth++
}

// ExitCritical unwinds one nesting level, restoring interrupts on the
// outermost exit.
func (k *Kernel) ExitCritical() {
	k.critDepth--
	if k.critDepth == 0 {
		k.bsp.IRQRestore(k.critState)
		k.logger.Debug("exit critical section")
	}
}

// EnterISR marks entry into interrupt context, forbidding blocking
// primitives until the matching ExitISR.
func (k *Kernel) EnterISR() {
	k.irqNesting++
	if k.irqNesting == 1 {
		k.logger.Debug("enter ISR context")
	}
}

// ExitISR marks exit from interrupt context. On the outermost exit it
// performs any reschedule that ISR-safe primitives deferred while nested.
func (k *Kernel) ExitISR() {
	k.irqNesting--
	if k.irqNesting == 0 {
		k.logger.Debug("exit ISR context")
		k.schedule()
	}
}

func (k *Kernel) inISR() bool {
	return k.irqNesting > 0
}

func errNotAllowedFromISR(op string, mod kernelerr.Module) error {
	return kernelerr.New(op, mod, kernelerr.ENOTALLOWED, "blocking primitive forbidden from ISR context")
}
