// Package bsp defines the Board Support Package contract the kernel core
// consumes, and a deterministic simulated implementation used for tests and
// for cmd/kernelsim.
//
// The real contract is a thin synchronous function surface a board brings
// up once at boot: interrupt masking, a request to pend the context-switch
// exception, and tick-hardware programming for tickless operation. Nothing
// in this package knows about NVIC/SysTick registers; a real target
// implements Contract directly against its own BSP.
package bsp

import "github.com/Nikitarc/aasun-kernel/internal/logging"

// IRQState is an opaque token returned by IRQSaveDisable and consumed by the
// matching IRQRestore. Its representation is contract-private.
type IRQState uint32

// Contract is the BSP surface the kernel core consumes: a small function
// list a board wires up once at boot, given here as a single Go interface.
// This package provides only the simulated implementation, Sim.
type Contract interface {
	// IRQSaveDisable masks interrupts up to the kernel's configured max
	// priority and returns the previous state for IRQRestore.
	IRQSaveDisable() IRQState

	// IRQRestore restores the interrupt mask state saved by IRQSaveDisable.
	IRQRestore(state IRQState)

	// IRQEnableAll and IRQDisableAll are used only at kernel init/shutdown,
	// never inside a nested critical section.
	IRQEnableAll()
	IRQDisableAll()

	// RequestContextSwitch pends the low-priority software exception that
	// performs the actual context switch on exception return (or, from
	// inside an ISR, when the outermost ISR returns).
	RequestContextSwitch()

	// TickConfigure programs the periodic tick source at the given
	// frequency.
	TickConfigure(hz uint32)

	// TickStretchUntil reprograms the tick source to fire after delta
	// ticks instead of at the next periodic boundary, for tickless mode.
	TickStretchUntil(delta uint32)

	// CycleCounter returns a free-running cycle counter, used only for
	// optional diagnostics.
	CycleCounter() uint32
}

// Sim is a deterministic, in-process Contract implementation. It never
// touches real hardware: RequestContextSwitch and the tick functions simply
// record that they were called, so tests can assert on scheduling behavior
// without a real exception return.
type Sim struct {
	irqDepth      uint32
	switchCount   uint64
	tickHz        uint32
	stretchDelta  uint32
	cycles        uint32
	logger        *logging.Logger
}

// NewSim creates a simulated BSP contract.
func NewSim() *Sim {
	return &Sim{logger: logging.Default()}
}

func (s *Sim) IRQSaveDisable() IRQState {
	prev := s.irqDepth
	s.irqDepth++
	return IRQState(prev)
}

func (s *Sim) IRQRestore(state IRQState) {
	s.irqDepth = uint32(state)
}

func (s *Sim) IRQEnableAll() {
	s.irqDepth = 0
}

func (s *Sim) IRQDisableAll() {
	s.irqDepth = 1
}

// RequestContextSwitch records that a switch was requested by bumping the
// counter SwitchCount reports; there is no real exception return.
func (s *Sim) RequestContextSwitch() {
	s.switchCount++
	s.logger.Debug("context switch requested", "count", s.switchCount)
}

// SwitchCount reports how many times RequestContextSwitch has been called,
// for test assertions.
func (s *Sim) SwitchCount() uint64 {
	return s.switchCount
}

func (s *Sim) TickConfigure(hz uint32) {
	s.tickHz = hz
	s.logger.Debug("tick source configured", "hz", hz)
}

func (s *Sim) TickStretchUntil(delta uint32) {
	s.stretchDelta = delta
	s.logger.Debug("tick source stretched", "delta", delta)
}

// StretchDelta reports the last tickless stretch requested, for test
// assertions.
func (s *Sim) StretchDelta() uint32 {
	return s.stretchDelta
}

func (s *Sim) CycleCounter() uint32 {
	s.cycles++
	return s.cycles
}

var _ Contract = (*Sim)(nil)
