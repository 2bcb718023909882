// Package kernelcfg holds the kernel's build-time configuration knobs: one
// struct bundling every tunable, a constructor for sane defaults, and
// nested sub-structs per subsystem.
package kernelcfg

import "github.com/Nikitarc/aasun-kernel/kernelerr"

// TLSFConfig configures the allocator's segregated-fit topology.
type TLSFConfig struct {
	FLIMaxIndex int // First-level index upper bound; largest manageable pool is 2^(FLIMaxIndex+1)-1 bytes
	SLILog2     int // Second-level subclasses per first-level class = 2^SLILog2
	SliceLog2   int // Block granularity is 2^SliceLog2 bytes
}

// DefaultTLSFConfig mirrors aatlsf.c's defaults: FLI_MAX_INDEX=17 (262143
// byte pool), SLI_LOG2=4 (16 subclasses), SLICE_LOG2=3 (8-byte slices).
func DefaultTLSFConfig() TLSFConfig {
	return TLSFConfig{FLIMaxIndex: 17, SLILog2: 4, SliceLog2: 3}
}

// MFSConfig configures the read-only filesystem.
type MFSConfig struct {
	BlockSize uint32 // Power-of-two logical block size, default 512
}

// DefaultMFSConfig returns the default 512-byte block size.
func DefaultMFSConfig() MFSConfig {
	return MFSConfig{BlockSize: 512}
}

// Config bundles every build-time knob the kernel core needs.
type Config struct {
	PriorityCount int // Number of distinct priority levels, 4..256
	TaskMax       int // Maximum concurrently existing tasks
	MutexMax      int
	SemMax        int
	QueueMax      int
	TimerMax      int
	PoolMax       int

	TickHz   uint32 // Periodic tick frequency in Hz
	Tickless bool   // Enable tickless idle

	StackFill uint32 // Fill-pattern word written into new task stacks

	KernelMaxIRQPriority uint32 // Interrupts at/below this priority are masked by the kernel critical section

	TLSF TLSFConfig
	MFS  MFSConfig

	// AssertHandler is invoked for invariant violations. Fatal/noreturn
	// codes are not expected to return from this function; the default
	// implementation logs and panics, since a hosted simulation has no
	// breakpoint instruction to fall back on.
	AssertHandler func(file string, line int, code kernelerr.Code)

	// ReleaseStack reclaims a deleted task's stack buffer.
	ReleaseStack func(stack []byte)

	// Notify reports stack threshold/overflow events.
	Notify func(event NotifyEvent, taskID uint16)
}

// NotifyEvent enumerates the events delivered through Config.Notify.
type NotifyEvent int

const (
	NotifyStackOverflow NotifyEvent = iota + 1
	NotifyStackThreshold
)

// DefaultConfig returns a small but workable configuration suitable for
// tests and cmd/kernelsim.
func DefaultConfig() Config {
	return Config{
		PriorityCount:        32,
		TaskMax:              64,
		MutexMax:             32,
		SemMax:               32,
		QueueMax:             16,
		TimerMax:             16,
		PoolMax:              16,
		TickHz:               1000,
		Tickless:             false,
		StackFill:            0xA5A5A5A5,
		KernelMaxIRQPriority: 0,
		TLSF:                 DefaultTLSFConfig(),
		MFS:                  DefaultMFSConfig(),
	}
}
