// Package kerneltest provides small test doubles for the suites in test/
// (the kernel package's own tests use their own helpers): a kernel builder
// wired to a deterministic BSP, and a block reader that counts calls the
// same way the ublk mock backend tracked reads/writes/flushes.
package kerneltest

import (
	"sync"

	"github.com/Nikitarc/aasun-kernel/backend"
	"github.com/Nikitarc/aasun-kernel/bsp"
	"github.com/Nikitarc/aasun-kernel/kernel"
	"github.com/Nikitarc/aasun-kernel/kernelcfg"
)

// NewKernel builds a kernel over a fresh bsp.Sim, returning both so tests
// can assert on simulated BSP activity (switch counts, tick programming)
// alongside kernel state.
func NewKernel(cfg kernelcfg.Config) (*kernel.Kernel, *bsp.Sim) {
	sim := bsp.NewSim()
	return kernel.New(cfg, sim), sim
}

// FakeBlockReader wraps a backend.Memory image and counts ReadAt calls, so
// MFS tests can assert on access patterns (e.g. that OpenDir does not
// re-read blocks it has already consumed) without inspecting the
// filesystem's internals.
type FakeBlockReader struct {
	mem *backend.Memory

	mu        sync.Mutex
	readCalls int
}

// NewFakeBlockReader wraps an existing image without copying it.
func NewFakeBlockReader(image []byte) *FakeBlockReader {
	return &FakeBlockReader{mem: backend.NewMemoryFromImage(image)}
}

func (f *FakeBlockReader) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	f.readCalls++
	f.mu.Unlock()
	return f.mem.ReadAt(p, off)
}

// ReadCalls reports how many times ReadAt has been called.
func (f *FakeBlockReader) ReadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

// Reset zeroes the call counter without touching the backing image.
func (f *FakeBlockReader) Reset() {
	f.mu.Lock()
	f.readCalls = 0
	f.mu.Unlock()
}
