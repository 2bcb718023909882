// Package bumpalloc implements a bump-pointer allocator: memory carved out
// of a fixed arena can never be freed individually, only reclaimed wholesale
// by discarding the whole allocator. In exchange it has no bookkeeping
// overhead per allocation and no fragmentation, which makes it a reasonable
// choice for long-lived, never-freed state such as task control blocks or
// MFS directory caches set up once at boot.
package bumpalloc

import (
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

const align = 8

// Arena is a bump allocator over a caller-supplied backing slice.
type Arena struct {
	mem  []byte
	next uint32
}

// New wraps buf as a bump arena.
func New(buf []byte) *Arena {
	return &Arena{mem: buf}
}

func alignUp(x uint32) uint32 { return (x + align - 1) &^ (align - 1) }

// Alloc returns size bytes, uninitialized, aligned to 8 bytes. size 0
// returns a nil, zero-length slice without consuming arena space.
func (a *Arena) Alloc(size uint32) ([]byte, error) {
	const op = "bumpalloc.Alloc"
	if size == 0 {
		return nil, nil
	}
	aligned := alignUp(size)
	if uint32(len(a.mem))-a.next < aligned {
		return nil, kernelerr.New(op, kernelerr.ModulePool, kernelerr.EMEMORY, "arena exhausted")
	}
	block := a.mem[a.next : a.next+size : a.next+aligned]
	a.next += aligned
	return block, nil
}

// Free reports how many bytes remain available.
func (a *Arena) Free() uint32 {
	return uint32(len(a.mem)) - a.next
}

// Reset discards every allocation made so far, making the whole arena
// available again. Any slice returned by a prior Alloc must not be used
// after Reset.
func (a *Arena) Reset() {
	a.next = 0
}
