// Package tlsf implements a two-level segregated fit dynamic memory
// allocator over a fixed backing arena. Every operation locates a fit with
// a constant number of bitmap scans instead of walking a free list, so
// Alloc/Free/Realloc run in bounded time regardless of fragmentation,
// which is the property that makes dynamic allocation usable inside a
// real-time kernel at all.
package tlsf

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/Nikitarc/aasun-kernel/internal/logging"
	"github.com/Nikitarc/aasun-kernel/kernelcfg"
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

const (
	fliOffset   = 6  // first-level class 0 covers blocks below smallBlock = 2^(fliOffset+1)
	smallBlock  = 128
	minSize     = 16 // smallest allocable block, header included
	headerSize  = 4  // control word; the free-list links share the payload area
	freeLinkLen = 8  // next/prev slice offsets, valid only while the block is free
)

// packedHeader is a block's leading control word: 15 bits of physical
// previous-block size (in slices), a free flag, 15 bits of this block's
// size (in slices), and a last-block flag. Go has no bitfields, so the
// layout is packed and unpacked by hand instead of declared as a struct.
type packedHeader uint32

var _ [4]byte = [unsafe.Sizeof(packedHeader(0))]byte{}

const (
	prevOffsetMask = 1<<15 - 1
	freeFlagShift  = 15
	sizeSliceShift = 16
	sizeSliceMask  = 1<<15 - 1
	lastFlagShift  = 31
)

func packHeader(prevOffset uint32, free bool, sizeSlice uint32, last bool) packedHeader {
	w := (prevOffset & prevOffsetMask) | (sizeSlice&sizeSliceMask)<<sizeSliceShift
	if free {
		w |= 1 << freeFlagShift
	}
	if last {
		w |= 1 << lastFlagShift
	}
	return packedHeader(w)
}

func (h packedHeader) prevOffset() uint32 { return uint32(h) & prevOffsetMask }
func (h packedHeader) free() bool         { return uint32(h)&(1<<freeFlagShift) != 0 }
func (h packedHeader) sizeSlice() uint32  { return (uint32(h) >> sizeSliceShift) & sizeSliceMask }
func (h packedHeader) last() bool         { return uint32(h)&(1<<lastFlagShift) != 0 }

// Pool is one TLSF-managed arena. It never grows: New carves the whole
// backing slice once, and every subsequent call runs in bounded time. Pool
// is safe for concurrent use; every public method takes the pool's own
// mutex.
type Pool struct {
	mu     sync.Mutex
	logger *logging.Logger

	arena     []byte
	sliceLog2 uint
	sliLog2   uint
	fliCount  int
	sliCount  int

	flBitmap uint32
	slBitmap []uint32   // [fliCount]
	table    [][]uint32 // [fliCount][sliCount], slice offsets; 0 means empty

	memLast    int // byte offset of the last physical block
	allocCount uint32
	size       uint32
	used       uint32
}

// New creates a pool that manages the entirety of arena as one free block.
func New(cfg kernelcfg.TLSFConfig, arena []byte) (*Pool, error) {
	if cfg.SliceLog2 < 2 {
		return nil, kernelerr.New("tlsf.New", kernelerr.ModuleTLSF, kernelerr.EARG, "slice granularity too small")
	}
	fliCount := cfg.FLIMaxIndex - fliOffset + 1
	if fliCount <= 0 || cfg.SLILog2 <= 0 {
		return nil, kernelerr.New("tlsf.New", kernelerr.ModuleTLSF, kernelerr.EARG, "invalid pool topology")
	}
	if len(arena) < minSize {
		return nil, kernelerr.New("tlsf.New", kernelerr.ModuleTLSF, kernelerr.EARG, "arena too small")
	}

	p := &Pool{
		logger:    logging.Default(),
		arena:     arena,
		sliceLog2: uint(cfg.SliceLog2),
		sliLog2:   uint(cfg.SLILog2),
		fliCount:  fliCount,
		sliCount:  1 << cfg.SLILog2,
		slBitmap:  make([]uint32, fliCount),
		table:     make([][]uint32, fliCount),
	}
	for i := range p.table {
		p.table[i] = make([]uint32, p.sliCount)
	}

	maxSize := uint32(1<<(uint(cfg.FLIMaxIndex)+1)) - 1
	size := roundDown(len(arena), 1<<p.sliceLog2)
	if size > maxSize {
		size = roundDown(int(maxSize), 1<<p.sliceLog2)
	}
	sizeSlice := size >> p.sliceLog2

	p.setHeaderAt(0, packHeader(0, true, sizeSlice, true))
	p.memLast = 0
	p.size = size
	p.insertBlock(0)
	p.logger.Debug("tlsf pool created", "size", size, "fli_count", fliCount, "sli_count", p.sliCount)
	return p, nil
}

func roundUp(x, align uint32) uint32    { return (x + align - 1) &^ (align - 1) }
func roundDown(x, align int) uint32     { return uint32(x) &^ uint32(align-1) }

func msBit(w uint32) uint { return uint(bits.Len32(w)) - 1 }
func lsBit(w uint32) int  { return bits.TrailingZeros32(w) }

func (p *Pool) sliceOffset(off int) uint32   { return uint32(off>>p.sliceLog2) + 1 }
func (p *Pool) fromSliceOffset(s uint32) int { return int(s-1) << p.sliceLog2 }

func (p *Pool) headerAt(off int) packedHeader {
	return packedHeader(binary.LittleEndian.Uint32(p.arena[off : off+4]))
}

func (p *Pool) setHeaderAt(off int, h packedHeader) {
	binary.LittleEndian.PutUint32(p.arena[off:off+4], uint32(h))
}

func (p *Pool) setPrevOffsetField(off int, prevOffset uint32) {
	h := p.headerAt(off)
	p.setHeaderAt(off, packHeader(prevOffset, h.free(), h.sizeSlice(), h.last()))
}

func (p *Pool) nextFreeOffset(off int) uint32 {
	return binary.LittleEndian.Uint32(p.arena[off+4 : off+8])
}
func (p *Pool) setNextFreeOffset(off int, v uint32) {
	binary.LittleEndian.PutUint32(p.arena[off+4:off+8], v)
}
func (p *Pool) prevFreeOffset(off int) uint32 {
	return binary.LittleEndian.Uint32(p.arena[off+8 : off+12])
}
func (p *Pool) setPrevFreeOffset(off int, v uint32) {
	binary.LittleEndian.PutUint32(p.arena[off+8:off+12], v)
}

// getNextBlockOff returns the byte offset of the block physically
// following off, or -1 if off is the pool's last block.
func (p *Pool) getNextBlockOff(off int) int {
	h := p.headerAt(off)
	if h.last() {
		return -1
	}
	return off + int(h.sizeSlice())<<p.sliceLog2
}

// getPrevBlockOff returns the byte offset of the block physically
// preceding off, or -1 if off is the pool's first block.
func (p *Pool) getPrevBlockOff(off int) int {
	h := p.headerAt(off)
	if h.prevOffset() == 0 {
		return -1
	}
	return off - int(h.prevOffset())<<p.sliceLog2
}

func (p *Pool) getMapping(size uint32) (fli, sli int) {
	if size < smallBlock {
		return 0, int(size / (smallBlock >> p.sliLog2))
	}
	f := msBit(size)
	s := int((size >> (f - p.sliLog2)) - (1 << p.sliLog2))
	return int(f) - fliOffset, s
}

// insertBlock links the free block at off into its size class's free list
// and its two bitmaps.
func (p *Pool) insertBlock(off int) {
	h := p.headerAt(off)
	fli, sli := p.getMapping(h.sizeSlice() << p.sliceLog2)

	head := p.table[fli][sli]
	p.setNextFreeOffset(off, head)
	p.setPrevFreeOffset(off, 0)
	if head != 0 {
		p.setPrevFreeOffset(p.fromSliceOffset(head), p.sliceOffset(off))
	}
	p.table[fli][sli] = p.sliceOffset(off)

	p.setHeaderAt(off, packHeader(h.prevOffset(), true, h.sizeSlice(), h.last()))
	p.flBitmap |= 1 << uint(fli)
	p.slBitmap[fli] |= 1 << uint(sli)
}

// removeBlock unlinks the free block at off, which must belong to class
// (fli, sli), from its free list and clears the bitmaps if it was the last
// member of its class.
func (p *Pool) removeBlock(off int, fli, sli int) {
	next := p.nextFreeOffset(off)
	prev := p.prevFreeOffset(off)
	if next != 0 {
		p.setPrevFreeOffset(p.fromSliceOffset(next), prev)
	}
	if prev != 0 {
		p.setNextFreeOffset(p.fromSliceOffset(prev), next)
	}
	if p.table[fli][sli] == p.sliceOffset(off) {
		p.table[fli][sli] = next
	}
	if next == 0 {
		p.slBitmap[fli] &^= 1 << uint(sli)
		if p.slBitmap[fli] == 0 {
			p.flBitmap &^= 1 << uint(fli)
		}
	}
}

// removeRemainder splits overSize trailing bytes off the block at off into
// their own free block, coalescing with the physical next block first if
// it is already free (two adjacent free blocks would otherwise violate the
// invariant Check relies on).
func (p *Pool) removeRemainder(off int, overSize uint32) {
	h := p.headerAt(off)
	oldSizeSlice := h.sizeSlice()
	blockSizeBytes := oldSizeSlice<<p.sliceLog2 - overSize
	overSlices := overSize >> p.sliceLog2

	remOff := off + int(blockSizeBytes)
	remSizeSlice := overSlices
	remLast := h.last()
	remPrevOffset := oldSizeSlice - overSlices

	if !remLast {
		nextOff := off + int(oldSizeSlice)<<p.sliceLog2
		p.setPrevOffsetField(nextOff, remSizeSlice)
		nh := p.headerAt(nextOff)
		if nh.free() {
			nfli, nsli := p.getMapping(nh.sizeSlice() << p.sliceLog2)
			p.removeBlock(nextOff, nfli, nsli)
			remLast = nh.last()
			remSizeSlice += nh.sizeSlice()
			if !remLast {
				nn := nextOff + int(nh.sizeSlice())<<p.sliceLog2
				p.setPrevOffsetField(nn, remSizeSlice)
			}
		}
	}

	p.setHeaderAt(remOff, packHeader(remPrevOffset, true, remSizeSlice, remLast))
	if remLast {
		p.memLast = remOff
	}
	p.insertBlock(remOff)

	p.setHeaderAt(off, packHeader(h.prevOffset(), h.free(), blockSizeBytes>>p.sliceLog2, false))
}

// Alloc returns a slice of at least size usable bytes (the whole payload of
// one pool block), or an error if no free block is large enough. Finding a
// candidate class is two bitmap scans: the first- and second-level
// bitmaps narrow the search instead of walking a free list.
func (p *Pool) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, kernelerr.New("tlsf.Alloc", kernelerr.ModuleTLSF, kernelerr.EARG, "size must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked(uint32(size))
}

func (p *Pool) allocLocked(size uint32) ([]byte, error) {
	minPayload := uint32(minSize) - headerSize
	if size < minPayload {
		size = minPayload
	}
	want := roundUp(size+headerSize, 1<<p.sliceLog2)

	target := want + (1<<(msBit(want)-p.sliLog2)) - 1
	fli, sli := p.getMapping(target)

	var off int
	if temp := p.slBitmap[fli] &^ (1<<uint(sli) - 1); temp != 0 {
		sli = lsBit(temp)
	} else {
		temp := p.flBitmap &^ (1<<uint(fli+1) - 1)
		if temp == 0 {
			p.logger.Warn("tlsf pool exhausted", "requested", size, "used", p.used, "size", p.size)
			return nil, kernelerr.New("tlsf.Alloc", kernelerr.ModuleTLSF, kernelerr.EMEMORY, "no free block large enough")
		}
		fli = lsBit(temp)
		sli = lsBit(p.slBitmap[fli])
	}
	off = p.fromSliceOffset(p.table[fli][sli])

	p.removeBlock(off, fli, sli)
	h := p.headerAt(off)
	p.setHeaderAt(off, packHeader(h.prevOffset(), false, h.sizeSlice(), h.last()))

	remaining := h.sizeSlice()<<p.sliceLog2 - want
	if remaining >= minSize {
		p.removeRemainder(off, remaining)
	}

	p.used += p.headerAt(off).sizeSlice() << p.sliceLog2
	p.allocCount++
	end := off + int(p.headerAt(off).sizeSlice()<<p.sliceLog2)
	return p.arena[off+headerSize : end], nil
}

// Calloc allocates nmemb*size bytes and zeroes them.
func (p *Pool) Calloc(nmemb, size int) ([]byte, error) {
	if nmemb <= 0 || size <= 0 {
		return nil, kernelerr.New("tlsf.Calloc", kernelerr.ModuleTLSF, kernelerr.EARG, "nmemb and size must be positive")
	}
	block, err := p.Alloc(nmemb * size)
	if err != nil {
		return nil, err
	}
	for i := range block {
		block[i] = 0
	}
	return block, nil
}

// blockOffset recovers a block's arena offset from its address, the same
// pointer-arithmetic idiom the kernel's fixed buffer pool uses to recover
// an index from a block address.
func (p *Pool) blockOffset(block []byte) (int, error) {
	if len(block) == 0 || len(p.arena) == 0 {
		return 0, kernelerr.New("tlsf.blockOffset", kernelerr.ModuleTLSF, kernelerr.EARG, "empty block or arena")
	}
	base := uintptr(unsafe.Pointer(&p.arena[0]))
	ptr := uintptr(unsafe.Pointer(&block[0]))
	if ptr < base+headerSize {
		return 0, kernelerr.New("tlsf.blockOffset", kernelerr.ModuleTLSF, kernelerr.EARG, "pointer not in this arena")
	}
	off := int(ptr-base) - headerSize
	if off < 0 || off >= len(p.arena) {
		return 0, kernelerr.New("tlsf.blockOffset", kernelerr.ModuleTLSF, kernelerr.EARG, "pointer outside arena bounds")
	}
	return off, nil
}

// Free returns block to the pool, coalescing with any free physical
// neighbor. block must have been returned by Alloc, Calloc, or Realloc on
// this pool.
func (p *Pool) Free(block []byte) error {
	if len(block) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeLocked(block)
}

func (p *Pool) freeLocked(block []byte) error {
	off, err := p.blockOffset(block)
	if err != nil {
		return err
	}
	h := p.headerAt(off)

	if prevOff := p.getPrevBlockOff(off); prevOff >= 0 {
		if p.headerAt(prevOff).sizeSlice() != h.prevOffset() {
			return kernelerr.New("tlsf.Free", kernelerr.ModuleTLSF, kernelerr.EFAIL, "corrupted previous-block link")
		}
	}
	if nextOff := p.getNextBlockOff(off); nextOff >= 0 {
		if h.sizeSlice() != p.headerAt(nextOff).prevOffset() {
			return kernelerr.New("tlsf.Free", kernelerr.ModuleTLSF, kernelerr.EFAIL, "corrupted next-block link")
		}
	}
	p.used -= h.sizeSlice() << p.sliceLog2

	cur := off
	if nextOff := p.getNextBlockOff(cur); nextOff >= 0 {
		nh := p.headerAt(nextOff)
		if nh.free() {
			nfli, nsli := p.getMapping(nh.sizeSlice() << p.sliceLog2)
			p.removeBlock(nextOff, nfli, nsli)
			ch := p.headerAt(cur)
			newSize := ch.sizeSlice() + nh.sizeSlice()
			p.setHeaderAt(cur, packHeader(ch.prevOffset(), ch.free(), newSize, nh.last()))
			if nn := p.getNextBlockOff(cur); nn >= 0 {
				p.setPrevOffsetField(nn, newSize)
			}
		}
	}
	if prevOff := p.getPrevBlockOff(cur); prevOff >= 0 {
		ph := p.headerAt(prevOff)
		if ph.free() {
			pfli, psli := p.getMapping(ph.sizeSlice() << p.sliceLog2)
			p.removeBlock(prevOff, pfli, psli)
			ch := p.headerAt(cur)
			newSize := ph.sizeSlice() + ch.sizeSlice()
			p.setHeaderAt(prevOff, packHeader(ph.prevOffset(), ph.free(), newSize, ch.last()))
			if nn := p.getNextBlockOff(prevOff); nn >= 0 {
				p.setPrevOffsetField(nn, newSize)
			}
			cur = prevOff
		}
	}

	if p.headerAt(cur).last() {
		p.memLast = cur
	}
	p.insertBlock(cur)
	p.allocCount--
	return nil
}

// Realloc resizes block to newSize, growing in place by absorbing a free
// physical next neighbor when possible and falling back to an allocate,
// copy, and free of the old block otherwise. newSize of 0 frees block and
// returns nil; a nil block behaves like Alloc.
func (p *Pool) Realloc(block []byte, newSize int) ([]byte, error) {
	if newSize == 0 {
		return nil, p.Free(block)
	}
	if block == nil {
		return p.Alloc(newSize)
	}

	p.mu.Lock()
	off, err := p.blockOffset(block)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	h := p.headerAt(off)
	want := roundUp(uint32(newSize)+headerSize, 1<<p.sliceLog2)
	if want < minSize {
		want = minSize
	}
	curSize := h.sizeSlice() << p.sliceLog2

	if want == curSize {
		p.mu.Unlock()
		return block, nil
	}

	if want < curSize {
		if curSize-want >= minSize {
			p.used -= curSize
			p.removeRemainder(off, curSize-want)
			p.used += p.headerAt(off).sizeSlice() << p.sliceLog2
		}
		end := off + int(p.headerAt(off).sizeSlice()<<p.sliceLog2)
		p.mu.Unlock()
		return p.arena[off+headerSize : end], nil
	}

	if nextOff := p.getNextBlockOff(off); nextOff >= 0 {
		nh := p.headerAt(nextOff)
		if nh.free() && curSize+(nh.sizeSlice()<<p.sliceLog2) >= want {
			nfli, nsli := p.getMapping(nh.sizeSlice() << p.sliceLog2)
			p.removeBlock(nextOff, nfli, nsli)
			p.used -= curSize
			newFullSize := h.sizeSlice() + nh.sizeSlice()
			p.setHeaderAt(off, packHeader(h.prevOffset(), false, newFullSize, nh.last()))
			if nn := p.getNextBlockOff(off); nn >= 0 {
				p.setPrevOffsetField(nn, newFullSize)
			} else {
				p.memLast = off
			}
			if newFullSize<<p.sliceLog2-want >= minSize {
				p.removeRemainder(off, newFullSize<<p.sliceLog2-want)
			}
			p.used += p.headerAt(off).sizeSlice() << p.sliceLog2
			end := off + int(p.headerAt(off).sizeSlice()<<p.sliceLog2)
			p.mu.Unlock()
			return p.arena[off+headerSize : end], nil
		}
	}
	p.mu.Unlock()

	fresh, err := p.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	copy(fresh, block)
	if err := p.Free(block); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Check walks the pool's physical block chain and every free-list class,
// verifying the prev/next links agree and that no two physically adjacent
// blocks are both free. It reports the first inconsistency found rather
// than panicking, so a caller can route it through its own assert policy.
// It never blocks: if another caller holds the pool lock it returns
// EWOULDBLOCK without checking anything.
func (p *Pool) Check() error {
	if !p.mu.TryLock() {
		return kernelerr.New("tlsf.Check", kernelerr.ModuleTLSF, kernelerr.EWOULDBLOCK, "pool is locked by another caller")
	}
	defer p.mu.Unlock()

	cur := p.memLast
	for {
		h := p.headerAt(cur)
		if h.prevOffset() == 0 {
			break
		}
		prevOff := cur - int(h.prevOffset())<<p.sliceLog2
		ph := p.headerAt(prevOff)
		if cur != prevOff+int(ph.sizeSlice())<<p.sliceLog2 {
			return fmt.Errorf("tlsf: broken physical link at offset %d", prevOff)
		}
		if h.free() && ph.free() {
			return fmt.Errorf("tlsf: adjacent free blocks at offset %d and %d", prevOff, cur)
		}
		cur = prevOff
	}

	for fli := 0; fli < p.fliCount; fli++ {
		for sli := 0; sli < p.sliCount; sli++ {
			slot := p.table[fli][sli]
			if slot == 0 {
				continue
			}
			off := p.fromSliceOffset(slot)
			if p.prevFreeOffset(off) != 0 || !p.headerAt(off).free() {
				return fmt.Errorf("tlsf: malformed free-list head at [%d][%d]", fli, sli)
			}
			for {
				next := p.nextFreeOffset(off)
				if next == 0 {
					break
				}
				nextOff := p.fromSliceOffset(next)
				if p.prevFreeOffset(nextOff) != p.sliceOffset(off) {
					return fmt.Errorf("tlsf: broken free-list link after offset %d", off)
				}
				off = nextOff
			}
		}
	}
	return nil
}

// Stat reports the pool's total usable size, bytes currently allocated,
// and live allocation count.
func (p *Pool) Stat() (size, used, count uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, p.used, p.allocCount
}
