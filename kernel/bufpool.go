package kernel

import (
	"unsafe"

	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

// poolObj is a fixed-size block pool: blockCount blocks of blockSize bytes
// carved from one backing arena at creation time and handed out by index.
// Unlike a general-purpose sync.Pool, capacity is fixed and allocation
// never falls back to the Go allocator: PoolTake either returns one of the
// blockCount preallocated blocks or blocks/fails, the same guarantee a
// microcontroller's static memory pool gives.
type poolObj struct {
	id        PoolID
	inUse     bool
	blockSize int
	arena     []byte
	free      []int // stack of free block indices
	waitHead  TaskID
	waitTail  TaskID
}

// PoolCreate allocates a fixed arena of blockCount blocks of blockSize
// bytes.
func (k *Kernel) PoolCreate(blockSize, blockCount int) (PoolID, error) {
	if blockSize <= 0 || blockCount <= 0 {
		return InvalidPoolID, kernelerr.New("PoolCreate", kernelerr.ModulePool, kernelerr.EARG, "block size and count must be positive")
	}
	if len(k.freePools) == 0 {
		return InvalidPoolID, kernelerr.New("PoolCreate", kernelerr.ModulePool, kernelerr.EDEPLETED, "pool table full")
	}
	idx := k.freePools[len(k.freePools)-1]
	k.freePools = k.freePools[:len(k.freePools)-1]
	id := PoolID(makeHandle(tagPool, idx))

	free := make([]int, blockCount)
	for i := range free {
		free[i] = blockCount - 1 - i // pop from the tail gives block 0 first
	}
	k.pools[idx] = poolObj{
		id: id, inUse: true, blockSize: blockSize,
		arena: make([]byte, blockSize*blockCount), free: free,
		waitHead: InvalidTaskID, waitTail: InvalidTaskID,
	}
	return id, nil
}

func (k *Kernel) resolvePool(id PoolID) (*poolObj, error) {
	if !id.isPool() {
		return nil, kernelerr.New("resolvePool", kernelerr.ModulePool, kernelerr.EARG, "handle is not a pool")
	}
	idx := handleIndex(uint16(id))
	if idx < 0 || idx >= len(k.pools) || !k.pools[idx].inUse || k.pools[idx].id != id {
		return nil, kernelerr.New("resolvePool", kernelerr.ModulePool, kernelerr.EARG, "stale or unknown pool handle")
	}
	return &k.pools[idx], nil
}

func (p *poolObj) blockAt(i int) []byte {
	return p.arena[i*p.blockSize : (i+1)*p.blockSize]
}

// PoolTake hands out one block, blocking for up to timeoutTicks if the
// pool is depleted.
func (k *Kernel) PoolTake(self TaskID, pid PoolID, timeoutTicks uint32) ([]byte, error) {
	if k.inISR() && timeoutTicks != 0 {
		return nil, errNotAllowedFromISR("PoolTake", kernelerr.ModulePool)
	}
	p, err := k.resolvePool(pid)
	if err != nil {
		return nil, err
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return nil, err
	}

	k.EnterCritical()
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		block := p.blockAt(idx)
		k.ExitCritical()
		k.Metrics.RecordPoolTake(false)
		return block, nil
	}
	if timeoutTicks == 0 {
		k.ExitCritical()
		k.Metrics.RecordPoolTake(true)
		return nil, kernelerr.New("PoolTake", kernelerr.ModulePool, kernelerr.EWOULDBLOCK, "pool depleted, non-blocking call")
	}

	k.waitListInsert(&p.waitHead, &p.waitTail, caller.id)
	caller.state = StateWaitingPool
	caller.waitPool = p.id
	if timeoutTicks != InfiniteTimeout {
		k.delayInsert(caller.id, k.tickCount+timeoutTicks)
	}
	k.ExitCritical()
	k.schedule()

	if caller.wakeCause == WakeTimeout {
		k.Metrics.RecordPoolTake(true)
		return nil, kernelerr.New("PoolTake", kernelerr.ModulePool, kernelerr.ETIMEOUT, "pool wait timed out")
	}
	k.Metrics.RecordPoolTake(false)
	return caller.poolBuf, nil
}

// PoolGive returns block to the pool, waking the highest-priority waiter
// if any instead of returning it to the free stack.
func (k *Kernel) PoolGive(pid PoolID, block []byte) error {
	p, err := k.resolvePool(pid)
	if err != nil {
		return err
	}
	idx := blockIndex(p, block)
	if idx < 0 {
		return kernelerr.New("PoolGive", kernelerr.ModulePool, kernelerr.EARG, "block does not belong to this pool")
	}

	k.EnterCritical()
	if next, ok := k.waitListPopHighest(&p.waitHead, &p.waitTail); ok {
		nt := k.tcb(next)
		nt.poolBuf = p.blockAt(idx)
		k.wake(next, WakeEvent)
	} else {
		p.free = append(p.free, idx)
	}
	k.ExitCritical()
	k.schedule()
	return nil
}

// blockIndex recovers a block's arena index from its address, since a pool
// block carries no header of its own (unlike a TLSF block). This is the
// same pointer-arithmetic idiom the allocator uses for its packed headers,
// applied here to a flat array instead of a bitfield.
func blockIndex(p *poolObj, block []byte) int {
	if len(block) == 0 || len(p.arena) == 0 {
		return -1
	}
	base := uintptr(unsafe.Pointer(&p.arena[0]))
	ptr := uintptr(unsafe.Pointer(&block[0]))
	if ptr < base {
		return -1
	}
	off := int(ptr - base)
	if off%p.blockSize != 0 {
		return -1
	}
	idx := off / p.blockSize
	if idx >= len(p.arena)/p.blockSize {
		return -1
	}
	return idx
}
