// Package backend provides the memory-backed storage used as the MFS
// filesystem image and the TLSF pool arena in cmd/kernelsim and in tests.
// It uses sharded locking so the same image can be read concurrently from
// several simulated tasks without one global lock.
package backend

import (
	"fmt"
	"sync"
)

// ShardSize is the size of each memory shard (64KB). This provides good
// parallelism for concurrent block reads while keeping lock overhead
// reasonable; a 256MB image has 4096 shards.
const ShardSize = 64 * 1024

// Memory is a RAM-backed byte store with sharded locking, used both as the
// MFS filesystem image (via ReadAt) and as the raw arena handed to the
// TLSF allocator (via Arena).
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemory creates a new memory-backed store of the given size.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

// NewMemoryFromImage wraps an existing byte slice (e.g. a loaded MFS image)
// without copying it.
func NewMemoryFromImage(image []byte) *Memory {
	size := int64(len(image))
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Memory{data: image, size: size, shards: make([]sync.RWMutex, numShards)}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt reads len(p) bytes starting at off.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

// WriteAt writes len(p) bytes starting at off. Used only to build a memory
// image before mounting it read-only; MFS itself never calls this.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("write beyond end of store")
	}
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

// ReadBlock reads exactly len(buf) bytes at blockNum*len(buf), a
// block-addressed companion to ReadAt. internal/mfs does not use it: its
// BlockReader is the byte-offset ReadAt.
func (m *Memory) ReadBlock(blockNum uint32, buf []byte) error {
	off := int64(blockNum) * int64(len(buf))
	n, err := m.ReadAt(buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short block read: got %d of %d bytes at block %d", n, len(buf), blockNum)
	}
	return nil
}

// Arena returns the backing slice directly, for handing to the TLSF
// allocator as its managed pool. Callers that do this must not also use
// ReadAt/WriteAt/ReadBlock concurrently without the allocator's own
// locking, since TLSF mutates the arena without going through Memory's
// shard locks.
func (m *Memory) Arena() []byte {
	return m.data
}

// Size reports the store's total byte size.
func (m *Memory) Size() int64 {
	return m.size
}

// Discard zeroes the given byte range.
func (m *Memory) Discard(offset, length int64) error {
	if offset >= m.size {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}
	actualLen := end - offset

	startShard, endShard := m.shardRange(offset, actualLen)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

// Stats reports diagnostic counters about the store, mirroring the
// teacher's StatBackend shape.
func (m *Memory) Stats() map[string]any {
	return map[string]any{
		"size":       m.size,
		"allocated":  len(m.data),
		"num_shards": len(m.shards),
		"shard_size": ShardSize,
	}
}
