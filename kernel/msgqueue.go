package kernel

import "github.com/Nikitarc/aasun-kernel/kernelerr"

// queueObj is a ring of fixed-size elements with separate FIFO-by-priority
// wait lists for blocked senders and blocked receivers.
type queueObj struct {
	id       QueueID
	inUse    bool
	elemSize int
	buf      []byte // capacity*elemSize
	capacity int
	head     int // next read index
	count    int

	sendHead, sendTail TaskID
	recvHead, recvTail TaskID
}

// senderWaiting reports whether id is linked into the sender wait list
// rather than the receiver wait list; used to pick which list to unlink
// from when a timeout abandons a queue wait (both lists link through the
// same waitPrev/waitNext tcb fields, so the search has to walk one of the
// lists to disambiguate).
func (k *Kernel) senderWaiting(q *queueObj, id TaskID) bool {
	for cur := q.sendHead; cur != InvalidTaskID; cur = k.tcb(cur).waitNext {
		if cur == id {
			return true
		}
	}
	return false
}

// QueueCreate allocates a ring queue of capacity elements of elemSize bytes
// each.
func (k *Kernel) QueueCreate(capacity, elemSize int) (QueueID, error) {
	if capacity <= 0 || elemSize <= 0 {
		return InvalidQueueID, kernelerr.New("QueueCreate", kernelerr.ModuleQueue, kernelerr.EARG, "capacity and element size must be positive")
	}
	if len(k.freeQueues) == 0 {
		return InvalidQueueID, kernelerr.New("QueueCreate", kernelerr.ModuleQueue, kernelerr.EDEPLETED, "queue table full")
	}
	idx := k.freeQueues[len(k.freeQueues)-1]
	k.freeQueues = k.freeQueues[:len(k.freeQueues)-1]
	id := QueueID(makeHandle(tagQueue, idx))
	k.queues[idx] = queueObj{
		id: id, inUse: true, elemSize: elemSize, capacity: capacity,
		buf:      make([]byte, capacity*elemSize),
		sendHead: InvalidTaskID, sendTail: InvalidTaskID,
		recvHead: InvalidTaskID, recvTail: InvalidTaskID,
	}
	return id, nil
}

func (k *Kernel) resolveQueue(id QueueID) (*queueObj, error) {
	if !id.isQueue() {
		return nil, kernelerr.New("resolveQueue", kernelerr.ModuleQueue, kernelerr.EARG, "handle is not a queue")
	}
	idx := handleIndex(uint16(id))
	if idx < 0 || idx >= len(k.queues) || !k.queues[idx].inUse || k.queues[idx].id != id {
		return nil, kernelerr.New("resolveQueue", kernelerr.ModuleQueue, kernelerr.EARG, "stale or unknown queue handle")
	}
	return &k.queues[idx], nil
}

func (q *queueObj) slot(i int) []byte {
	off := ((q.head + i) % q.capacity) * q.elemSize
	return q.buf[off : off+q.elemSize]
}

func (q *queueObj) pushTail(data []byte) {
	off := ((q.head + q.count) % q.capacity) * q.elemSize
	copy(q.buf[off:off+q.elemSize], data)
	q.count++
}

func (q *queueObj) popHead(dst []byte) {
	copy(dst, q.slot(0))
	q.head = (q.head + 1) % q.capacity
	q.count--
}

// QueueSend enqueues data (exactly elemSize bytes). If full, blocks the
// caller on senders_waiting for up to timeoutTicks; on a receiver dequeue
// the highest-priority waiting sender (FIFO within a priority) is woken.
func (k *Kernel) QueueSend(self TaskID, qid QueueID, data []byte, timeoutTicks uint32) error {
	if k.inISR() && timeoutTicks != 0 {
		return errNotAllowedFromISR("QueueSend", kernelerr.ModuleQueue)
	}
	q, err := k.resolveQueue(qid)
	if err != nil {
		return err
	}
	if len(data) != q.elemSize {
		return kernelerr.New("QueueSend", kernelerr.ModuleQueue, kernelerr.EARG, "data length does not match element size")
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return err
	}

	k.EnterCritical()
	if q.count < q.capacity {
		q.pushTail(data)
		if next, ok := k.waitListPopHighest(&q.recvHead, &q.recvTail); ok {
			nt := k.tcb(next)
			q.popHead(nt.queueRecvBuf)
			nt.queueRecvLen = q.elemSize
			k.wake(next, WakeEvent)
		}
		k.ExitCritical()
		k.schedule()
		k.Metrics.RecordQueueSend(false)
		return nil
	}
	if timeoutTicks == 0 {
		k.ExitCritical()
		return kernelerr.New("QueueSend", kernelerr.ModuleQueue, kernelerr.EWOULDBLOCK, "queue full, non-blocking call")
	}

	k.waitListInsert(&q.sendHead, &q.sendTail, caller.id)
	caller.state = StateWaitingQueue
	caller.waitQueue = q.id
	caller.queueRecvBuf = data // blocked sender's pending payload, copied in by the next QueueReceive
	if timeoutTicks != InfiniteTimeout {
		k.delayInsert(caller.id, k.tickCount+timeoutTicks)
	}
	k.ExitCritical()
	k.schedule()

	if caller.wakeCause == WakeTimeout {
		k.Metrics.RecordQueueSend(true)
		return kernelerr.New("QueueSend", kernelerr.ModuleQueue, kernelerr.ETIMEOUT, "queue send timed out")
	}
	k.Metrics.RecordQueueSend(false)
	return nil
}

// QueueReceive dequeues one element into buf (which must be at least
// elemSize bytes), blocking for up to timeoutTicks if empty. When a
// dequeue frees a slot, the highest-priority waiting sender's (FIFO within
// a priority) payload is pushed onto the ring and that sender is woken.
func (k *Kernel) QueueReceive(self TaskID, qid QueueID, buf []byte, timeoutTicks uint32) (int, error) {
	if k.inISR() && timeoutTicks != 0 {
		return 0, errNotAllowedFromISR("QueueReceive", kernelerr.ModuleQueue)
	}
	q, err := k.resolveQueue(qid)
	if err != nil {
		return 0, err
	}
	if len(buf) < q.elemSize {
		return 0, kernelerr.New("QueueReceive", kernelerr.ModuleQueue, kernelerr.EARG, "destination buffer too small")
	}
	caller, err := k.resolveTask(self, self)
	if err != nil {
		return 0, err
	}

	k.EnterCritical()
	if q.count > 0 {
		q.popHead(buf)
		if next, ok := k.waitListPopHighest(&q.sendHead, &q.sendTail); ok {
			nt := k.tcb(next)
			q.pushTail(nt.queueRecvBuf)
			k.wake(next, WakeEvent)
		}
		k.ExitCritical()
		k.schedule()
		return q.elemSize, nil
	}
	if timeoutTicks == 0 {
		k.ExitCritical()
		return 0, kernelerr.New("QueueReceive", kernelerr.ModuleQueue, kernelerr.EWOULDBLOCK, "queue empty, non-blocking call")
	}

	k.waitListInsert(&q.recvHead, &q.recvTail, caller.id)
	caller.state = StateWaitingQueue
	caller.waitQueue = q.id
	caller.queueRecvBuf = buf
	if timeoutTicks != InfiniteTimeout {
		k.delayInsert(caller.id, k.tickCount+timeoutTicks)
	}
	k.ExitCritical()
	k.schedule()

	if caller.wakeCause == WakeTimeout {
		return 0, kernelerr.New("QueueReceive", kernelerr.ModuleQueue, kernelerr.ETIMEOUT, "queue receive timed out")
	}
	return caller.queueRecvLen, nil
}

// QueuePeek inspects the head element without dequeuing it.
func (k *Kernel) QueuePeek(qid QueueID, buf []byte) (int, error) {
	q, err := k.resolveQueue(qid)
	if err != nil {
		return 0, err
	}
	if len(buf) < q.elemSize {
		return 0, kernelerr.New("QueuePeek", kernelerr.ModuleQueue, kernelerr.EARG, "destination buffer too small")
	}
	k.EnterCritical()
	defer k.ExitCritical()
	if q.count == 0 {
		return 0, kernelerr.New("QueuePeek", kernelerr.ModuleQueue, kernelerr.EWOULDBLOCK, "queue empty")
	}
	copy(buf, q.slot(0))
	return q.elemSize, nil
}

// QueuePurge atomically empties the queue's stored elements. Waiting
// senders and receivers are left untouched; a purge only discards data
// already enqueued.
func (k *Kernel) QueuePurge(qid QueueID) error {
	q, err := k.resolveQueue(qid)
	if err != nil {
		return err
	}
	k.EnterCritical()
	q.head = 0
	q.count = 0
	k.ExitCritical()
	return nil
}
