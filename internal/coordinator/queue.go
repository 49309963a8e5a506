package coordinator

import (
	"container/heap"
	"sync"
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

// queueItem wraps a Subtask with an insertion sequence so ties break by
// subtask age ascending (FIFO), per spec §4.1's selection policy: "priority
// descending, then FIFO, breaking ties by subtask age".
type queueItem struct {
	subtask domain.Subtask
	seq     int64
}

type priorityHeap []*queueItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].subtask.Priority != h[j].subtask.Priority {
		return h[i].subtask.Priority > h[j].subtask.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(*queueItem)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// leaseEntry tracks an outstanding claim; expired leases return the subtask
// to queued (spec §4.1).
type leaseEntry struct {
	agentID     string
	expiresAtMs int64
	subtask     domain.Subtask
}

const leaseGrace = 5 * time.Second

// Queue is the per-coordinator priority task queue of spec §4.1, guarded by
// a single mutex so "task queue pull is serialised per coordinator" (§5).
type Queue struct {
	mu     sync.Mutex
	items  priorityHeap
	seq    int64
	leases map[string]*leaseEntry
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	q := &Queue{leases: make(map[string]*leaseEntry)}
	heap.Init(&q.items)
	return q
}

// Enqueue adds subtask to the queue in the queued state.
func (q *Queue) Enqueue(subtask domain.Subtask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	subtask.Status = domain.TaskQueued
	heap.Push(&q.items, &queueItem{subtask: subtask, seq: q.seq})
}

// Claim pops the highest-priority queued subtask for which match returns
// true, leases it to agentID for subtask.TimeoutMs+grace (spec §4.1), and
// returns it. Expired leases are swept back into the queue first.
func (q *Queue) Claim(agentID string, nowMs int64, match func(domain.Subtask) bool) (domain.Subtask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked(nowMs)

	var skipped []*queueItem
	defer func() {
		for _, it := range skipped {
			heap.Push(&q.items, it)
		}
	}()

	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*queueItem)
		if !match(item.subtask) {
			skipped = append(skipped, item)
			continue
		}
		item.subtask.Status = domain.TaskClaimed
		expiry := nowMs + item.subtask.TimeoutMs + leaseGrace.Milliseconds()
		q.leases[item.subtask.SubtaskID] = &leaseEntry{agentID: agentID, expiresAtMs: expiry, subtask: item.subtask}
		return item.subtask, true
	}
	return domain.Subtask{}, false
}

// requeueExpiredLocked must be called with q.mu held.
func (q *Queue) requeueExpiredLocked(nowMs int64) {
	for id, l := range q.leases {
		if l.expiresAtMs <= nowMs {
			delete(q.leases, id)
			q.seq++
			sub := l.subtask
			sub.Status = domain.TaskQueued
			heap.Push(&q.items, &queueItem{subtask: sub, seq: q.seq})
		}
	}
}

// Release clears agentID's lease on subtaskID after a reported result,
// validating that agentID actually holds the lease.
func (q *Queue) Release(subtaskID, agentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.leases[subtaskID]
	if !ok || l.agentID != agentID {
		return false
	}
	delete(q.leases, subtaskID)
	return true
}

// Len reports the number of subtasks currently queued (not counting leased
// ones), used for load-pressure snapshots fed into the credit engine.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// ActiveLeases reports the number of subtasks currently claimed.
func (q *Queue) ActiveLeases() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leases)
}
