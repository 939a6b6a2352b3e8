package queue

import "container/heap"

// itemHeap is a max-heap over (Priority, sequence): higher priority first,
// lower sequence (earlier enqueue) breaks ties. container/heap.Interface
// exposes a min-heap, so Less inverts the comparison accordingly.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*Item))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// PriorityQueue is a max-heap of work items ordered by Priority, then by
// FIFO enqueue order within equal priority. It is not itself safe for
// concurrent use — callers (the Scheduler) are responsible for serializing
// access, per the engine's single-threaded-queue design.
type PriorityQueue struct {
	items    itemHeap
	nextSeq  int64
	byID     map[string]*Item
}

// NewPriorityQueue creates an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{
		items: make(itemHeap, 0),
		byID:  make(map[string]*Item),
	}
	heap.Init(&pq.items)
	return pq
}

// Enqueue adds an item to the queue, assigning it the next FIFO sequence
// number. Callers must not reuse an ID already present in the queue —
// priority-upgrade semantics for duplicate IDs are the Scheduler's job.
func (pq *PriorityQueue) Enqueue(it *Item) {
	it.sequence = pq.nextSeq
	pq.nextSeq++
	heap.Push(&pq.items, it)
	pq.byID[it.ID] = it
}

// Dequeue removes and returns the highest-priority item, or nil if empty.
func (pq *PriorityQueue) Dequeue() *Item {
	if len(pq.items) == 0 {
		return nil
	}
	it := heap.Pop(&pq.items).(*Item)
	delete(pq.byID, it.ID)
	return it
}

// Peek returns the highest-priority item without removing it, or nil.
func (pq *PriorityQueue) Peek() *Item {
	if len(pq.items) == 0 {
		return nil
	}
	return pq.items[0]
}

// Find returns the queued item with the given ID, if present.
func (pq *PriorityQueue) Find(id string) *Item {
	return pq.byID[id]
}

// UpdatePriority raises (or lowers) the priority of an already-queued item
// and re-heapifies it in place.
func (pq *PriorityQueue) UpdatePriority(id string, priority int64) bool {
	it, ok := pq.byID[id]
	if !ok {
		return false
	}
	for i, cand := range pq.items {
		if cand == it {
			it.Priority = priority
			heap.Fix(&pq.items, i)
			return true
		}
	}
	return false
}

// RemoveWhere removes all items matching pred and returns how many were
// removed.
func (pq *PriorityQueue) RemoveWhere(pred func(*Item) bool) int {
	removed := 0
	for i := 0; i < len(pq.items); {
		if pred(pq.items[i]) {
			it := heap.Remove(&pq.items, i).(*Item)
			delete(pq.byID, it.ID)
			removed++
			continue
		}
		i++
	}
	return removed
}

// Clear empties the queue.
func (pq *PriorityQueue) Clear() {
	pq.items = make(itemHeap, 0)
	pq.byID = make(map[string]*Item)
}

// Len returns the number of queued items.
func (pq *PriorityQueue) Len() int {
	return len(pq.items)
}

// Snapshot returns a copy of the queued items in no particular order; it is
// safe for callers to inspect without affecting the live queue.
func (pq *PriorityQueue) Snapshot() []*Item {
	out := make([]*Item, len(pq.items))
	copy(out, pq.items)
	return out
}
