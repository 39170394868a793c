package kernel

import "container/heap"

// taskItem is one entry in a kernel's task queue: a closure plus the
// priority/sequence pair the heap orders by.
type taskItem struct {
	id       uint64
	seq      uint64
	priority int
	fn       func()
}

// taskHeap is a max-heap over taskItem keyed by (priority, -seq): higher
// priority first, older enqueue timestamp first among ties. It implements
// container/heap.Interface directly rather than sort.Reverse, matching the
// teacher's preference for hand-written Less over wrapper types.
type taskHeap []*taskItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*taskItem))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*taskHeap)(nil)
