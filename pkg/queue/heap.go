package queue

import (
	"container/heap"
	"time"
)

// heapItem wraps a task in the pending or delayed heap. Cancellation uses
// lazy deletion: cancelled items stay in the heap and are skipped on pop,
// avoiding an O(log n) splice on every Cancel call.
type heapItem struct {
	task      *Task
	due       time.Time
	seq       uint64
	cancelled bool
	delayed   bool
}

// taskHeap orders items by (due time, priority desc, insertion sequence).
// Earlier due time wins; for equal due times higher priority wins; for equal
// due time and priority the first inserted wins.
type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// push inserts an item preserving heap order.
func (h *taskHeap) push(item *heapItem) {
	heap.Push(h, item)
}

// popReady removes and returns the minimum live item whose due time is not
// after now. Cancelled tombstones encountered on the way are discarded.
func (h *taskHeap) popReady(now time.Time) *heapItem {
	for h.Len() > 0 {
		item := (*h)[0]
		if item.cancelled {
			heap.Pop(h)
			continue
		}
		if item.due.After(now) {
			return nil
		}
		heap.Pop(h)
		return item
	}
	return nil
}

// live counts non-cancelled items. Linear, used only for snapshots and purge.
func (h taskHeap) live() int {
	n := 0
	for _, item := range h {
		if !item.cancelled {
			n++
		}
	}
	return n
}
