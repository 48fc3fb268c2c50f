package jobs

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// queueItem is one queued job awaiting admission.
type queueItem struct {
	id        uuid.UUID
	rank      int
	createdAt time.Time
}

// itemHeap orders by priority rank (highest first), FIFO within a tier.
type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].createdAt.Before(h[j].createdAt)
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(queueItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// admissionQueue is the scheduler's pending-job queue. Not safe for
// concurrent use; the Manager guards it with its own mutex.
type admissionQueue struct {
	heap itemHeap
}

func newAdmissionQueue() *admissionQueue {
	q := &admissionQueue{}
	heap.Init(&q.heap)
	return q
}

func (q *admissionQueue) push(item queueItem) {
	heap.Push(&q.heap, item)
}

// pop removes and returns the highest-priority item, or false when empty.
func (q *admissionQueue) pop() (queueItem, bool) {
	if q.heap.Len() == 0 {
		return queueItem{}, false
	}
	return heap.Pop(&q.heap).(queueItem), true
}

func (q *admissionQueue) len() int {
	return q.heap.Len()
}
