package queue

import (
	"container/heap"

	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

// taskHeap is a max-heap of task descriptors ordered by priority score.
// Ties are broken by creation time (older first) and then by ID, so
// dispatch order within a tick is deterministic.
type taskHeap []*types.QueuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].PriorityScore != h[j].PriorityScore {
		return h[i].PriorityScore > h[j].PriorityScore
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].ID < h[j].ID
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*types.QueuedTask))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// removeByID removes and returns the descriptor with the given ID, or nil
// if it is not in the heap. Used by CancelTask.
func (h *taskHeap) removeByID(id types.TaskID) *types.QueuedTask {
	for i, task := range *h {
		if task.ID == id {
			return heap.Remove(h, i).(*types.QueuedTask)
		}
	}
	return nil
}

// findByID returns the descriptor with the given ID without removing it.
func (h taskHeap) findByID(id types.TaskID) *types.QueuedTask {
	for _, task := range h {
		if task.ID == id {
			return task
		}
	}
	return nil
}
