package workerpool

import "container/heap"

type queuedTask struct {
	task    Task
	future  *Future
	retries int
	seq     uint64
	index   int
}

// taskQueue orders by priority, then arrival.
type taskQueue []*queuedTask

var _ heap.Interface = (*taskQueue)(nil)

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	qt := x.(*queuedTask)
	qt.index = len(*q)
	*q = append(*q, qt)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	qt := old[n-1]
	old[n-1] = nil
	qt.index = -1
	*q = old[:n-1]
	return qt
}
