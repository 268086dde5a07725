package breakpoints

import "sync"

// taskQueue runs tasks one at a time in the order they were pushed. A
// worker goroutine exists only while the queue is not empty.
//
// Every change to the installed breakpoints of a session goes through
// one taskQueue, so a duplicate check and the breakpoint it guards are
// never interleaved with another change.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

// push schedules fn.
func (q *taskQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, fn)
	if !q.running {
		q.running = true
		go q.work()
	}
}

// do runs fn on the queue and waits for it. A panic in fn is raised
// again in the caller. It must not be called from a task.
func (q *taskQueue) do(fn func()) {
	done := make(chan interface{}, 1)
	q.push(func() {
		defer func() { done <- recover() }()
		fn()
	})
	if p := <-done; p != nil {
		panic(p)
	}
}

func (q *taskQueue) work() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}
