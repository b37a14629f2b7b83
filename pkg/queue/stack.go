package queue

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// ThreadSafeStack is the crawl frontier: a LIFO of crawl tasks shared by all workers.
// The most recently pushed task is popped first, so children of the page a worker
// just processed are explored before siblings queued earlier (depth-first order).
type ThreadSafeStack struct {
	items  []models.CrawlTask
	mu     sync.Mutex
	cond   *sync.Cond // Signalled when an item is pushed or the stack is closed
	closed bool
	log    *logrus.Entry
}

// NewThreadSafeStack creates an empty, open frontier
func NewThreadSafeStack(logger *logrus.Entry) *ThreadSafeStack {
	s := &ThreadSafeStack{log: logger}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push adds a task on top of the stack.
// Returns false if the stack is already closed and the task was dropped.
func (s *ThreadSafeStack) Push(task models.CrawlTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.log.Warnf("Attempted to push onto closed frontier: %s", task.URL)
		return false
	}
	s.items = append(s.items, task)
	s.cond.Signal() // Wake one waiting worker
	return true
}

// Pop removes and returns the top task.
// It blocks while the stack is empty and open. Returns false once the stack is closed and empty;
// tasks still present at Close time are handed out first so callers can drain them.
func (s *ThreadSafeStack) Pop() (models.CrawlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.items) == 0 {
		if s.closed {
			return models.CrawlTask{}, false
		}
		s.cond.Wait()
	}
	return s.popLocked(), true
}

// TryPop is the non-blocking variant of Pop. Returns false if the stack is currently empty.
func (s *ThreadSafeStack) TryPop() (models.CrawlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return models.CrawlTask{}, false
	}
	return s.popLocked(), true
}

func (s *ThreadSafeStack) popLocked() models.CrawlTask {
	n := len(s.items) - 1
	task := s.items[n]
	s.items[n] = models.CrawlTask{}
	s.items = s.items[:n]
	return task
}

// Close signals that no more tasks will be pushed and wakes every blocked Pop
func (s *ThreadSafeStack) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
	}
}

// Len returns the number of pending tasks
func (s *ThreadSafeStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
