package scanner

import "sync"

// task is a directory waiting to be measured.
type task struct {
	path  string
	depth int
}

// workStack is a LIFO of pending directories shared by the scan workers. It
// closes itself once every pushed task has been marked done, which is how
// workers learn the traversal is finished.
type workStack struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []task
	pending int
	closed  bool
}

func newWorkStack() *workStack {
	s := &workStack{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *workStack) push(t task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.items = append(s.items, t)
	s.pending++
	s.cond.Signal()
}

// pop blocks until a task is available or the stack is closed.
func (s *workStack) pop() (task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.items) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return task{}, false
	}
	t := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return t, true
}

// done marks a popped task finished. Children must be pushed before done is
// called for their parent.
func (s *workStack) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending <= 0 {
		s.closed = true
		s.cond.Broadcast()
	}
}

func (s *workStack) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}
