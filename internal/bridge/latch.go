package bridge

import "sync"

// latch is a resettable one-shot gate: the channel returned by wait is
// closed when set is called; reset swaps in a fresh open channel, un-setting
// the gate for the next cycle.
// Used to let any number of goroutines await "the backend connection is
// live" without polling.
type latch struct {
	mu sync.Mutex
	ch chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch
}

func (l *latch) set() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
		// already set
	default:
		close(l.ch)
	}
}

func (l *latch) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
		l.ch = make(chan struct{})
	default:
		// already unset
	}
}
