// Package syncgroup wraps sync.WaitGroup so Add and Done cannot drift apart.
package syncgroup

import "sync"

type syncGroupFunc func()

type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []syncGroupFunc
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add queues fn for the next Run.
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, fn)
}

// Go starts fn immediately.
func (w *SyncGroup) Go(fn syncGroupFunc) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.running++
	w.mu.Unlock()
	w.wg.Add(1)
	go func() {
		defer func() {
			w.mu.Lock()
			w.running--
			w.mu.Unlock()
			w.wg.Done()
		}()
		fn()
	}()
}

// Run starts everything queued by Add and clears the queue.
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.pending
	w.pending = nil
	w.mu.Unlock()
	for _, fn := range fns {
		w.Go(fn)
	}
}

func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
