package engine

import (
	"context"
	"sync"
)

// loop runs queued functions one at a time on a single goroutine. Posting
// never blocks, so callbacks fired from inside a queued function (a renderer
// reporting a load synchronously, say) cannot deadlock it.
type loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queues fn and reports false once the loop is closed.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for it to finish.
func (l *loop) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrDestroyed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		select {
		case <-finished:
			return nil
		default:
			return ErrDestroyed
		}
	}
}

func (l *loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.wake:
		case <-l.done:
			return
		}
		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				select {
				case <-l.done:
					return
				default:
				}
				fn()
			}
		}
	}
}

// close stops the loop after the function currently running, dropping
// anything still queued, and waits for the goroutine to exit.
func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
	close(l.done)
	<-l.stopped
}
