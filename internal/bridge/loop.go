package bridge

import (
	"fmt"
	"sync"

	"github.com/matst80/ws2s/internal/obs"
)

// loop runs callbacks one at a time, in the order they were posted. The
// queue is unbounded so posting never blocks, even from inside a callback.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func newLoop() *loop {
	l := &loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go l.run()
	return l
}

func (l *loop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// stop lets the loop drain what is queued and exit.
func (l *loop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()
		if len(batch) == 0 {
			if stopped {
				return
			}
			<-l.wake
			continue
		}
		for _, fn := range batch {
			l.call(fn)
		}
	}
}

func (l *loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			obs.Error("client.callback.panic", obs.Fields{"panic": fmt.Sprint(r)})
			obs.ErrorsTotal.WithLabelValues("callback_panic").Inc()
		}
	}()
	fn()
}
