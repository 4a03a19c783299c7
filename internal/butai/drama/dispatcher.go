package drama

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueDepth  = 32
	defaultIdleTimeout = 5 * time.Minute
)

// Dispatcher runs handle for submitted messages with one worker per key.
// Messages with the same key are handled one at a time in submission order;
// different keys run in parallel. Idle workers exit and are recreated on
// demand.
type Dispatcher struct {
	handle func(context.Context, Inbound)
	depth  int
	idle   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]chan Inbound
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose handlers run under a context
// derived from parent.
func NewDispatcher(parent context.Context, depth int, handle func(context.Context, Inbound)) *Dispatcher {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	ctx, cancel := context.WithCancel(parent)
	return &Dispatcher{
		handle: handle,
		depth:  depth,
		idle:   defaultIdleTimeout,
		ctx:    ctx,
		cancel: cancel,
		queues: make(map[string]chan Inbound),
	}
}

// Submit enqueues msg under key. It never blocks; false means the message
// was dropped because the key's queue is full or the dispatcher is closed.
func (d *Dispatcher) Submit(key string, msg Inbound) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	q, ok := d.queues[key]
	if !ok {
		q = make(chan Inbound, d.depth)
		d.queues[key] = q
		d.wg.Add(1)
		go d.work(key, q)
	}
	select {
	case q <- msg:
		return true
	default:
		slog.Warn("dispatcher: queue full, dropping message", "key", key)
		return false
	}
}

// Active returns the number of running workers.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting messages, lets workers finish what is queued and
// waits for them. Cancelling the parent context aborts in-flight handlers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for key, q := range d.queues {
		close(q)
		delete(d.queues, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
}

func (d *Dispatcher) work(key string, q chan Inbound) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-q:
			if !ok {
				return
			}
			d.handle(d.ctx, msg)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
		case <-timer.C:
			d.mu.Lock()
			if len(q) == 0 && d.queues[key] == q {
				delete(d.queues, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}
