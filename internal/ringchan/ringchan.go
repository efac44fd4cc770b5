package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: if the buffer is full, the oldest element is discarded.
// Consumers read through C() like a normal channel or use Receive/TryReceive
// to have reads counted in the metrics.
//
//	rc := ringchan.New[string](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(strconv.Itoa(i))
//	}
//	for v := range rc.C() { // 7, 8, 9
//	    fmt.Println(v)
//	}
type RingChannel[T any] struct {
	ch      chan T
	mu      sync.Mutex // serializes the drop-oldest-then-insert sequence between producers
	closed  atomic.Bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Reads via C() are not counted in the Processed metric.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped. Sends after Close are ignored.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed.Load() {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.metrics.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.metrics.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed.Load() {
		return false
	}
	select {
	case rc.ch <- v:
		rc.metrics.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.processed.Add(1)
	}
	return
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.processed.Add(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the underlying channel. It is safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// Snapshot returns the current counters.
func (rc *RingChannel[T]) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Processed:   rc.metrics.processed.Load(),
		Written:     rc.metrics.written.Load(),
		Overwritten: rc.metrics.overwritten.Load(),
	}
}

// Metrics holds lock-free counters.
type Metrics struct {
	processed   atomic.Int64
	written     atomic.Int64
	overwritten atomic.Int64
}

type MetricsSnapshot struct {
	Processed   int64
	Written     int64
	Overwritten int64
}
