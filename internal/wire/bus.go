package wire

import (
	"sync"
	"sync/atomic"
)

// DefaultHighWaterMark is the number of buffered, undelivered events a
// subscriber may accumulate before the bus starts dropping events for that
// subscriber specifically. The producer is never blocked by a slow
// subscriber, regardless of this setting.
const DefaultHighWaterMark = 256

// Bus is a single-producer, multi-subscriber broadcast channel. One engine
// owns one Bus. Send is non-blocking with respect to the producer: a slow
// or stalled subscriber has events dropped for it once its buffer overruns
// the configured high-water mark, but Send itself never blocks.
type Bus struct {
	mu            sync.Mutex
	subs          map[*Subscription]struct{}
	highWaterMark int
	closed        bool
}

// New creates a Bus with the default high-water mark.
func New() *Bus {
	return NewWithHighWaterMark(DefaultHighWaterMark)
}

// NewWithHighWaterMark creates a Bus whose subscriber buffers hold at most
// hwm undelivered events before dropping.
func NewWithHighWaterMark(hwm int) *Bus {
	if hwm <= 0 {
		hwm = DefaultHighWaterMark
	}
	return &Bus{
		subs:          make(map[*Subscription]struct{}),
		highWaterMark: hwm,
	}
}

// Subscription is a handle to a live subscriber. Events() yields a lazy,
// effectively infinite sequence of Messages (terminated only when the
// producing Bus calls Complete or Reset, or the subscriber calls
// Unsubscribe).
type Subscription struct {
	ch      chan Message
	bus     *Bus
	dropped uint64
}

// Events returns the channel of events delivered to this subscription.
func (s *Subscription) Events() <-chan Message {
	return s.ch
}

// Dropped returns the number of events dropped for this subscription due to
// its buffer overrunning the bus's high-water mark.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Unsubscribe releases this subscription's resources. Safe to call more than
// once and safe to call concurrently with Send.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	_, ok := s.bus.subs[s]
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Subscribe registers a new subscriber and returns its handle. Events sent
// after Subscribe returns are observed by this subscription in send order;
// events sent from a single goroutine are observed in that order by every
// subscriber (cross-goroutine ordering across different producers is
// unspecified, matching the single-producer-per-engine contract).
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{
		ch:  make(chan Message, b.highWaterMark),
		bus: b,
	}
	if !b.closed {
		b.subs[sub] = struct{}{}
	}
	return sub
}

// Send broadcasts msg to every current subscriber. Send never blocks: if a
// subscriber's buffer is full (has reached the high-water mark), the event
// is dropped for that subscriber only and its drop counter is incremented.
func (b *Bus) Send(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

// Reset discards all existing subscribers (closing their channels) and
// reinitializes the bus so it can be reused for a new task within the same
// engine.
func (b *Bus) Reset() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	closed := b.closed
	b.closed = false
	b.mu.Unlock()
	if !closed {
		for sub := range subs {
			close(sub.ch)
		}
	}
}

// Complete ends the stream: all subscriber channels are closed and no
// further Send calls deliver events until Reset is called.
func (b *Bus) Complete() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()
	for sub := range subs {
		close(sub.ch)
	}
}
