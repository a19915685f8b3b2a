package events

import (
	"sync"
	"sync/atomic"
	"time"

	"p2plend/core/types"
	"p2plend/observability"
)

// Record is a committed event stamped with its publication sequence.
type Record struct {
	Sequence uint64       `json:"sequence"`
	Time     time.Time    `json:"time"`
	Event    *types.Event `json:"event"`
}

// Subscription receives committed records until closed.
type Subscription struct {
	C       <-chan Record
	ch      chan Record
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped reports how many records were discarded because the subscriber fell
// behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from the bus and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s) })
}

// Bus fans committed events out to subscribers. Delivery never blocks the
// publisher: a subscriber with a full channel misses the record.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	seq    uint64
	nowFn  func() time.Time
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), nowFn: time.Now}
}

// Subscribe registers a subscriber with the given channel capacity.
func (b *Bus) Subscribe(capacity int) *Subscription {
	if capacity <= 0 {
		capacity = 64
	}
	ch := make(chan Record, capacity)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Emit publishes a single event.
func (b *Bus) Emit(evt Event) { b.Publish(evt) }

// Publish stamps and delivers the events in order. It returns the records
// that were produced.
func (b *Bus) Publish(evts ...Event) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	records := make([]Record, 0, len(evts))
	for _, evt := range evts {
		typed := ToTyped(evt)
		if typed == nil {
			continue
		}
		b.seq++
		rec := Record{Sequence: b.seq, Time: b.nowFn().UTC(), Event: typed}
		records = append(records, rec)
		for sub := range b.subs {
			select {
			case sub.ch <- Record{Sequence: rec.Sequence, Time: rec.Time, Event: typed.Clone()}:
			default:
				sub.dropped.Add(1)
				observability.Events().RecordDropped(1)
			}
		}
	}
	return records
}

// Subscribers reports the number of attached subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
