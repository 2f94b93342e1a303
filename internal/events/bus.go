package events

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"tether/pkg/logging"
)

// DefaultMailboxSize is how many undelivered content deltas a subscriber
// may fall behind before the oldest of them are dropped for it.
const DefaultMailboxSize = 256

// Subscriber receives events from a Bus.
type Subscriber interface {
	Handle(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

// Handle calls f(e).
func (f SubscriberFunc) Handle(e Event) {
	f(e)
}

// Bus fans events out to subscribers.
//
// Every subscription has its own mailbox and delivery goroutine. Publish
// never waits for a subscriber. When a mailbox is full the oldest queued
// content delta is dropped (counted in Dropped) to make room; every other
// kind is always queued, so each turn's start and end reach every
// subscriber. Each subscriber sees events in publication order, and only
// events published after it subscribed.
type Bus struct {
	mu      sync.Mutex
	subs    *list.List
	byID    map[uint64]*list.Element
	nextID  uint64
	mailbox int
	closed  bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithMailboxSize sets the per-subscriber mailbox capacity.
func WithMailboxSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.mailbox = n
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:    list.New(),
		byID:    make(map[uint64]*list.Element),
		mailbox: DefaultMailboxSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers s and starts delivering events published from now on.
// Subscribing to a closed bus returns a subscription that never delivers.
func (b *Bus) Subscribe(s Subscriber) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:         b.nextID,
		bus:        b,
		subscriber: s,
		queue:      list.New(),
		limit:      b.mailbox,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if b.closed {
		sub.stopOnce.Do(func() { close(sub.stop) })
		close(sub.done)
		return sub
	}

	b.byID[sub.id] = b.subs.PushBack(sub)
	go sub.run()

	logging.Debug("Events", "Added subscriber %d, total subscribers: %d", sub.id, b.subs.Len())
	return sub
}

// Publish hands e to every current subscriber in registration order.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for el := b.subs.Front(); el != nil; el = el.Next() {
		el.Value.(*Subscription).push(e)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs.Len()
}

// Close detaches every subscriber. Events already published are still
// delivered; nothing published afterwards is. Close does not wait for
// delivery to finish, use Subscription.Done for that. Closing twice is a
// no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for el := b.subs.Front(); el != nil; el = el.Next() {
		el.Value.(*Subscription).closeMailbox()
	}
	b.subs.Init()
	b.byID = make(map[uint64]*list.Element)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.byID[id]; ok {
		b.subs.Remove(el)
		delete(b.byID, id)
		logging.Debug("Events", "Removed subscriber %d, total subscribers: %d", id, b.subs.Len())
	}
}

// Subscription ties a subscriber to a bus.
type Subscription struct {
	id         uint64
	bus        *Bus
	subscriber Subscriber

	// mu guards queue and sealed. wake is signalled after every change.
	mu     sync.Mutex
	queue  *list.List
	limit  int
	sealed bool
	wake   chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	dropped  atomic.Uint64
}

// Unsubscribe stops delivery. Events still queued for this subscriber are
// discarded. It is safe to call more than once and from inside Handle.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.bus.remove(s.id)
	})
}

// Done is closed once the delivery goroutine has exited, either after
// Unsubscribe or after the bus was closed and the mailbox drained.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many events were discarded because the mailbox was
// full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// push queues e. A full mailbox gives up its oldest content delta; when
// none is queued a new delta is dropped instead and any other kind is queued
// beyond the limit.
func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	queued, dropped := true, false
	if s.queue.Len() >= s.limit {
		if oldest := s.oldestDelta(); oldest != nil {
			s.queue.Remove(oldest)
			dropped = true
		} else if e.Kind == KindContentDelta {
			queued, dropped = false, true
		}
	}
	if dropped {
		n := s.dropped.Add(1)
		logging.Warn("Events", "Subscriber %d is not keeping up, dropped a %s event (%d dropped so far)", s.id, KindContentDelta, n)
	}
	if queued {
		s.queue.PushBack(e)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) oldestDelta() *list.Element {
	for el := s.queue.Front(); el != nil; el = el.Next() {
		if el.Value.(Event).Kind == KindContentDelta {
			return el
		}
	}
	return nil
}

// closeMailbox accepts no further events; what is queued is still
// delivered.
func (s *Subscription) closeMailbox() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event. done reports that the mailbox is
// closed and empty.
func (s *Subscription) next() (e Event, ok bool, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if front := s.queue.Front(); front != nil {
		return s.queue.Remove(front).(Event), true, false
	}
	return Event{}, false, s.sealed
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			e, ok, done := s.next()
			if done {
				return
			}
			if !ok {
				break
			}
			select {
			case <-s.stop:
				return
			default:
			}
			s.deliver(e)
		}
	}
}

func (s *Subscription) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Events", fmt.Errorf("panic in subscriber: %v", r), "Subscriber %d panicked handling %s event", s.id, e.Kind)
		}
	}()
	s.subscriber.Handle(e)
}
