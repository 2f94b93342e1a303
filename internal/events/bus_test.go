package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the events it handles.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Seq)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func publishN(b *Bus, from, to uint64) {
	for i := from; i <= to; i++ {
		b.Publish(Event{Kind: KindContentDelta, Seq: i})
	}
}

// drain closes the bus and waits until every subscription has delivered
// what was queued.
func drain(t *testing.T, b *Bus, subs ...*Subscription) {
	t.Helper()
	b.Close()
	for _, s := range subs {
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("subscription did not finish delivering")
		}
	}
}

func TestBus_DeliversInOrderToEverySubscriber(t *testing.T) {
	b := NewBus()
	r1, r2 := &recorder{}, &recorder{}
	s1 := b.Subscribe(r1)
	s2 := b.Subscribe(r2)
	assert.Equal(t, 2, b.Len())

	publishN(b, 1, 100)
	drain(t, b, s1, s2)

	expected := make([]uint64, 0, 100)
	for i := uint64(1); i <= 100; i++ {
		expected = append(expected, i)
	}
	assert.Equal(t, expected, r1.seqs())
	assert.Equal(t, expected, r2.seqs())
}

func TestBus_LateSubscriberMissesEarlierEvents(t *testing.T) {
	b := NewBus()
	early := &recorder{}
	earlySub := b.Subscribe(early)

	publishN(b, 1, 3)

	late := &recorder{}
	lateSub := b.Subscribe(late)

	publishN(b, 4, 6)
	drain(t, b, earlySub, lateSub)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, early.seqs())
	assert.Equal(t, []uint64{4, 5, 6}, late.seqs())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	r := &recorder{}
	sub := b.Subscribe(r)

	publishN(b, 1, 2)
	require.Eventually(t, func() bool { return r.len() == 2 }, 2*time.Second, time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, b.Len())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("delivery goroutine did not exit")
	}

	publishN(b, 3, 5)
	assert.Equal(t, []uint64{1, 2}, r.seqs())
}

func TestBus_UnsubscribeFromHandler(t *testing.T) {
	b := NewBus()
	var (
		sub   *Subscription
		ready = make(chan struct{})
		count int
		mu    sync.Mutex
	)
	sub = b.Subscribe(SubscriberFunc(func(e Event) {
		<-ready
		mu.Lock()
		count++
		mu.Unlock()
		sub.Unsubscribe()
	}))
	close(ready)

	publishN(b, 1, 5)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("delivery goroutine did not exit")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBus(WithMailboxSize(4))

	block := make(chan struct{})
	slow := b.Subscribe(SubscriberFunc(func(Event) { <-block }))
	fast := &recorder{}
	fastSub := b.Subscribe(fast)

	done := make(chan struct{})
	go func() {
		publishN(b, 1, 50)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Eventually(t, func() bool { return fast.len() == 50 }, 2*time.Second, time.Millisecond)
	assert.Greater(t, slow.Dropped(), uint64(0))
	assert.Zero(t, fastSub.Dropped())

	close(block)
	drain(t, b, slow, fastSub)
}

func TestBus_PanickingSubscriberIsIsolated(t *testing.T) {
	b := NewBus()

	var (
		mu    sync.Mutex
		calls int
	)
	panicky := b.Subscribe(SubscriberFunc(func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("boom")
	}))
	good := &recorder{}
	goodSub := b.Subscribe(good)

	publishN(b, 1, 3)
	drain(t, b, panicky, goodSub)

	assert.Equal(t, []uint64{1, 2, 3}, good.seqs())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "a subscriber keeps receiving events after panicking")
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	r := &recorder{}
	sub := b.Subscribe(r)

	publishN(b, 1, 3)
	drain(t, b, sub)
	b.Close()

	assert.Equal(t, []uint64{1, 2, 3}, r.seqs(), "events published before Close are delivered")
	assert.Equal(t, 0, b.Len())

	publishN(b, 4, 4)
	assert.Equal(t, 3, r.len())

	after := b.Subscribe(&recorder{})
	select {
	case <-after.Done():
	default:
		t.Fatal("subscription on a closed bus should be done")
	}
	after.Unsubscribe()
}

func TestBus_FullMailboxKeepsTurnBoundaries(t *testing.T) {
	b := NewBus(WithMailboxSize(4))

	block := make(chan struct{})
	var once sync.Once
	r := &recorder{}
	sub := b.Subscribe(SubscriberFunc(func(e Event) {
		once.Do(func() { <-block })
		r.Handle(e)
	}))

	b.Publish(Event{Kind: KindTurnStarted, Seq: 1})
	for i := uint64(2); i <= 101; i++ {
		b.Publish(Event{Kind: KindContentDelta, Seq: i})
	}
	b.Publish(Event{Kind: KindTurnCompleted, Seq: 102})

	close(block)
	drain(t, b, sub)

	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := map[Kind]int{}
	for _, e := range r.events {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[KindTurnStarted])
	assert.Equal(t, 1, kinds[KindTurnCompleted])
	assert.LessOrEqual(t, kinds[KindContentDelta], 4)
	assert.Equal(t, KindTurnCompleted, r.events[len(r.events)-1].Kind)
	assert.Equal(t, uint64(102-len(r.events)), sub.Dropped())

	for i := 1; i < len(r.events); i++ {
		assert.Less(t, r.events[i-1].Seq, r.events[i].Seq, "delivery stays in publication order")
	}
}

func TestBus_DropsOldestDeltas(t *testing.T) {
	b := NewBus(WithMailboxSize(3))

	block := make(chan struct{})
	var once sync.Once
	r := &recorder{}
	sub := b.Subscribe(SubscriberFunc(func(e Event) {
		once.Do(func() { <-block })
		r.Handle(e)
	}))

	// The first event is held by the blocked handler, the rest queue up.
	b.Publish(Event{Kind: KindContentDelta, Seq: 1})
	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.queue.Len() == 0
	}, 2*time.Second, time.Millisecond)
	publishN(b, 2, 10)

	close(block)
	drain(t, b, sub)

	assert.Equal(t, []uint64{1, 8, 9, 10}, r.seqs())
	assert.Equal(t, uint64(6), sub.Dropped())
}
