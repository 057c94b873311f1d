package capture

import "sync"

// Feed fans out values of type T to any number of subscribers. Each
// subscriber owns a buffered channel; a full channel drops the value
// instead of blocking Send.
type Feed[T any] struct {
	buffer int

	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewFeed creates a feed whose subscriptions buffer up to buffer values.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed[T]{
		buffer: buffer,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

// Subscription is one listener of a Feed.
type Subscription[T any] struct {
	feed *Feed[T]
	ch   chan T
	once sync.Once
}

// Subscribe registers a new listener. Subscribing to a closed feed returns a
// subscription whose channel is already closed.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{feed: f, ch: make(chan T, f.buffer)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// Send delivers v to every subscriber that has room and returns how many
// received it.
func (f *Feed[T]) Send(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	n := 0
	for s := range f.subs {
		select {
		case s.ch <- v:
			n++
		default:
		}
	}
	return n
}

// Len returns the number of active subscriptions.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription. Later sends are dropped.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for s := range f.subs {
		s.once.Do(func() { close(s.ch) })
	}
	f.subs = nil
}

// C returns the channel values are delivered on. It is closed after
// Unsubscribe or when the feed closes.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Unsubscribe removes the subscription. Calling it more than once is safe.
func (s *Subscription[T]) Unsubscribe() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs, s)
	s.once.Do(func() { close(s.ch) })
}
