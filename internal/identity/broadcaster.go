package identity

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Broadcaster fans session-change events out to subscribers. Each
// subscription owns an unbounded FIFO queue drained by its own goroutine, so
// Emit never blocks and every subscriber sees every event in emission order.
type Broadcaster struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[string]*Subscription
	logger zerolog.Logger
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster(zlog zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		logger: zlog,
	}
}

// Subscribe registers fn. Events emitted after Subscribe returns are
// delivered to fn, one at a time, in order.
func (b *Broadcaster) Subscribe(fn func(Event)) *Subscription {
	sub := &Subscription{
		ID:       ulid.Make().String(),
		fn:       fn,
		owner:    b,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		progress: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	go sub.run()

	b.logger.Debug().Str("subscription_id", sub.ID).Msg("Auth state subscription added")
	return sub
}

// Emit queues an event for every current subscriber and returns its sequence number
func (b *Broadcaster) Emit(kind EventKind, session *Session) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := Event{Seq: b.seq, Kind: kind, Session: session}
	for _, sub := range b.subs {
		sub.push(ev)
	}

	b.logger.Debug().
		Uint64("seq", ev.Seq).
		Str("event", string(kind)).
		Int("subscribers", len(b.subs)).
		Msg("Auth state event emitted")

	return ev.Seq
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is the handle returned by OnAuthStateChange
type Subscription struct {
	ID string

	fn    func(Event)
	owner *Broadcaster

	mu       sync.Mutex
	queue    []Event
	pushed   uint64 // seq of the last queued event
	handled  uint64 // seq of the last event fn returned from
	progress chan struct{}

	signal  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Unsubscribe stops delivery. Events still queued are dropped. Safe to call
// more than once and from inside the handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.owner.remove(s.ID)
		close(s.done)
		s.owner.logger.Debug().Str("subscription_id", s.ID).Msg("Auth state subscription removed")
	})
}

// Stopped is closed once the delivery goroutine has exited
func (s *Subscription) Stopped() <-chan struct{} {
	return s.stopped
}

// Sync blocks until every event queued before the call has been handled,
// the subscription is closed, or ctx is done.
func (s *Subscription) Sync(ctx context.Context) error {
	s.mu.Lock()
	target := s.pushed
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.handled >= target {
			s.mu.Unlock()
			return nil
		}
		progress := s.progress
		s.mu.Unlock()

		select {
		case <-progress:
		case <-s.done:
			return ErrSubscriptionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.pushed = ev.Seq
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Subscription) markHandled(seq uint64) {
	s.mu.Lock()
	s.handled = seq
	close(s.progress)
	s.progress = make(chan struct{})
	s.mu.Unlock()
}

func (s *Subscription) run() {
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			select {
			case <-s.done:
				return
			default:
			}

			ev, ok := s.next()
			if !ok {
				break
			}
			s.fn(ev)
			s.markHandled(ev.Seq)
		}
	}
}
