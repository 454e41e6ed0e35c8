// Package notify relays seat events to the realtime sessions watching a
// show.  Delivery is best effort and at most once: there is no backlog, a
// session that joins late must re-read the seat grid, and a session whose
// buffer is full misses the event.  Events published for one show are
// enqueued to every subscriber in publish order.
package notify

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// ErrBusClosed is returned by Join after Close.
var ErrBusClosed = errors.New("notification bus closed")

// DefaultBuffer is the per-session event queue length.
const DefaultBuffer = 64

// Session is one connected viewer.  The transport drains Events until Done
// is closed.
type Session struct {
	id     string
	events chan model.SeatEvent
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	shows map[uint64]struct{}
}

func (s *Session) ID() string { return s.id }

// Events yields the notifications for every show the session joined.
func (s *Session) Events() <-chan model.SeatEvent { return s.events }

// Done is closed when the session is disconnected or the bus shuts down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Joined reports whether the session currently subscribes to showID.
func (s *Session) Joined(showID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.shows[showID]
	return ok
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Session) track(showID uint64, joined bool) {
	s.mu.Lock()
	if joined {
		s.shows[showID] = struct{}{}
	} else {
		delete(s.shows, showID)
	}
	s.mu.Unlock()
}

func (s *Session) joinedShows() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.shows))
	for id := range s.shows {
		ids = append(ids, id)
	}
	return ids
}

type topic struct {
	mu   sync.Mutex
	subs map[string]*Session
}

// Bus is the per-show topic registry.  Create one at startup and Close it
// at shutdown.
type Bus struct {
	mu     sync.RWMutex
	topics map[uint64]*topic
	closed bool

	buffer  int
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewBus returns an empty bus.  buffer <= 0 selects DefaultBuffer.
func NewBus(buffer int, log *zap.Logger, m *metrics.Metrics) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		topics:  make(map[uint64]*topic),
		buffer:  buffer,
		log:     log,
		metrics: m,
	}
}

// NewSession allocates a session that is not subscribed to any show yet.
func (b *Bus) NewSession(id string) *Session {
	return &Session{
		id:     id,
		events: make(chan model.SeatEvent, b.buffer),
		done:   make(chan struct{}),
		shows:  make(map[uint64]struct{}),
	}
}

// Join subscribes s to the events of showID.  Joining twice is harmless.
func (b *Bus) Join(showID uint64, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	t, ok := b.topics[showID]
	if !ok {
		t = &topic{subs: make(map[string]*Session)}
		b.topics[showID] = t
	}
	t.mu.Lock()
	t.subs[s.id] = s
	t.mu.Unlock()
	s.track(showID, true)
	return nil
}

// Leave unsubscribes s from showID.  Empty topics are dropped.
func (b *Bus) Leave(showID uint64, s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(showID, s)
}

func (b *Bus) leaveLocked(showID uint64, s *Session) {
	s.track(showID, false)
	t, ok := b.topics[showID]
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, s.id)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(b.topics, showID)
	}
}

// Disconnect removes s from every show it joined and closes its Done channel.
func (b *Bus) Disconnect(s *Session) {
	b.mu.Lock()
	for _, showID := range s.joinedShows() {
		b.leaveLocked(showID, s)
	}
	b.mu.Unlock()
	s.close()
}

// Publish delivers ev to every subscriber of showID except the session
// whose id equals exclude (pass "" to reach everyone).
func (b *Bus) Publish(showID uint64, ev model.SeatEvent, exclude string) {
	b.mu.RLock()
	t, ok := b.topics[showID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.subs {
		if id == exclude {
			continue
		}
		select {
		case s.events <- ev:
		default:
			b.metrics.EventDropped()
			b.log.Warn("dropping realtime event for slow session",
				zap.String("session_id", id),
				zap.Uint64("show_id", showID),
				zap.String("event", string(ev.Type)),
			)
		}
	}
}

// Subscribers returns the number of sessions joined to showID.
func (b *Bus) Subscribers(showID uint64) int {
	b.mu.RLock()
	t, ok := b.topics[showID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close disconnects every session and rejects further joins.  Publish
// becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for showID, t := range b.topics {
		t.mu.Lock()
		for _, s := range t.subs {
			s.track(showID, false)
			s.close()
		}
		t.mu.Unlock()
	}
	b.topics = make(map[uint64]*topic)
}
