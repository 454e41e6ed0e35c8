package hold

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// DefaultTTL is how long an unreleased hold lives.
const DefaultTTL = 300 * time.Second

// expiryTimeout bounds the store call made from a timer goroutine.
const expiryTimeout = 5 * time.Second

const stripeCount = 32

var (
	ErrInvalidSeat = errors.New("invalid seat")
	ErrClosed      = errors.New("hold registry closed")
)

// Publisher fans a seat event out to the viewers of a show, skipping the
// session named by exclude.
type Publisher interface {
	Publish(showID uint64, ev model.SeatEvent, exclude string)
}

type timerEntry struct {
	token   string
	session string
	timer   *time.Timer
}

// Registry places, releases and expires holds.  State lives in the Store;
// the registry owns the expiry timers of the holds it placed and emits the
// matching realtime events.  Operations on one (show, seat) are serialized.
type Registry struct {
	store   Store
	pub     Publisher
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	stripes [stripeCount]sync.Mutex

	mu     sync.Mutex
	timers map[seatKey]*timerEntry
	closed bool
}

// NewRegistry wires a registry.  ttl <= 0 selects DefaultTTL.
func NewRegistry(store Store, pub Publisher, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *Registry {
	if store == nil || pub == nil {
		panic("nil dependency passed to hold.NewRegistry")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		store:   store,
		pub:     pub,
		ttl:     ttl,
		log:     log,
		metrics: m,
		timers:  make(map[seatKey]*timerEntry),
	}
}

// TTL returns the hold lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) stripe(k seatKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatUint(k.show, 10)))
	_, _ = h.Write([]byte(k.seat))
	return &r.stripes[h.Sum32()%stripeCount]
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Block places (or replaces) the hold on seat for sessionID and restarts
// its TTL.  A hold owned by another session is overwritten.  Viewers other
// than sessionID receive seatBlocked.
func (r *Registry) Block(ctx context.Context, showID uint64, seat, sessionID string) error {
	if !model.ValidSeat(seat) {
		return ErrInvalidSeat
	}
	k := seatKey{showID, seat}
	mu := r.stripe(k)
	mu.Lock()
	defer mu.Unlock()
	if r.isClosed() {
		return ErrClosed
	}

	h := model.SeatHold{ShowID: showID, Seat: seat, SessionID: sessionID, Token: uuid.NewString()}
	if err := r.store.Put(ctx, h, r.ttl); err != nil {
		r.log.Warn("hold store put failed",
			zap.Uint64("show_id", showID), zap.String("seat", seat), zap.Error(err))
		return err
	}
	r.arm(k, h.Token, sessionID)
	r.metrics.ObserveHold("blocked")
	r.pub.Publish(showID, model.SeatBlockedEvent(showID, seat), sessionID)
	return nil
}

// Release drops the hold on seat whoever owns it.  Viewers other than
// sessionID receive seatReleased.  Releasing a free seat is a no-op.
func (r *Registry) Release(ctx context.Context, showID uint64, seat, sessionID string) error {
	if !model.ValidSeat(seat) {
		return ErrInvalidSeat
	}
	k := seatKey{showID, seat}
	mu := r.stripe(k)
	mu.Lock()
	defer mu.Unlock()

	existed, err := r.store.Delete(ctx, showID, seat)
	if err != nil {
		r.log.Warn("hold store delete failed",
			zap.Uint64("show_id", showID), zap.String("seat", seat), zap.Error(err))
		return err
	}
	r.disarm(k, "")
	if !existed {
		return nil
	}
	r.metrics.ObserveHold("released")
	r.pub.Publish(showID, model.SeatReleasedEvent(showID, seat), sessionID)
	return nil
}

// ReleaseOwned drops the holds sessionID owns among seats without
// broadcasting; the caller announces the seats' new state itself.
func (r *Registry) ReleaseOwned(ctx context.Context, showID uint64, seats []string, sessionID string) error {
	var errs []error
	for _, seat := range seats {
		if _, err := r.releaseIfOwned(ctx, seatKey{showID, seat}, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseSession drops every hold this instance placed for sessionID and
// tells the remaining viewers.  It returns how many holds were released.
func (r *Registry) ReleaseSession(ctx context.Context, sessionID string) int {
	r.mu.Lock()
	var keys []seatKey
	for k, e := range r.timers {
		if e.session == sessionID {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()

	released := 0
	for _, k := range keys {
		ok, err := r.releaseIfOwned(ctx, k, sessionID)
		if err != nil {
			r.log.Warn("releasing session hold failed",
				zap.String("session_id", sessionID), zap.String("seat", k.seat), zap.Error(err))
			continue
		}
		if ok {
			released++
			r.metrics.ObserveHold("released")
			r.pub.Publish(k.show, model.SeatReleasedEvent(k.show, k.seat), sessionID)
		}
	}
	return released
}

func (r *Registry) releaseIfOwned(ctx context.Context, k seatKey, sessionID string) (bool, error) {
	mu := r.stripe(k)
	mu.Lock()
	defer mu.Unlock()

	h, ok, err := r.store.Get(ctx, k.show, k.seat)
	if err != nil || !ok || h.SessionID != sessionID {
		return false, err
	}
	deleted, err := r.store.DeleteIf(ctx, k.show, k.seat, h.Token)
	if err != nil {
		return false, err
	}
	r.disarm(k, h.Token)
	return deleted, nil
}

// Active returns the live holds of a show keyed by seat.
func (r *Registry) Active(ctx context.Context, showID uint64) (map[string]model.SeatHold, error) {
	holds, err := r.store.List(ctx, showID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.SeatHold, len(holds))
	for _, h := range holds {
		out[h.Seat] = h
	}
	return out, nil
}

// Close stops every pending expiry timer.  Holds already in a shared
// store keep their native TTL.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for k, e := range r.timers {
		e.timer.Stop()
		delete(r.timers, k)
	}
}

func (r *Registry) arm(k seatKey, token, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[k]; ok {
		old.timer.Stop()
	}
	r.timers[k] = &timerEntry{
		token:   token,
		session: sessionID,
		timer:   time.AfterFunc(r.ttl, func() { r.expire(k, token) }),
	}
}

// disarm stops the timer for k.  A non-empty token only matches that hold.
func (r *Registry) disarm(k seatKey, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[k]
	if !ok || (token != "" && e.token != token) {
		return
	}
	e.timer.Stop()
	delete(r.timers, k)
}

func (r *Registry) expire(k seatKey, token string) {
	mu := r.stripe(k)
	mu.Lock()
	defer mu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if e, ok := r.timers[k]; ok && e.token == token {
		delete(r.timers, k)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()
	deleted, err := r.store.DeleteIf(ctx, k.show, k.seat, token)
	if err != nil {
		r.log.Warn("expiring hold failed",
			zap.Uint64("show_id", k.show), zap.String("seat", k.seat), zap.Error(err))
		return
	}
	if !deleted {
		return
	}
	r.metrics.ObserveHold("expired")
	r.log.Debug("hold expired", zap.Uint64("show_id", k.show), zap.String("seat", k.seat))
	r.pub.Publish(k.show, model.SeatReleasedEvent(k.show, k.seat), "")
}
