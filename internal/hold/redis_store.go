package hold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// deleteIfScript removes a hold only when its token still matches.
const deleteIfScript = `
local v = redis.call("GET", KEYS[1])
if not v then
	return 0
end
local h = cjson.decode(v)
if h["token"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// expiryGrace keeps a key in Redis past the hold deadline so the placing
// instance's timer can still compare-and-delete it and announce the
// release.  Readers ignore holds past ExpiresAt.
const expiryGrace = 30 * time.Second

// RedisStore keeps holds as JSON values under hold:{show}:{seat} with a
// native Redis TTL, so every instance of the service sees the same holds.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func holdKey(showID uint64, seat string) string {
	return fmt.Sprintf("hold:%d:%s", showID, seat)
}

func (s *RedisStore) Put(ctx context.Context, h model.SeatHold, ttl time.Duration) error {
	h.ExpiresAt = time.Now().UTC().Add(ttl)
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hold: %w", err)
	}
	if err := s.client.Set(ctx, holdKey(h.ShowID, h.Seat), string(payload), ttl+expiryGrace).Err(); err != nil {
		return fmt.Errorf("store hold: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, showID uint64, seat string) (model.SeatHold, bool, error) {
	raw, err := s.client.Get(ctx, holdKey(showID, seat)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.SeatHold{}, false, nil
		}
		return model.SeatHold{}, false, fmt.Errorf("load hold: %w", err)
	}
	var h model.SeatHold
	if err := json.Unmarshal(raw, &h); err != nil {
		return model.SeatHold{}, false, fmt.Errorf("decode hold: %w", err)
	}
	if !time.Now().Before(h.ExpiresAt) {
		return model.SeatHold{}, false, nil
	}
	return h, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, showID uint64, seat string) (bool, error) {
	n, err := s.client.Del(ctx, holdKey(showID, seat)).Result()
	if err != nil {
		return false, fmt.Errorf("delete hold: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) DeleteIf(ctx context.Context, showID uint64, seat, token string) (bool, error) {
	n, err := s.client.Eval(ctx, deleteIfScript, []string{holdKey(showID, seat)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("delete hold: %w", err)
	}
	return n == 1, nil
}

// List reads every grid key of the show in one MGET; the grid is fixed so
// no key scan is needed.
func (s *RedisStore) List(ctx context.Context, showID uint64) ([]model.SeatHold, error) {
	seats := model.AllSeats()
	keys := make([]string, len(seats))
	for i, seat := range seats {
		keys[i] = holdKey(showID, seat)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	now := time.Now()
	var out []model.SeatHold
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var h model.SeatHold
		if err := json.Unmarshal([]byte(str), &h); err != nil || !now.Before(h.ExpiresAt) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
