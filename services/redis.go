package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

// RedisService is the realtime backend channel: per-entity versioned writes
// with a server-assigned monotonic version and timestamp, plus pub/sub
// fan-out to the user's other devices. The version check and write are one
// atomic script so two devices racing on the same entity serialize on the
// server.
type RedisService struct {
	appContext.DefaultService
	redis *redis.Client

	userID   string
	deviceID string

	mu   sync.Mutex
	subs []*redis.PubSub
}

const REDIS_SVC = "redis_svc"

// KEYS[1] version, KEYS[2] payload, KEYS[3] server timestamp.
// ARGV[1] expected version, ARGV[2] payload.
// Returns {accepted, version, payload, ts}.
var pushScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= tonumber(ARGV[1]) then
  return {0, cur, redis.call('GET', KEYS[2]) or '', redis.call('GET', KEYS[3]) or '0'}
end
local new = cur + 1
local t = redis.call('TIME')
local ts = t[1] * 1000000 + t[2]
redis.call('SET', KEYS[1], new)
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[3], ts)
return {1, new, '', ts}
`)

func (svc *RedisService) Id() string {
	return REDIS_SVC
}

func (svc *RedisService) Configure(ctx *appContext.Context) error {
	svc.userID = os.Getenv("FOCUS_USER_ID")
	svc.initRedisClient()
	return svc.DefaultService.Configure(ctx)
}

func (svc *RedisService) Start() error {
	if svc.redis != nil {
		ctx := context.Background()
		if _, err := svc.redis.Ping(ctx).Result(); err != nil {
			// Offline start is fine: local operations continue and pushes
			// queue until the backend comes back.
			log.WithError(err).Warn("Realtime backend unreachable at startup, running local-first")
		}
	}
	return nil
}

func (svc *RedisService) Shutdown() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, sub := range svc.subs {
		_ = sub.Close()
	}
	if svc.redis != nil {
		_ = svc.redis.Close()
	}
}

func (svc *RedisService) initRedisClient() {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			redisDB = db
		}
	}

	svc.redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})
}

// SetDeviceID stamps outbound envelopes so this device can recognize its own
// echoes on the channel.
func (svc *RedisService) SetDeviceID(id string) {
	svc.deviceID = id
}

func (svc *RedisService) keys(kind string) (ver, payload, ts, channel string) {
	base := fmt.Sprintf("focus:sync:%s:%s", svc.userID, kind)
	return base + ":ver", base + ":payload", base + ":ts", base
}

// Push writes payload if the remote version still equals expectedVersion.
// On acceptance the new record is returned and fanned out; on a version
// mismatch the current remote record comes back with accepted == false.
func (svc *RedisService) Push(ctx context.Context, kind string, payload []byte, expectedVersion int64) (*model.RemoteRecord, bool, error) {
	if svc.redis == nil {
		return nil, false, shared.ErrSyncUnavailable
	}

	verKey, payloadKey, tsKey, channel := svc.keys(kind)
	res, err := pushScript.Run(ctx, svc.redis,
		[]string{verKey, payloadKey, tsKey},
		expectedVersion, string(payload)).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", shared.ErrSyncUnavailable, err)
	}

	accepted := res[0].(int64) == 1
	version := res[1].(int64)

	if !accepted {
		return &model.RemoteRecord{
			EntityKind: kind,
			Payload:    []byte(res[2].(string)),
			Version:    version,
			ServerTime: scriptServerTime(res[3]),
		}, false, nil
	}

	rec := &model.RemoteRecord{
		EntityKind:   kind,
		Payload:      payload,
		Version:      version,
		ServerTime:   scriptServerTime(res[3]),
		SourceDevice: svc.deviceID,
	}

	// Fan-out is best effort: subscribers that miss the publish reconcile on
	// their next fetch.
	if body, err := shared.MarshalJSON(rec); err == nil {
		if err := svc.redis.Publish(ctx, channel, body).Err(); err != nil {
			log.WithError(err).WithField("entity", kind).Warn("Fan-out publish failed")
		}
	}

	return rec, true, nil
}

// Fetch returns the current remote record, or nil when the entity has never
// been written.
func (svc *RedisService) Fetch(ctx context.Context, kind string) (*model.RemoteRecord, error) {
	if svc.redis == nil {
		return nil, shared.ErrSyncUnavailable
	}

	verKey, payloadKey, tsKey, _ := svc.keys(kind)
	pipe := svc.redis.Pipeline()
	verCmd := pipe.Get(ctx, verKey)
	payloadCmd := pipe.Get(ctx, payloadKey)
	tsCmd := pipe.Get(ctx, tsKey)
	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		if verCmd.Err() == redis.Nil {
			return nil, nil
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSyncUnavailable, err)
	}

	version, _ := strconv.ParseInt(verCmd.Val(), 10, 64)
	if version == 0 {
		return nil, nil
	}

	return &model.RemoteRecord{
		EntityKind: kind,
		Payload:    []byte(payloadCmd.Val()),
		Version:    version,
		ServerTime: parseServerTime(tsCmd.Val()),
	}, nil
}

// Subscribe delivers remote records for one entity kind until the returned
// stop function is called. Delivery is at-least-once; callers drop stale
// versions themselves.
func (svc *RedisService) Subscribe(kind string, handler func(model.RemoteRecord)) (func(), error) {
	if svc.redis == nil {
		return nil, shared.ErrSyncUnavailable
	}

	_, _, _, channel := svc.keys(kind)
	sub := svc.redis.Subscribe(context.Background(), channel)

	svc.mu.Lock()
	svc.subs = append(svc.subs, sub)
	svc.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			var rec model.RemoteRecord
			if err := shared.UnmarshalJSON([]byte(msg.Payload), &rec); err != nil {
				log.WithError(err).WithField("entity", kind).Warn("Dropping malformed channel message")
				continue
			}
			handler(rec)
		}
	}()

	return func() { _ = sub.Close() }, nil
}

// Healthy reports whether the backend currently answers.
func (svc *RedisService) Healthy(ctx context.Context) bool {
	if svc.redis == nil {
		return false
	}
	return svc.redis.Ping(ctx).Err() == nil
}

// scriptServerTime handles the script reply, which is an integer on the
// accept path and a stored string on the reject path.
func scriptServerTime(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.UnixMicro(t)
	case string:
		return parseServerTime(t)
	}
	return time.Time{}
}

// parseServerTime decodes the stored integer microsecond timestamp.
func parseServerTime(raw string) time.Time {
	if raw == "" || raw == "0" {
		return time.Time{}
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros)
}
