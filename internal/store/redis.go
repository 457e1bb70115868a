package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"meetslot/internal/models"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string        // Redis server address (host:port)
	Password  string        // Redis password (optional)
	DB        int           // Redis database number
	KeyPrefix string        // Prefix for proposal keys
	TTL       time.Duration // Proposal expiry; zero keeps proposals forever
}

// saveScript writes the proposal hash only when the stored fingerprint equals
// ARGV[1]; an empty ARGV[1] requires the key to be absent.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'fingerprint')
if (not cur and ARGV[1] == '') or cur == ARGV[1] then
	redis.call('HSET', KEYS[1], 'fingerprint', ARGV[2], 'payload', ARGV[3])
	local ttl = tonumber(ARGV[4])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	end
	return 1
end
return 0
`)

// dropScript deletes the proposal hash if its fingerprint still equals
// ARGV[1], where an empty ARGV[1] matches a missing fingerprint field.
var dropScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'fingerprint')
if (not cur and ARGV[1] == '') or cur == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisProposals is a Redis-backed proposal store.
type RedisProposals struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisProposals connects to Redis and verifies the connection.
func NewRedisProposals(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisProposals, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("Connected to Redis proposal store.", "addr", cfg.Addr, "db", cfg.DB)
	return newRedisProposals(client, cfg, logger), nil
}

func newRedisProposals(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisProposals {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "meetslot:proposal:"
	}
	return &RedisProposals{client: client, logger: logger, prefix: prefix, ttl: cfg.TTL}
}

// Close closes the Redis client.
func (r *RedisProposals) Close() error {
	return r.client.Close()
}

type redisPayload struct {
	Windows    []models.CandidateWindow `json:"windows"`
	ComputedAt time.Time                `json:"computed_at"`
}

// GetCachedProposal returns the stored proposal for eventID. A hash that is
// incomplete or cannot be decoded is deleted and reported as a miss, so the
// next save can create the key again.
func (r *RedisProposals) GetCachedProposal(ctx context.Context, eventID string) (models.Proposal, bool, error) {
	key := r.prefix + eventID
	vals, err := r.client.HMGet(ctx, key, "fingerprint", "payload").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.Proposal{}, false, fmt.Errorf("redis get proposal: %w", err)
	}
	if len(vals) != 2 || (vals[0] == nil && vals[1] == nil) {
		return models.Proposal{}, false, nil
	}
	fp, _ := vals[0].(string)
	raw, _ := vals[1].(string)

	var payload redisPayload
	if vals[0] == nil || vals[1] == nil {
		err = errors.New("incomplete proposal hash")
	} else {
		err = json.Unmarshal([]byte(raw), &payload)
	}
	if err != nil {
		r.logger.Warn("Dropping undecodable cached proposal", "event", eventID, "error", err)
		if derr := dropScript.Run(ctx, r.client, []string{key}, fp).Err(); derr != nil {
			return models.Proposal{}, false, fmt.Errorf("redis drop proposal: %w", derr)
		}
		return models.Proposal{}, false, nil
	}
	return models.Proposal{
		EventID:     eventID,
		Windows:     payload.Windows,
		Fingerprint: fp,
		ComputedAt:  payload.ComputedAt,
	}, true, nil
}

// SaveProposal writes p only if the stored fingerprint still equals
// expectedPrior. An empty expectedPrior requires that no proposal exists.
func (r *RedisProposals) SaveProposal(ctx context.Context, eventID string, p models.Proposal, expectedPrior string) (bool, error) {
	payload, err := json.Marshal(redisPayload{Windows: p.Windows, ComputedAt: p.ComputedAt})
	if err != nil {
		return false, fmt.Errorf("encode proposal: %w", err)
	}
	n, err := saveScript.Run(ctx, r.client, []string{r.prefix + eventID},
		expectedPrior, p.Fingerprint, string(payload), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis save proposal: %w", err)
	}
	return n == 1, nil
}
