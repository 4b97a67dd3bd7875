// Package redis mirrors session snapshots into Redis so that every instance
// can serve session reads, even for sessions aggregated elsewhere.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"go.uber.org/zap"
)

const keyPrefix = "sso-audit:session:"

type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionCache connects a Redis-backed session mirror
func NewSessionCache(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (repositories.SessionCache, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewSessionCacheFromClient(client, ttl, logger), nil
}

// NewSessionCacheFromClient wraps an existing client
func NewSessionCacheFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) repositories.SessionCache {
	return &sessionCache{client: client, ttl: ttl, logger: logger}
}

// Put stores the snapshot. An older snapshot never replaces a newer one.
func (c *sessionCache) Put(ctx context.Context, session *models.Session) error {
	payload, err := encodeSession(session)
	if err != nil {
		return repositories.NewFatal("cache session", err)
	}
	if err := putScript.Run(ctx, c.client, []string{sessionKey(session.SessionID)},
		session.TotalEvents, payload, c.ttl.Milliseconds()).Err(); err != nil {
		return classify("cache session", err)
	}
	return nil
}

// Get returns the cached snapshot or repositories.ErrNotFound
func (c *sessionCache) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := c.client.HGet(ctx, sessionKey(sessionID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, classify("get cached session", err)
	}
	session, err := decodeSession(raw)
	if err != nil {
		return nil, repositories.NewFatal("get cached session", err)
	}
	return session, nil
}

// putScript writes data and total_events unless the stored snapshot has
// seen more events, then refreshes the expiry
var putScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], "total_events") or "-1")
if current > tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "total_events", ARGV[1], "data", ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

func encodeSession(session *models.Session) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decodeSession(raw []byte) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// classify treats every client failure other than a Redis error reply as a
// connectivity problem
func classify(op string, err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return repositories.NewFatal(op, err)
	}
	return repositories.NewRetryable(op, err)
}

// HealthCheck pings Redis
func (c *sessionCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (c *sessionCache) Close() error {
	return c.client.Close()
}
