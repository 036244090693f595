package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var (
	_ lock.Locker = (*Locker)(nil)
	_ lock.Lease  = (*Lease)(nil)
)

// Locker issues SET NX leases with a random owner token.
type Locker struct {
	client   *goredis.Client
	ttl      time.Duration
	newToken func() (string, error)
}

func NewLocker(client *goredis.Client, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	return &Locker{client: client, ttl: ttl, newToken: randomToken}, nil
}

func (l *Locker) Acquire(ctx context.Context, key string) (lock.Lease, bool, error) {
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return nil, false, fmt.Errorf("lock key is required")
	}

	token, err := l.newToken()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate lock token: %w", err)
	}

	redisKey := lockKeyPrefix + ":" + normalized
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &Lease{client: l.client, key: redisKey, token: token, ttl: l.ttl}, true, nil
}

// Lease is a lock held by this process.
type Lease struct {
	client *goredis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Extend pushes the expiry out by the locker ttl.
func (l *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return lock.ErrLockLost
	}
	return nil
}

// Release deletes the key if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
