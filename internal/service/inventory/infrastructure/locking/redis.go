package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redispkg "stockpile/internal/pkg/redis"
	"stockpile/internal/service/inventory/domain/port"
)

const (
	lockKeyPrefix = "distributed_lock:"

	releaseScriptName = "lock_release"
	extendScriptName  = "lock_extend"

	// acquirePollInterval SETNX 失败后的轮询间隔
	acquirePollInterval = 50 * time.Millisecond
)

// releaseScript 只有令牌匹配才允许删除，过期后易主的锁不会被旧持有者误删。
var releaseScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// extendScript 只有令牌匹配才允许续期。
// 续期是在剩余时间上追加 ARGV[2] 毫秒，不是重置整个租约，
// 反复续期不会让锁的存活时间越滚越长。
var extendScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    local remaining = redis.call('pttl', KEYS[1])
    if remaining < 0 then
        remaining = 0
    end
    return redis.call('pexpire', KEYS[1], remaining + ARGV[2])
else
    return 0
end
`

// scriptRunner 是锁实现对 redis 客户端包装的最小依赖。
type scriptRunner interface {
	LoadScriptFromContent(name, content string) error
	RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error)
	GetClient() *redis.Client
}

// RedisLockProvider 基于 SET NX PX 的租约锁。
// 锁值是每次获取时生成的 uuid，充当栅栏令牌。
type RedisLockProvider struct {
	client scriptRunner
}

func NewRedisLockProvider(client *redispkg.Client) (*RedisLockProvider, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	if err := client.LoadScriptFromContent(extendScriptName, extendScript); err != nil {
		return nil, fmt.Errorf("failed to load lock extend script: %w", err)
	}
	return &RedisLockProvider{client: client}, nil
}

// Acquire 以固定间隔轮询 SETNX，直到拿到锁或超出 waitTimeout。
func (p *RedisLockProvider) Acquire(ctx context.Context, key string, lease, waitTimeout time.Duration) (*port.LockHandle, error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(waitTimeout)

	for {
		acquired, err := p.client.GetClient().SetNX(ctx, lockKey, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock acquire failed for %s: %w", key, err)
		}
		if acquired {
			return &port.LockHandle{
				Key:        key,
				Token:      token,
				AcquiredAt: time.Now(),
				Lease:      lease,
			}, nil
		}

		if time.Now().Add(acquirePollInterval).After(deadline) {
			log.Debug().Str("lock_key", key).Dur("wait_timeout", waitTimeout).Msg("lock wait timed out")
			return nil, port.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

func (p *RedisLockProvider) Release(ctx context.Context, handle *port.LockHandle) (bool, error) {
	result, err := p.client.RunScript(ctx, releaseScriptName, []string{lockKeyPrefix + handle.Key}, handle.Token)
	if err != nil {
		return false, fmt.Errorf("redis lock release failed for %s: %w", handle.Key, err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from release script: %T", result)
	}
	return code > 0, nil
}

func (p *RedisLockProvider) Extend(ctx context.Context, handle *port.LockHandle, additional time.Duration) (bool, error) {
	result, err := p.client.RunScript(ctx, extendScriptName,
		[]string{lockKeyPrefix + handle.Key}, handle.Token, additional.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("redis lock extend failed for %s: %w", handle.Key, err)
	}
	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from extend script: %T", result)
	}
	if code > 0 {
		handle.Lease += additional
		return true, nil
	}
	return false, nil
}

func (p *RedisLockProvider) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := p.client.GetClient().Exists(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
