package port

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockNotAcquired 在等待超时内没有拿到锁。
	ErrLockNotAcquired = errors.New("lock not acquired within wait timeout")
)

// LockHandle 是一次成功加锁的凭据。
// Token 是栅栏令牌: 释放和续期都必须携带它，仅凭 key 无法操作锁。
// 租约到期后锁自动失效，此时旧持有者的 Token 对新一轮锁不再有效。
type LockHandle struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	Lease      time.Duration
}

// LockProvider 是分布式锁的出站端口，由基础设施层实现。
// 实现必须保证: 授予 X 的锁不能被任何其他持有者释放或续期，
// 即使 X 的租约已过期且同一 key 已被 Y 重新获取。
type LockProvider interface {
	// Acquire 尝试在 waitTimeout 内获取 key 上的租约锁。
	// 超时未获得返回 ErrLockNotAcquired。
	Acquire(ctx context.Context, key string, lease, waitTimeout time.Duration) (*LockHandle, error)

	// Release 释放锁。令牌不匹配（锁已过期或易主）时返回 false。
	Release(ctx context.Context, handle *LockHandle) (bool, error)

	// Extend 在现有租约上追加时长。令牌不匹配时返回 false。
	Extend(ctx context.Context, handle *LockHandle, additional time.Duration) (bool, error)

	// IsLocked 查询 key 当前是否被任何持有者锁定。
	IsLocked(ctx context.Context, key string) (bool, error)
}
