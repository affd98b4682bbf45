package locking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockpile/internal/service/inventory/domain/port"
)

// memoryPollInterval 进程内锁的轮询间隔。
const memoryPollInterval = 5 * time.Millisecond

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLockProvider 进程内的锁实现，语义与分布式实现一致（租约 + 栅栏令牌）。
// 用于测试和单节点部署。
type MemoryLockProvider struct {
	mu    sync.Mutex
	locks map[string]memoryLockEntry
	now   func() time.Time
}

func NewMemoryLockProvider() *MemoryLockProvider {
	return &MemoryLockProvider{
		locks: make(map[string]memoryLockEntry),
		now:   time.Now,
	}
}

// NewMemoryLockProviderWithClock 注入时钟，测试租约过期用。
func NewMemoryLockProviderWithClock(now func() time.Time) *MemoryLockProvider {
	return &MemoryLockProvider{locks: make(map[string]memoryLockEntry), now: now}
}

func (p *MemoryLockProvider) Acquire(ctx context.Context, key string, lease, waitTimeout time.Duration) (*port.LockHandle, error) {
	deadline := p.now().Add(waitTimeout)

	for {
		if handle := p.tryAcquire(key, lease); handle != nil {
			return handle, nil
		}
		if p.now().After(deadline) {
			return nil, port.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(memoryPollInterval):
		}
	}
}

func (p *MemoryLockProvider) tryAcquire(key string, lease time.Duration) *port.LockHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, held := p.locks[key]
	if held && p.now().Before(entry.expiresAt) {
		return nil
	}

	token := uuid.NewString()
	p.locks[key] = memoryLockEntry{token: token, expiresAt: p.now().Add(lease)}
	return &port.LockHandle{Key: key, Token: token, AcquiredAt: p.now(), Lease: lease}
}

func (p *MemoryLockProvider) Release(ctx context.Context, handle *port.LockHandle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, held := p.locks[handle.Key]
	if !held || entry.token != handle.Token {
		return false, nil
	}
	delete(p.locks, handle.Key)
	return true, nil
}

func (p *MemoryLockProvider) Extend(ctx context.Context, handle *port.LockHandle, additional time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, held := p.locks[handle.Key]
	if !held || entry.token != handle.Token || p.now().After(entry.expiresAt) {
		return false, nil
	}
	entry.expiresAt = entry.expiresAt.Add(additional)
	p.locks[handle.Key] = entry
	handle.Lease += additional
	return true, nil
}

func (p *MemoryLockProvider) IsLocked(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, held := p.locks[key]
	return held && p.now().Before(entry.expiresAt), nil
}
