package locking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"

	"stockpile/internal/service/inventory/domain/port"
)

const lockRoot = "/stockpile/locks"

// ZkLockProvider 基于临时顺序节点的 ZooKeeper 锁。
// 租约语义由 ZK 会话承担: 持有者崩溃后会话超时，临时节点被自动清除。
// 令牌是本次获取时创建的节点路径，删除别人的节点在协议上不可能，天然满足栅栏要求。
type ZkLockProvider struct {
	conn *zk.Conn
}

func NewZkLockProvider(conn *zk.Conn) *ZkLockProvider {
	return &ZkLockProvider{conn: conn}
}

// Acquire 在 /stockpile/locks/<key> 下创建临时顺序节点并等待成为序号最小的节点。
// lease 在这里只记录在句柄上: 实际的存活时间与 ZK 会话绑定。
func (p *ZkLockProvider) Acquire(ctx context.Context, key string, lease, waitTimeout time.Duration) (*port.LockHandle, error) {
	lockPath := lockRoot + "/" + sanitizeKey(key)
	if err := p.ensurePath(lockPath); err != nil {
		return nil, err
	}

	nodePath, err := p.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}

	deadline := time.Now().Add(waitTimeout)
	myNode := strings.TrimPrefix(nodePath, lockPath+"/")
	for {
		children, _, err := p.conn.Children(lockPath)
		if err != nil {
			p.abandon(nodePath)
			return nil, fmt.Errorf("failed to list lock children: %w", err)
		}

		isHolder, watchNode, err := electLock(children, myNode)
		if err != nil {
			p.abandon(nodePath)
			return nil, err
		}
		if isHolder {
			return &port.LockHandle{
				Key:        key,
				Token:      nodePath,
				AcquiredAt: time.Now(),
				Lease:      lease,
			}, nil
		}

		_, _, eventChan, err := p.conn.ExistsW(lockPath + "/" + watchNode)
		if err != nil {
			if errors.Is(err, zk.ErrNoNode) {
				continue // 前驱刚好消失，重新竞争
			}
			p.abandon(nodePath)
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.abandon(nodePath)
			return nil, port.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			p.abandon(nodePath)
			return nil, ctx.Err()
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(remaining):
			p.abandon(nodePath)
			return nil, port.ErrLockNotAcquired
		}
	}
}

// Release 删除自己的节点。节点已不存在（会话过期被清除）时返回 false。
func (p *ZkLockProvider) Release(ctx context.Context, handle *port.LockHandle) (bool, error) {
	err := p.conn.Delete(handle.Token, -1)
	if errors.Is(err, zk.ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete lock node %s: %w", handle.Token, err)
	}
	return true, nil
}

// Extend 对 ZK 锁是空操作: 存活时间跟随会话。节点仍在即视为续期成功。
func (p *ZkLockProvider) Extend(ctx context.Context, handle *port.LockHandle, additional time.Duration) (bool, error) {
	exists, _, err := p.conn.Exists(handle.Token)
	if err != nil {
		return false, err
	}
	if exists {
		handle.Lease += additional
	}
	return exists, nil
}

func (p *ZkLockProvider) IsLocked(ctx context.Context, key string) (bool, error) {
	children, _, err := p.conn.Children(lockRoot + "/" + sanitizeKey(key))
	if errors.Is(err, zk.ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

// ensurePath 逐级创建锁路径，节点已存在不算错误。
func (p *ZkLockProvider) ensurePath(path string) error {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	current := ""
	for _, part := range parts {
		current += "/" + part
		_, err := p.conn.Create(current, []byte{}, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create lock path %s: %w", current, err)
		}
	}
	return nil
}

func (p *ZkLockProvider) abandon(nodePath string) {
	if err := p.conn.Delete(nodePath, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		log.Warn().Err(err).Str("node", nodePath).Msg("failed to clean up abandoned lock node")
	}
}

// parseSeq 取出顺序节点名末尾的序号。
// 受保护节点名形如 _c_<guid>-lock-<seq>，按字符串排序会被随机 guid 主导，
// 持有者选举必须按 ZK 分配的序号进行。
func parseSeq(name string) (int, error) {
	idx := strings.LastIndex(name, "-")
	if idx < 0 || idx == len(name)-1 {
		return 0, fmt.Errorf("lock node %q has no sequence suffix", name)
	}
	seq, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("lock node %q has a malformed sequence suffix: %w", name, err)
	}
	return seq, nil
}

// electLock 判定 myNode 是否持有锁；不持有时返回应该监听的前驱节点。
// 前驱是序号小于自己的节点里序号最大的那个，只监听它以避免惊群。
func electLock(children []string, myNode string) (bool, string, error) {
	mySeq, err := parseSeq(myNode)
	if err != nil {
		return false, "", err
	}

	found := false
	prevSeq := -1
	prevNode := ""
	for _, child := range children {
		seq, err := parseSeq(child)
		if err != nil {
			return false, "", err
		}
		if child == myNode {
			found = true
			continue
		}
		if seq < mySeq && seq > prevSeq {
			prevSeq = seq
			prevNode = child
		}
	}
	if !found {
		return false, "", errors.New("own lock node missing from children")
	}
	if prevNode == "" {
		return true, "", nil
	}
	return false, prevNode, nil
}

// sanitizeKey 把锁键里的路径分隔符替换掉，ZK 节点名不允许出现 '/'。
func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}
