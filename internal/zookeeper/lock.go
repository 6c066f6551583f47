// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"printforge/internal/pkg/logger"
)

const (
	lockRoot   = "/printforge_locks" // 所有分布式锁的根节点
	nodePrefix = "lock-"
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

// Conn 是对 zk.Conn 的薄封装
type Conn struct {
	*zk.Conn
}

// Connect 建立会话并等待连接可用
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	c, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper %v: %w", servers, err)
	}
	return &Conn{Conn: c}, nil
}

// ensurePath 逐级创建持久节点，已存在时忽略
func (c *Conn) ensurePath(path string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		cur += "/" + part
		_, err := c.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("create node %s: %w", cur, err)
		}
	}
	return nil
}

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     *Conn  // ZooKeeper连接
	path     string // 锁的路径，例如 /printforge_locks/order-123
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	if err := conn.ensurePath(lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 尝试获取锁，获取不到时阻塞等待，直到 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/"+nodePrefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")

	for {
		// 2. 获取锁路径下的所有子节点
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.release()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}

		// 3. 判断自己是否是最小的节点，不是则监听前一个节点
		prev, ok := predecessor(children, myNodeName)
		if !ok {
			l.release()
			return errors.New("own lock node disappeared, session probably expired")
		}
		if prev == "" {
			return nil
		}

		_, _, eventChan, err := l.conn.ExistsW(l.path + "/" + prev)
		if err != nil {
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			l.release()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case <-eventChan:
			// 前一个节点被删除或发生变化，重新竞争
		case <-ctx.Done():
			l.release()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) release() {
	if l.lockNode != "" {
		_ = l.Unlock()
	}
}

// predecessor 按顺序号排序子节点，返回排在 me 前面的节点。
// me 是最小节点时返回空字符串；me 不在列表中时 ok 为 false。
// 受保护的顺序节点带有 GUID 前缀，只能按末尾的序号比较。
func predecessor(children []string, me string) (prev string, ok bool) {
	sorted := append([]string(nil), children...)
	sort.Slice(sorted, func(i, j int) bool {
		return sequenceOf(sorted[i]) < sequenceOf(sorted[j])
	})
	for i, child := range sorted {
		if child == me {
			if i == 0 {
				return "", true
			}
			return sorted[i-1], true
		}
	}
	return "", false
}

func sequenceOf(node string) string {
	if idx := strings.LastIndex(node, nodePrefix); idx >= 0 {
		return node[idx+len(nodePrefix):]
	}
	return node
}

// OrderLocker 用 ZooKeeper 锁串行化同一订单的并发处理
type OrderLocker struct {
	conn    *Conn
	timeout time.Duration
}

func NewOrderLocker(conn *Conn, timeout time.Duration) *OrderLocker {
	return &OrderLocker{conn: conn, timeout: timeout}
}

// Lock 实现 port.OrderLocker
func (o *OrderLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := NewDistributedLock(o.conn, key)
	if err != nil {
		return nil, err
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.L().Warn().Err(err).Str("lock_key", key).Msg("failed to release zookeeper lock")
		}
	}, nil
}
