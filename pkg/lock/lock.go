// Package lock 提供按 key 互斥的锁，用于保护索引快照的写入。
package lock

import (
	"context"
	"fmt"
	"sync"

	"docqa-go/pkg/errs"
)

// Locker 获取 key 对应的互斥锁，返回的 release 必须且只能调用一次。
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker 是进程内的按 key 互斥锁，等待时响应 ctx 取消。
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker 创建进程内锁。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock 实现 Locker。
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s: %w: %w", key, errs.ErrLockTimeout, ctx.Err())
	}
}

// Chain 依次获取多把锁，释放时逆序释放。
type Chain []Locker

// Lock 实现 Locker。任意一把获取失败时释放已持有的锁。
func (c Chain) Lock(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		if l == nil {
			continue
		}
		release, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
