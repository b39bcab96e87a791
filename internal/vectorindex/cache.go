package vectorindex

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore 缓存已加载的索引，避免每次查询都反序列化快照。
// 本进程的 Save 会直接刷新缓存；其他进程写入的新索引最多在 ttl 之后可见。
type CachedStore struct {
	Store
	cache *expirable.LRU[string, *Index]
}

// WithCache 给 store 加上加载缓存，size <= 0 时不缓存。
func WithCache(store Store, size int, ttl time.Duration) Store {
	if size <= 0 {
		return store
	}
	return &CachedStore{Store: store, cache: expirable.NewLRU[string, *Index](size, nil, ttl)}
}

// Save 实现 Store。
func (s *CachedStore) Save(ctx context.Context, idx *Index) error {
	if err := s.Store.Save(ctx, idx); err != nil {
		return err
	}
	s.cache.Add(idx.Namespace, idx)
	return nil
}

// Load 实现 Store。索引不可变，缓存中的实例可以被并发查询共享。
func (s *CachedStore) Load(ctx context.Context, namespace string) (*Index, error) {
	if idx, ok := s.cache.Get(namespace); ok {
		return idx, nil
	}
	idx, err := s.Store.Load(ctx, namespace)
	if err != nil {
		return nil, err
	}
	s.cache.Add(namespace, idx)
	return idx, nil
}

// Invalidate 丢弃命名空间的缓存。
func (s *CachedStore) Invalidate(namespace string) {
	s.cache.Remove(namespace)
}
