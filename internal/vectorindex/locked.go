package vectorindex

import (
	"context"
	"fmt"

	"docqa-go/pkg/lock"
)

// LockedStore 在 Save 期间持有命名空间锁，保证同一命名空间同时只有一个写者。
type LockedStore struct {
	Store
	locker lock.Locker
}

// WithLock 给 store 加上写锁。
func WithLock(store Store, locker lock.Locker) *LockedStore {
	return &LockedStore{Store: store, locker: locker}
}

// Save 实现 Store。
func (s *LockedStore) Save(ctx context.Context, idx *Index) error {
	release, err := s.locker.Lock(ctx, "index:"+idx.Namespace)
	if err != nil {
		return fmt.Errorf("persist index %s: %w", idx.Namespace, err)
	}
	defer release()
	return s.Store.Save(ctx, idx)
}
