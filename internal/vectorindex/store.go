package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"docqa-go/pkg/errs"
)

// Store 按命名空间持久化索引。Save 必须是原子的：并发的 Load 只会看到旧索引或新索引。
type Store interface {
	Save(ctx context.Context, idx *Index) error
	// Load 在该命名空间从未保存过索引时返回 errs.ErrIndexNotFound。
	Load(ctx context.Context, namespace string) (*Index, error)
}

const snapshotExt = ".msgpack.zst"

// FileStore 把快照保存在 <dir>/<namespace>/<name>.msgpack.zst。
type FileStore struct {
	dir  string
	name string
}

// NewFileStore 创建本地目录存储。
func NewFileStore(dir, name string) *FileStore {
	if name == "" {
		name = "faiss_index"
	}
	return &FileStore{dir: dir, name: name}
}

func (s *FileStore) path(namespace string) string {
	return filepath.Join(s.dir, namespace, s.name+snapshotExt)
}

// Save 先写同目录的临时文件再 rename，读者不会看到写了一半的快照。
func (s *FileStore) Save(ctx context.Context, idx *Index) error {
	if err := ValidateNamespace(idx.Namespace); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(idx.Namespace)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+s.name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := Encode(tmp, idx); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// Load 实现 Store。
func (s *FileStore) Load(ctx context.Context, namespace string) (*Index, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(namespace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("namespace %s: %w", namespace, errs.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	idx, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", namespace, err)
	}
	return idx, nil
}

// syncDir 尽量把 rename 落盘，部分平台不支持对目录 fsync。
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

var _ Store = (*FileStore)(nil)
