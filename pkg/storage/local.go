package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docqa-go/pkg/errs"
)

// LocalBlobStore 把文件保存在本地目录中，适用于未部署 MinIO 的单机环境。
type LocalBlobStore struct {
	dir string
}

// NewLocalBlobStore 创建本地目录 Blob Store。
func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local blob dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, DocumentPrefix), 0o755); err != nil {
		return nil, err
	}
	return &LocalBlobStore{dir: dir}, nil
}

func (s *LocalBlobStore) pathOf(key string) (string, error) {
	if !strings.HasPrefix(key, DocumentPrefix) {
		return "", fmt.Errorf("%s: %w", key, errInvalidKey)
	}
	name := strings.TrimPrefix(key, DocumentPrefix)
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", fmt.Errorf("%s: %w", key, errInvalidKey)
	}
	return filepath.Join(s.dir, DocumentPrefix, name), nil
}

// Put 复制本地文件到存储目录。
func (s *LocalBlobStore) Put(ctx context.Context, localPath string) (string, error) {
	key := DocumentPrefix + filepath.Base(localPath)
	dst, err := s.pathOf(key)
	if err != nil {
		return "", err
	}
	in, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return key, ctx.Err()
}

// List 按字典序列出存储目录中的全部键。
func (s *LocalBlobStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, DocumentPrefix))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		keys = append(keys, DocumentPrefix+e.Name())
	}
	sort.Strings(keys)
	return keys, ctx.Err()
}

// Get 打开存储键对应的文件。
func (s *LocalBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.pathOf(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, errs.ErrBlobNotFound)
		}
		return nil, err
	}
	return f, ctx.Err()
}

var _ BlobStore = (*LocalBlobStore)(nil)
