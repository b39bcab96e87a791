package vectorindex

import (
	"bytes"
	"context"
	"fmt"

	"docqa-go/pkg/errs"
	"docqa-go/pkg/storage"

	"github.com/minio/minio-go/v7"
)

// IndexPrefix 是索引快照在存储桶中的前缀。
const IndexPrefix = "indexes/"

// MinioStore 把快照保存为对象 indexes/<namespace>/<name>.msgpack.zst。单个对象的 PUT 是原子的。
type MinioStore struct {
	client *minio.Client
	bucket string
	name   string
}

// NewMinioStore 创建对象存储上的索引存储。
func NewMinioStore(client *minio.Client, bucket, name string) *MinioStore {
	if name == "" {
		name = "faiss_index"
	}
	return &MinioStore{client: client, bucket: bucket, name: name}
}

func (s *MinioStore) key(namespace string) string {
	return IndexPrefix + namespace + "/" + s.name + snapshotExt
}

// Save 实现 Store。
func (s *MinioStore) Save(ctx context.Context, idx *Index) error {
	if err := ValidateNamespace(idx.Namespace); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, idx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(idx.Namespace), bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/zstd"})
	if err != nil {
		return fmt.Errorf("上传索引快照失败: %w", err)
	}
	return nil
}

// Load 实现 Store。
func (s *MinioStore) Load(ctx context.Context, namespace string) (*Index, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(namespace), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取索引快照失败: %w", err)
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("namespace %s: %w", namespace, errs.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("读取索引快照信息失败: %w", err)
	}
	idx, err := Decode(obj)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", namespace, err)
	}
	return idx, nil
}

var _ Store = (*MinioStore)(nil)
