// Package storage 提供了与对象存储服务（MinIO）以及本地目录交互的 Blob Store。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"docqa-go/internal/config"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DocumentPrefix 是上传文档在存储中的统一前缀。
const DocumentPrefix = "documents/"

// BlobStore 保存上传的原始文件。
type BlobStore interface {
	// Put 上传本地文件，返回存储键（DocumentPrefix + 文件名）。
	Put(ctx context.Context, localPath string) (string, error)
	// List 列出全部文档存储键。
	List(ctx context.Context) ([]string, error)
	// Get 打开存储键对应的内容，不存在时返回 errs.ErrBlobNotFound。
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	if err := EnsureBucket(context.Background(), MinioClient, cfg.BucketName); err != nil {
		log.Fatal("检查或创建 MinIO 存储桶失败", err)
	}
}

// EnsureBucket 检查存储桶是否存在，不存在则创建。
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 '%s' 失败: %w", bucket, err)
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", bucket)
		return nil
	}
	log.Infof("存储桶 '%s' 不存在，正在创建...", bucket)
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建存储桶 '%s' 失败: %w", bucket, err)
	}
	log.Infof("存储桶 '%s' 创建成功", bucket)
	return nil
}

// IsNotFound 判断 MinIO 返回的错误是否表示对象或存储桶不存在。
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
}

// MinioBlobStore 是基于 MinIO 的 BlobStore 实现。
type MinioBlobStore struct {
	client *minio.Client
	bucket string
}

// NewMinioBlobStore 创建一个 MinIO Blob Store。
func NewMinioBlobStore(client *minio.Client, bucket string) *MinioBlobStore {
	return &MinioBlobStore{client: client, bucket: bucket}
}

// Put 上传本地文件，存储键为 documents/<文件名>。
func (s *MinioBlobStore) Put(ctx context.Context, localPath string) (string, error) {
	key := DocumentPrefix + filepath.Base(localPath)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("上传文件到 MinIO 失败: %w", err)
	}
	return key, nil
}

// List 列出 documents/ 前缀下的全部对象。
func (s *MinioBlobStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: DocumentPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列出 MinIO 对象失败: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Get 打开对象。GetObject 是惰性的，先 Stat 一次以便区分对象不存在。
func (s *MinioBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 获取对象 %s 失败: %w", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, errs.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("读取 MinIO 对象 %s 信息失败: %w", key, err)
	}
	return obj, nil
}

// FindBySuffix 在存储键列表中查找以 name 结尾的键，用于没有记录存储键的历史文档。
// 上传时文件名为 <uuid>_<原文件名>，因此匹配 "_<name>" 后缀；存在多个候选时取字典序最大者。
func FindBySuffix(keys []string, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	var found string
	for _, key := range keys {
		base := path.Base(key)
		if base == name || strings.HasSuffix(base, "_"+name) {
			if key > found {
				found = key
			}
		}
	}
	return found, found != ""
}

var _ BlobStore = (*MinioBlobStore)(nil)

// errInvalidKey 表示存储键包含非法路径。
var errInvalidKey = errors.New("invalid blob key")
