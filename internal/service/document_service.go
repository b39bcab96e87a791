package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docqa-go/internal/extract"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 嗅探类型读取的文件头长度，与 mimetype 的默认读取上限一致
const sniffLen = 3072

var (
	// ErrDocumentNotFound 表示文档不存在或不属于调用者的命名空间。
	ErrDocumentNotFound = errors.New("document not found")
	// ErrFileTooLarge 表示上传文件超过大小限制。
	ErrFileTooLarge = errors.New("file too large")
)

// TaskPublisher 发布异步索引任务，kafka.ProduceIndexTask 满足该签名。
type TaskPublisher func(ctx context.Context, task tasks.IndexTask) error

// PreviewInfoDTO 封装了文件预览所需的信息。
type PreviewInfoDTO struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	FileSize int64  `json:"fileSize"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, user *model.User, fileName string, r io.Reader) (*model.Document, error)
	List(ctx context.Context, user *model.User) ([]model.Document, error)
	Get(ctx context.Context, user *model.User, id uint) (*model.Document, error)
	Preview(ctx context.Context, user *model.User, id uint) (*PreviewInfoDTO, error)
}

type documentService struct {
	docRepo   repository.DocumentRepository
	blobs     storage.BlobStore
	extractor extract.Extractor
	tempDir   string
	maxSize   int64
	autoIndex bool
	publish   TaskPublisher
}

// NewDocumentService 创建一个新的 DocumentService 实例。
// autoIndex 为 true 且 publish 非空时，每次上传后发布一个索引任务。
func NewDocumentService(docRepo repository.DocumentRepository, blobs storage.BlobStore, extractor extract.Extractor,
	tempDir string, maxSizeMB int64, autoIndex bool, publish TaskPublisher) DocumentService {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &documentService{
		docRepo:   docRepo,
		blobs:     blobs,
		extractor: extractor,
		tempDir:   tempDir,
		maxSize:   maxSizeMB << 20,
		autoIndex: autoIndex,
		publish:   publish,
	}
}

// Upload 校验类型、落临时文件、抽取文本、上传到 Blob Store 并登记文档。临时文件在所有路径上都会被删除。
func (s *documentService) Upload(ctx context.Context, user *model.User, fileName string, r io.Reader) (*model.Document, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: 文件名为空", ErrInvalidInput)
	}

	// 1. 嗅探文件类型
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	head = head[:n]
	kind, err := extract.Sniff(fileName, head)
	if err != nil {
		log.Warnf("[DocumentService] 拒绝上传 %s: %v", fileName, err)
		return nil, err
	}

	// 2. 写入临时文件 <uuid>_<文件名>
	tmpPath := filepath.Join(s.tempDir, uuid.NewString()+"_"+fileName)
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[DocumentService] 删除临时文件 %s 失败: %v", tmpPath, err)
		}
	}()
	size, err := s.writeTemp(tmpPath, head, r)
	if err != nil {
		return nil, err
	}

	// 3. 抽取文本
	content, err := s.extractor.Extract(ctx, tmpPath, kind)
	if err != nil {
		log.Errorf("[DocumentService] 抽取 %s 文本失败: %v", fileName, err)
		return nil, err
	}

	// 4. 上传原始文件
	key, err := s.blobs.Put(ctx, tmpPath)
	if err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	// 5. 登记文档
	doc := &model.Document{
		Title:       fileName,
		Content:     content,
		Namespace:   user.Namespace,
		StorageKey:  key,
		ContentType: kind.MIME(),
		Size:        size,
		UserID:      user.ID,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("保存文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 文档上传成功, id=%d, title=%s, key=%s, namespace=%s", doc.ID, doc.Title, key, doc.Namespace)

	s.enqueue(ctx, user, doc)
	return doc, nil
}

func (s *documentService) writeTemp(tmpPath string, head []byte, r io.Reader) (int64, error) {
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("创建临时文件失败: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), s.maxSize+1))
	closeErr := f.Close()
	if err != nil {
		return 0, fmt.Errorf("写入临时文件失败: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("写入临时文件失败: %w", closeErr)
	}
	if written > s.maxSize {
		return 0, fmt.Errorf("%w: 超过 %d MB", ErrFileTooLarge, s.maxSize>>20)
	}
	return written, nil
}

// enqueue 发布索引任务，失败只记录日志，上传本身已经成功。
func (s *documentService) enqueue(ctx context.Context, user *model.User, doc *model.Document) {
	if !s.autoIndex || s.publish == nil {
		return
	}
	task := tasks.IndexTask{
		Namespace:   doc.Namespace,
		RequestedBy: user.Username,
		Reason:      tasks.ReasonUpload,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.publish(ctx, task); err != nil {
		if errors.Is(err, errs.ErrQueueDisabled) {
			return
		}
		log.Errorf("[DocumentService] 发布索引任务失败, namespace=%s: %v", doc.Namespace, err)
	}
}

// List 返回调用者命名空间内的文档。
func (s *documentService) List(ctx context.Context, user *model.User) ([]model.Document, error) {
	return s.docRepo.FindByNamespace(ctx, user.Namespace)
}

// Get 返回单个文档，非管理员只能访问自己命名空间内的文档。
func (s *documentService) Get(ctx context.Context, user *model.User, id uint) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.Namespace != user.Namespace && !user.IsAdmin() {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Preview 返回上传时抽取的文本。
func (s *documentService) Preview(ctx context.Context, user *model.User, id uint) (*PreviewInfoDTO, error) {
	doc, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return &PreviewInfoDTO{FileName: doc.Title, Content: doc.Content, FileSize: doc.Size}, nil
}
