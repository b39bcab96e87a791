package repository

import (
	"context"

	"docqa-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindAll(ctx context.Context) ([]model.Document, error)
	FindByNamespace(ctx context.Context, namespace string) ([]model.Document, error)
	FindByID(ctx context.Context, id uint) (*model.Document, error)
	FindByUser(ctx context.Context, userID uint) ([]model.Document, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 保存一条新的文档记录。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// FindAll 按 ID 升序返回全部文档，保证索引构建顺序稳定。
func (r *documentRepository) FindAll(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Order("id ASC").Find(&docs).Error
	return docs, err
}

// FindByNamespace 返回某个命名空间下的全部文档（按 ID 升序）。
func (r *documentRepository) FindByNamespace(ctx context.Context, namespace string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("namespace = ?", namespace).Order("id ASC").Find(&docs).Error
	return docs, err
}

// FindByID 根据 ID 查找文档。
func (r *documentRepository) FindByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUser 返回某个用户上传的文档，最新的在前。
func (r *documentRepository) FindByUser(ctx context.Context, userID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("uploaded_at DESC").Find(&docs).Error
	return docs, err
}
