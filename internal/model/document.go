package model

import "time"

// Document 对应于数据库中的 documents 表。
// Content 在上传时抽取并写入，之后不再修改。
// StorageKey 是上传时记录的对象存储键，索引时直接按键下载。
type Document struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Content     string    `gorm:"type:longtext" json:"-"`
	Namespace   string    `gorm:"type:varchar(64);not null;index" json:"namespace"`
	StorageKey  string    `gorm:"type:varchar(512)" json:"storageKey"`
	ContentType string    `gorm:"type:varchar(128)" json:"contentType"`
	Size        int64     `json:"size"`
	UserID      uint      `gorm:"not null;index" json:"userId"`
	UploadedAt  time.Time `gorm:"autoCreateTime" json:"uploadedAt"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentDTO 是返回给前端的文档信息。
type DocumentDTO struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Namespace   string    `json:"namespace"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ContentLen  int       `json:"contentLength"`
	UserID      uint      `json:"userId"`
	UploadedAt  LocalTime `json:"uploadedAt"`
}

// ToDTO 将 Document 转换为 DocumentDTO。
func (d *Document) ToDTO() DocumentDTO {
	return DocumentDTO{
		ID:          d.ID,
		Title:       d.Title,
		Namespace:   d.Namespace,
		ContentType: d.ContentType,
		Size:        d.Size,
		ContentLen:  len([]rune(d.Content)),
		UserID:      d.UserID,
		UploadedAt:  LocalTime(d.UploadedAt),
	}
}
