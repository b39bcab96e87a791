package handler

import (
	"net/http"
	"strconv"

	"docqa-go/internal/model"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 处理文档上传与查看请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 处理 multipart 上传，表单字段为 file。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "缺少上传文件字段 file")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("Upload: 打开上传文件失败: %v", err)
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}
	defer file.Close()

	doc, err := h.docService.Upload(c.Request.Context(), user, fileHeader.Filename, file)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, doc.ToDTO())
}

// List 列出调用者命名空间内的文档。
func (h *DocumentHandler) List(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	docs, err := h.docService.List(c.Request.Context(), user)
	if err != nil {
		log.Errorf("List documents failed: %v", err)
		failWith(c, err)
		return
	}
	dtos := make([]model.DocumentDTO, len(docs))
	for i := range docs {
		dtos[i] = docs[i].ToDTO()
	}
	ok(c, dtos)
}

func documentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "无效的文档 ID")
		return 0, false
	}
	return uint(id), true
}

// Get 返回单个文档的信息。
func (h *DocumentHandler) Get(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	id, valid := documentID(c)
	if !valid {
		return
	}
	doc, err := h.docService.Get(c.Request.Context(), user, id)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, doc.ToDTO())
}

// Preview 返回文档抽取出的文本。
func (h *DocumentHandler) Preview(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	id, valid := documentID(c)
	if !valid {
		return
	}
	preview, err := h.docService.Preview(c.Request.Context(), user, id)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, preview)
}
