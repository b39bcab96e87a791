package handler

import (
	"net/http"

	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IndexHandler 处理索引重建请求，仅管理员可用。
type IndexHandler struct {
	indexService service.IndexService
}

// NewIndexHandler 创建一个新的 IndexHandler。
func NewIndexHandler(indexService service.IndexService) *IndexHandler {
	return &IndexHandler{indexService: indexService}
}

// Rebuild 重建命名空间索引。?async=true 时发布任务并返回 202。
func (h *IndexHandler) Rebuild(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	namespace := targetNamespace(c, user)

	if c.Query("async") == "true" {
		if err := h.indexService.Enqueue(c.Request.Context(), namespace, user.Username); err != nil {
			log.Warnf("Rebuild: 发布索引任务失败, namespace=%s, error: %v", namespace, err)
			failWith(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "索引任务已提交", "data": gin.H{"namespace": namespace}})
		return
	}

	report, err := h.indexService.Rebuild(c.Request.Context(), namespace)
	if err != nil {
		failWith(c, err)
		return
	}
	log.Infof("管理员 %s 重建了命名空间 %s 的索引, status=%s, chunks=%d", user.Username, namespace, report.Status, report.Chunks)
	ok(c, report)
}
