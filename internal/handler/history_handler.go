package handler

import (
	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// HistoryHandler 处理问答历史相关的请求。
type HistoryHandler struct {
	historyService service.HistoryService
}

// NewHistoryHandler 创建一个新的 HistoryHandler。
func NewHistoryHandler(historyService service.HistoryService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService}
}

// List 返回当前用户最近的问答记录。
func (h *HistoryHandler) List(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	records, err := h.historyService.List(c.Request.Context(), user)
	if err != nil {
		log.Errorf("获取问答历史失败, user=%s: %v", user.Username, err)
		failWith(c, err)
		return
	}
	ok(c, records)
}
