package handler

import (
	"net/http"

	"docqa-go/internal/model"
	"docqa-go/internal/service"

	"github.com/gin-gonic/gin"
)

// QueryHandler 处理同步问答请求。
type QueryHandler struct {
	queryService   service.QueryService
	historyService service.HistoryService
}

// NewQueryHandler 创建一个新的 QueryHandler。historyService 为空时不记录问答历史。
func NewQueryHandler(queryService service.QueryService, historyService service.HistoryService) *QueryHandler {
	return &QueryHandler{queryService: queryService, historyService: historyService}
}

// QueryRequest 定义了 POST /nlp/query 的请求体。
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse 是问答成功时的 data 字段。
type QueryResponse struct {
	Answer  string         `json:"answer"`
	Sources []model.Source `json:"sources"`
}

// Query 同时处理 GET ?query= 与 POST {"query": ...}。
func (h *QueryHandler) Query(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}

	query := c.Query("query")
	if c.Request.Method == http.MethodPost {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求负载")
			return
		}
		query = req.Query
	}

	namespace := targetNamespace(c, user)
	outcome, err := h.queryService.Query(c.Request.Context(), namespace, query)
	if err != nil {
		failWith(c, err)
		return
	}
	if h.historyService != nil {
		h.historyService.Record(c.Request.Context(), user, namespace, outcome)
	}

	switch outcome.Status {
	case model.QueryNotFound:
		fail(c, http.StatusNotFound, "Index not found")
	case model.QueryNoResults:
		fail(c, http.StatusNotFound, "No results found")
	default:
		ok(c, QueryResponse{Answer: outcome.Answer, Sources: outcome.Sources})
	}
}
