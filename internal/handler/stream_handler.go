package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/service"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"
	"docqa-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 通过 WebSocket 流式返回回答。
type StreamHandler struct {
	queryService   service.QueryService
	historyService service.HistoryService
	userService    service.UserService
	jwtManager     *token.JWTManager
	blacklist      token.Blacklist
}

// NewStreamHandler 创建一个新的 StreamHandler。historyService 与 blacklist 可以为空。
func NewStreamHandler(queryService service.QueryService, historyService service.HistoryService, userService service.UserService,
	jwtManager *token.JWTManager, blacklist token.Blacklist) *StreamHandler {
	return &StreamHandler{
		queryService:   queryService,
		historyService: historyService,
		userService:    userService,
		jwtManager:     jwtManager,
		blacklist:      blacklist,
	}
}

// streamFrame 是推送给客户端的消息帧。
type streamFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func writeFrame(w interface {
	WriteMessage(int, []byte) error
}, frame streamFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, b)
}

// chunkWriter 把模型的原始分块包装成 chunk 帧。
type chunkWriter struct {
	conn interface {
		WriteMessage(int, []byte) error
	}
}

func (w chunkWriter) WriteMessage(_ int, data []byte) error {
	return writeFrame(w.conn, streamFrame{Type: "chunk", Content: string(data)})
}

// Handle 处理一个传入的 WebSocket 连接，每条文本消息视为一次查询。
func (h *StreamHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}
	if h.blacklist != nil {
		if revoked, err := h.blacklist.IsRevoked(c.Request.Context(), tokenString); err == nil && revoked {
			fail(c, http.StatusUnauthorized, "token 已失效，请重新登录")
			return
		}
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		fail(c, http.StatusUnauthorized, "用户不存在")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}
		if err := h.serve(c, conn, user, string(message)); err != nil {
			log.Warnf("写入 WebSocket 失败: %v", err)
			return
		}
	}
}

// serve 回答一条查询。只有写连接失败时才返回错误。
func (h *StreamHandler) serve(c *gin.Context, conn *websocket.Conn, user *model.User, query string) error {
	outcome, err := h.queryService.Stream(c.Request.Context(), user.Namespace, query, chunkWriter{conn: conn})
	if err != nil {
		log.Errorf("处理流式响应失败, user=%s, kind=%s: %v", user.Username, errs.Kind(err), err)
		message := "AI服务暂时不可用，请稍后重试"
		if statusOf(err) == http.StatusBadRequest {
			message = err.Error()
		}
		if werr := writeFrame(conn, streamFrame{Type: "error", Message: message, Kind: errs.Kind(err)}); werr != nil {
			return werr
		}
		return writeFrame(conn, streamFrame{Type: "completion", Status: "error"})
	}
	if h.historyService != nil {
		h.historyService.Record(c.Request.Context(), user, user.Namespace, outcome)
	}
	return writeFrame(conn, streamFrame{Type: "completion", Status: string(outcome.Status)})
}
