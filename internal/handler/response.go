// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"docqa-go/internal/middleware"
	"docqa-go/internal/model"
	"docqa-go/internal/service"
	"docqa-go/pkg/errs"

	"github.com/gin-gonic/gin"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, errs.ErrInvalidNamespace):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errs.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errs.ErrExtractionFailure):
		return http.StatusUnprocessableEntity
	case errs.IsProviderError(err):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrQueueDisabled), errors.Is(err, errs.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failWith 返回错误信息与错误类别，5xx 不暴露内部错误细节。
func failWith(c *gin.Context, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "服务器内部错误"
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": gin.H{"kind": errs.Kind(err)}})
}

// currentUser 返回 AuthMiddleware 注入的用户。
func currentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get(middleware.ContextUser)
	if !exists {
		fail(c, http.StatusUnauthorized, "未认证用户或无法获取用户信息")
		return nil, false
	}
	user, isUser := v.(*model.User)
	if !isUser || user == nil {
		fail(c, http.StatusInternalServerError, "用户数据类型错误")
		return nil, false
	}
	return user, true
}

// targetNamespace 返回请求作用的命名空间：管理员可以用 ?namespace= 指定，其他用户固定为自己的命名空间。
func targetNamespace(c *gin.Context, user *model.User) string {
	if ns := c.Query("namespace"); ns != "" && user.IsAdmin() {
		return ns
	}
	return user.Namespace
}
