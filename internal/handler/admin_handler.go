package handler

import (
	"net/http"
	"strconv"

	"docqa-go/internal/service"
	"docqa-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 处理分页获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	userList, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		fail(c, http.StatusInternalServerError, "获取用户列表失败")
		return
	}
	ok(c, userList)
}

// AssignNamespaceRequest 定义了修改用户命名空间 API 的请求体结构。
type AssignNamespaceRequest struct {
	Namespace string `json:"namespace" binding:"required"`
}

// AssignNamespace 处理修改指定用户命名空间的请求。
func (h *AdminHandler) AssignNamespace(c *gin.Context) {
	admin, found := currentUser(c)
	if !found {
		return
	}
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		log.Warnf("AssignNamespace: Invalid user ID format, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的用户 ID")
		return
	}
	var req AssignNamespaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}

	user, err := h.adminService.AssignNamespace(uint(userID), req.Namespace)
	if err != nil {
		log.Warnf("AssignNamespace: Failed for user ID %d, error: %v", userID, err)
		failWith(c, err)
		return
	}
	log.Infof("Admin user '%s' moved user ID %d to namespace '%s'", admin.Username, userID, req.Namespace)
	ok(c, user)
}
