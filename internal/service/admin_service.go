package service

import (
	"fmt"

	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/log"
)

// AdminService 定义了管理员对用户的管理操作。
type AdminService interface {
	ListUsers(page, size int) (*UserListResponse, error)
	AssignNamespace(userID uint, namespace string) (*model.User, error)
}

// UserDetailResponse 是管理员看到的用户信息。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Username  string          `json:"username"`
	Role      string          `json:"role"`
	Namespace string          `json:"namespace"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// UserListResponse 是分页的用户列表。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

type adminService struct {
	userRepo repository.UserRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository) AdminService {
	return &adminService{userRepo: userRepo}
}

// ListUsers 以分页的形式返回用户列表，page 从 1 开始。
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 10
	}
	users, total, err := s.userRepo.FindWithPagination((page-1)*size, size)
	if err != nil {
		return nil, err
	}

	content := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		content = append(content, UserDetailResponse{
			UserID:    u.ID,
			Username:  u.Username,
			Role:      u.Role,
			Namespace: u.Namespace,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	totalPages := 0
	if total > 0 {
		totalPages = (int(total) + size - 1) / size
	}
	return &UserListResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}, nil
}

// AssignNamespace 修改用户所属的命名空间。已上传的文档仍留在原命名空间。
func (s *adminService) AssignNamespace(userID uint, namespace string) (*model.User, error) {
	if err := vectorindex.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %d", ErrInvalidInput, userID)
	}
	user.Namespace = namespace
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	log.Infof("[AdminService] 用户 %s 的命名空间已改为 %s", user.Username, namespace)
	return user, nil
}
