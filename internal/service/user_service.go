package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/hash"
	"docqa-go/pkg/log"
	"docqa-go/pkg/token"

	"gorm.io/gorm"
)

var (
	// ErrUserExists 表示用户名已被占用。
	ErrUserExists = errors.New("用户名已存在")
	// ErrInvalidCredentials 表示用户名或密码错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidInput 表示注册参数不合法。
	ErrInvalidInput = errors.New("invalid input")
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(username, password, namespace string) (*model.User, error)
	Login(username, password string) (accessToken string, user *model.User, err error)
	GetProfile(username string) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo         repository.UserRepository
	jwtManager       *token.JWTManager
	blacklist        token.Blacklist
	adminUsers       []string
	defaultNamespace string
}

// NewUserService 创建一个新的 UserService 实例。blacklist 为空时登出只是无操作。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, blacklist token.Blacklist, adminUsers []string, defaultNamespace string) UserService {
	if defaultNamespace == "" {
		defaultNamespace = "default"
	}
	return &userService{
		userRepo:         userRepo,
		jwtManager:       jwtManager,
		blacklist:        blacklist,
		adminUsers:       adminUsers,
		defaultNamespace: defaultNamespace,
	}
}

func (s *userService) roleFor(username string) string {
	if slices.Contains(s.adminUsers, username) {
		return model.RoleAdmin
	}
	return model.RoleUser
}

// Register 处理用户注册的业务逻辑。namespace 为空时进入默认命名空间。
func (s *userService) Register(username, password, namespace string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: 用户名和密码不能为空", ErrInvalidInput)
	}
	if namespace == "" {
		namespace = s.defaultNamespace
	}
	if err := vectorindex.ValidateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Username:  username,
		Password:  hashedPassword,
		Role:      s.roleFor(username),
		Namespace: namespace,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}
	log.Infof("[UserService] 新用户注册成功, username: %s, namespace: %s", username, namespace)
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(username, password string) (string, *model.User, error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", nil, ErrInvalidCredentials
	}

	// 3. 管理员名单可能在注册后变更
	if role := s.roleFor(user.Username); role != user.Role {
		user.Role = role
		if err := s.userRepo.Update(user); err != nil {
			log.Warnf("[UserService] 更新用户角色失败, username: %s, error: %v", username, err)
		}
	}

	// 4. 生成 access token
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role, user.Namespace)
	if err != nil {
		return "", nil, err
	}
	return accessToken, user, nil
}

// GetProfile 根据用户名获取用户详细信息。
func (s *userService) GetProfile(username string) (*model.User, error) {
	return s.userRepo.FindByUsername(username)
}

// Logout 处理用户登出逻辑，将 token 加入黑名单直到它自然过期。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	if s.blacklist == nil {
		return nil
	}
	return s.blacklist.Revoke(ctx, tokenString, time.Until(claims.ExpiresAt.Time))
}
