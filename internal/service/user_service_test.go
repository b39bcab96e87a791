package service

import (
	"context"
	"testing"
	"time"

	"docqa-go/internal/model"
	"docqa-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlacklist struct {
	revoked map[string]time.Duration
}

func (b *memBlacklist) Revoke(_ context.Context, tokenString string, ttl time.Duration) error {
	b.revoked[tokenString] = ttl
	return nil
}

func (b *memBlacklist) IsRevoked(_ context.Context, tokenString string) (bool, error) {
	_, ok := b.revoked[tokenString]
	return ok, nil
}

func newUserService(bl token.Blacklist) (UserService, *token.JWTManager) {
	jwtManager := token.NewJWTManager("test-secret", 30)
	return NewUserService(&memUsers{}, jwtManager, bl, []string{"root"}, "default"), jwtManager
}

func TestRegisterAndLogin(t *testing.T) {
	svc, jwtManager := newUserService(nil)

	user, err := svc.Register("alice", "s3cret", "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "default", user.Namespace)
	assert.NotEqual(t, "s3cret", user.Password)

	accessToken, logged, err := svc.Login("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	claims, err := jwtManager.VerifyToken(accessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "default", claims.Namespace)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newUserService(nil)

	_, err := svc.Register("alice", "pw", "team-a")
	require.NoError(t, err)
	_, err = svc.Register("alice", "other", "")
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = svc.Register("", "pw", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Register("bob", "pw", "Not/Valid")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_AdminRole(t *testing.T) {
	svc, _ := newUserService(nil)
	user, err := svc.Register("root", "pw", "")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newUserService(nil)
	_, err := svc.Register("alice", "right", "")
	require.NoError(t, err)

	_, _, err = svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login("nobody", "right")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout_RevokesToken(t *testing.T) {
	bl := &memBlacklist{revoked: map[string]time.Duration{}}
	svc, _ := newUserService(bl)
	_, err := svc.Register("alice", "pw", "")
	require.NoError(t, err)
	accessToken, _, err := svc.Login("alice", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), accessToken))
	revoked, err := bl.IsRevoked(context.Background(), accessToken)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Positive(t, bl.revoked[accessToken])

	assert.Error(t, svc.Logout(context.Background(), "garbage"))
}
