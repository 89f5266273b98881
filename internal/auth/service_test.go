package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/buildmat/buildmat/internal/shared"
)

type memoryUserRepo struct {
	users      map[string]*User
	lastLogins map[int64]time.Time
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*User), lastLogins: make(map[int64]time.Time)}
}

func (m *memoryUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memoryUserRepo) TouchLastLogin(_ context.Context, userID int64) error {
	m.lastLogins[userID] = time.Now()
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryUserRepo, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, time.Hour)
	repo := newMemoryUserRepo()
	return NewService(repo, sessions, slog.New(slog.NewTextHandler(io.Discard, nil))), repo, sessions
}

func seedUser(t *testing.T, repo *memoryUserRepo, email, password, role string, siteID int64) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &User{
		ID:           int64(len(repo.users) + 1),
		Email:        email,
		Name:         "Test Operator",
		PasswordHash: string(hash),
		Role:         role,
		SiteID:       siteID,
		IsActive:     true,
	}
	repo.users[email] = u
	return u
}

func TestLoginIssuesSession(t *testing.T) {
	svc, repo, sessions := newTestService(t)
	seedUser(t, repo, "admin@example.com", "secret-password", shared.RoleAdmin, 0)

	token, sess, err := svc.Login(context.Background(), "admin@example.com", "secret-password")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, shared.RoleAdmin, sess.Role)

	loaded, err := sessions.Load(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, sess.UserID, loaded.UserID)
	require.Contains(t, repo.lastLogins, sess.UserID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, repo, "admin@example.com", "secret-password", shared.RoleAdmin, 0)

	_, _, err := svc.Login(context.Background(), "admin@example.com", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	svc, repo, _ := newTestService(t)
	u := seedUser(t, repo, "gone@example.com", "secret-password", shared.RoleSupervisor, 3)
	u.IsActive = false

	_, _, err := svc.Login(context.Background(), "gone@example.com", "secret-password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, repo, sessions := newTestService(t)
	seedUser(t, repo, "admin@example.com", "secret-password", shared.RoleAdmin, 0)

	token, _, err := svc.Login(context.Background(), "admin@example.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), token))
	_, err = sessions.Load(context.Background(), token)
	require.ErrorIs(t, err, shared.ErrTokenInvalid)
}

func TestSelectBranchPinsScopedRoles(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, repo, "super@example.com", "secret-password", shared.RoleSupervisor, 7)

	_, sess, err := svc.Login(context.Background(), "super@example.com", "secret-password")
	require.NoError(t, err)
	require.True(t, sess.BranchScoped())

	// A supervisor cannot hop to another site.
	err = svc.SelectBranch(context.Background(), sess, 9, "Other Site")
	require.Error(t, err)
	require.EqualValues(t, 7, sess.SiteID)
}

func TestSelectBranchAllowsAdminAnySite(t *testing.T) {
	svc, repo, sessions := newTestService(t)
	seedUser(t, repo, "admin@example.com", "secret-password", shared.RoleAdmin, 0)

	token, sess, err := svc.Login(context.Background(), "admin@example.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, svc.SelectBranch(context.Background(), sess, 4, "North Yard"))
	loaded, err := sessions.Load(context.Background(), token)
	require.NoError(t, err)
	require.EqualValues(t, 4, loaded.SiteID)
	require.Equal(t, "North Yard", loaded.SiteName)
}
