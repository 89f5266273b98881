package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testSessions(t *testing.T, ttl time.Duration) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, ttl), mr
}

func TestIssueLoadRoundTrip(t *testing.T) {
	sm, _ := testSessions(t, time.Hour)
	ctx := context.Background()

	token, err := sm.Issue(ctx, Session{
		UserID:   7,
		Name:     "Site Supervisor",
		Email:    "super@example.com",
		Role:     RoleSupervisor,
		SiteID:   3,
		SiteName: "North Yard",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sess, err := sm.Load(ctx, token)
	require.NoError(t, err)
	require.Equal(t, token, sess.Token)
	require.Equal(t, int64(7), sess.UserID)
	require.Equal(t, RoleSupervisor, sess.Role)
	require.Equal(t, int64(3), sess.SiteID)
	require.NotZero(t, sess.IssuedAt)
}

func TestLoadRefreshesTTL(t *testing.T) {
	sm, mr := testSessions(t, time.Hour)
	ctx := context.Background()

	token, err := sm.Issue(ctx, Session{UserID: 1, Role: RoleAdmin})
	require.NoError(t, err)

	// Two 40 minute jumps would outlive the hour without the refresh on Load.
	mr.FastForward(40 * time.Minute)
	_, err = sm.Load(ctx, token)
	require.NoError(t, err)

	mr.FastForward(40 * time.Minute)
	sess, err := sm.Load(ctx, token)
	require.NoError(t, err)
	require.Equal(t, int64(1), sess.UserID)
}

func TestLoadExpiredToken(t *testing.T) {
	sm, mr := testSessions(t, time.Hour)
	ctx := context.Background()

	token, err := sm.Issue(ctx, Session{UserID: 1, Role: RoleAdmin})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = sm.Load(ctx, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLoadMissingToken(t *testing.T) {
	sm, _ := testSessions(t, time.Hour)

	_, err := sm.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenMissing)

	_, err = sm.Load(context.Background(), "not-issued")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRevoke(t *testing.T) {
	sm, _ := testSessions(t, time.Hour)
	ctx := context.Background()

	token, err := sm.Issue(ctx, Session{UserID: 1, Role: RoleAdmin})
	require.NoError(t, err)

	require.NoError(t, sm.Revoke(ctx, token))
	_, err = sm.Load(ctx, token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	// Revoking twice, or revoking nothing, is not an error.
	require.NoError(t, sm.Revoke(ctx, token))
	require.NoError(t, sm.Revoke(ctx, ""))
}

func TestSaveRewritesSession(t *testing.T) {
	sm, _ := testSessions(t, time.Hour)
	ctx := context.Background()

	token, err := sm.Issue(ctx, Session{UserID: 2, Role: RoleAdmin})
	require.NoError(t, err)

	sess, err := sm.Load(ctx, token)
	require.NoError(t, err)
	sess.SiteID = 9
	sess.SiteName = "East Depot"
	require.NoError(t, sm.Save(ctx, sess))

	again, err := sm.Load(ctx, token)
	require.NoError(t, err)
	require.Equal(t, int64(9), again.SiteID)
	require.Equal(t, "East Depot", again.SiteName)

	require.ErrorIs(t, sm.Save(ctx, nil), ErrTokenInvalid)
	require.ErrorIs(t, sm.Save(ctx, &Session{}), ErrTokenInvalid)
}

func TestBranchScoped(t *testing.T) {
	cases := []struct {
		name string
		sess *Session
		want bool
	}{
		{"nil session", nil, false},
		{"admin with site", &Session{Role: RoleAdmin, SiteID: 3}, false},
		{"supervisor with site", &Session{Role: RoleSupervisor, SiteID: 3}, true},
		{"subcontractor with site", &Session{Role: RoleSubcontractor, SiteID: 3}, true},
		{"supervisor without site", &Session{Role: RoleSupervisor}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.sess.BranchScoped())
		})
	}
}
