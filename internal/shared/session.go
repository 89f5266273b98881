package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Operator roles. Supervisors and subcontractors are branch-scoped: their
// list queries are restricted to the site recorded on the session.
const (
	RoleAdmin         = "admin"
	RoleSupervisor    = "supervisor"
	RoleSubcontractor = "subcontractor"
)

// Session is the server-side record behind a bearer token.
type Session struct {
	Token    string `json:"-"`
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	SiteID   int64  `json:"site_id,omitempty"`
	SiteName string `json:"site_name,omitempty"`
	IssuedAt int64  `json:"issued_at"`
}

// BranchScoped reports whether list queries must be filtered to the
// session's site.
func (s *Session) BranchScoped() bool {
	return s != nil && s.SiteID != 0 && s.Role != RoleAdmin
}

// SessionManager stores bearer-token sessions in Redis.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl}
}

// Issue creates a token for the session and persists it.
func (sm *SessionManager) Issue(ctx context.Context, sess Session) (string, error) {
	token := uuid.NewString()
	sess.IssuedAt = time.Now().Unix()
	data, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	if err := sm.client.Set(ctx, sm.redisKey(token), data, sm.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Load resolves a bearer token to its session, refreshing the TTL.
func (sm *SessionManager) Load(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	data, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, ErrTokenInvalid
	}
	sess.Token = token
	_ = sm.client.Expire(ctx, sm.redisKey(token), sm.ttl).Err()
	return &sess, nil
}

// Save rewrites session state, e.g. after a branch selection change.
func (sm *SessionManager) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Token == "" {
		return ErrTokenInvalid
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return sm.client.Set(ctx, sm.redisKey(sess.Token), data, sm.ttl).Err()
}

// Revoke deletes the session behind a token.
func (sm *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := sm.client.Del(ctx, sm.redisKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

func (sm *SessionManager) redisKey(token string) string {
	return "session:" + token
}
