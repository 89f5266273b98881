package auth

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/buildmat/buildmat/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *shared.SessionManager
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionManager, logger *slog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a bearer token. Supervisor and
// subcontractor accounts carry their assigned site into the session so every
// list query they make is branch-scoped.
func (s *Service) Login(ctx context.Context, email, password string) (string, *shared.Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	sess := shared.Session{
		UserID:   user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     user.Role,
		SiteID:   user.SiteID,
		SiteName: user.SiteName,
	}
	token, err := s.sessions.Issue(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("touch last login", slog.Any("error", err), slog.Int64("user", user.ID))
	}
	sess.Token = token
	return token, &sess, nil
}

// Logout revokes the bearer token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// SelectBranch records the operator's selected site on the session. Admins
// may select any site; scoped roles are pinned to their assigned site.
func (s *Service) SelectBranch(ctx context.Context, sess *shared.Session, siteID int64, siteName string) error {
	if sess.Role != shared.RoleAdmin && sess.SiteID != 0 && sess.SiteID != siteID {
		return shared.ErrInvalidCredentials
	}
	sess.SiteID = siteID
	sess.SiteName = siteName
	return s.sessions.Save(ctx, sess)
}
