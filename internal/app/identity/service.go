package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskmirror/project/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail        = errors.New("email is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// webhookSentinelHash marks accounts synthesized from webhook deliveries.
// It is not a valid bcrypt hash, so password verification can never succeed
// for these accounts.
const webhookSentinelHash = "!webhook-origin"

type AuthResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	NewID      func() string
	RefreshTTL time.Duration
	Now        func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		NewID:      nuid.Next,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if normalizeEmail(email) == "" {
		return ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, email, name, password string) (AuthResponse, error) {
	if err := validateCredentials(email, password); err != nil {
		return AuthResponse{}, err
	}
	addr := normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Email:        addr,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	addr := normalizeEmail(email)
	if addr == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	// Webhook-synthesized accounts have no usable password.
	if u.PasswordHash == webhookSentinelHash {
		return AuthResponse{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResponse{}, ErrRefreshTokenMissing
	}

	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, session.TokenID); err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.FindUserByID(ctx, session.UserID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrRefreshTokenMissing
	}
	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Repo.RevokeRefreshToken(ctx, session.TokenID)
}

// EnsureWebhookUser resolves the local account for a webhook actor, creating
// a minimal record on first sighting. Created accounts carry the sentinel
// password hash and cannot authenticate through Login.
func (s *Service) EnsureWebhookUser(ctx context.Context, email, name string) (User, error) {
	addr := normalizeEmail(email)
	if addr == "" {
		return User{}, ErrInvalidEmail
	}

	u, err := s.Repo.FindUserByEmail(ctx, addr)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	u = User{
		ID:           s.NewID(),
		Email:        addr,
		Name:         strings.TrimSpace(name),
		PasswordHash: webhookSentinelHash,
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		// A concurrent delivery may have created the account first.
		if errors.Is(err, ErrDuplicateEmail) {
			return s.Repo.FindUserByEmail(ctx, addr)
		}
		return User{}, err
	}
	return u, nil
}

func (s *Service) issueSession(ctx context.Context, user User) (AuthResponse, error) {
	accessToken, err := s.AuthToken.Sign(user.ID, user.Email)
	if err != nil {
		return AuthResponse{}, err
	}

	refreshToken := s.NewID() + "." + s.NewID()
	session := RefreshToken{
		TokenID:   s.NewID(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
	if err := s.Repo.CreateRefreshToken(ctx, session); err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		Token:        accessToken,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
	}, nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func NewTokenManager(secret string) auth.Manager {
	m := auth.NewManager(secret, 15*time.Minute)
	return m
}
