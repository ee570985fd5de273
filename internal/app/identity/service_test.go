package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeRepository struct {
	users         map[string]User
	refreshByHash map[string]RefreshToken
	revoked       map[string]bool

	createUserErr error
	// findMissOnce makes the next email lookup miss, simulating a
	// concurrent registration landing between lookup and insert.
	findMissOnce    bool
	createUserCalls int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:         map[string]User{},
		refreshByHash: map[string]RefreshToken{},
		revoked:       map[string]bool{},
	}
}

func (f *fakeRepository) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepository) CreateUser(ctx context.Context, user User) error {
	f.createUserCalls++
	if f.createUserErr != nil {
		return f.createUserErr
	}
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	if f.findMissOnce {
		f.findMissOnce = false
		return User{}, ErrNotFound
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	f.refreshByHash[token.TokenHash] = token
	return nil
}

func (f *fakeRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	token, ok := f.refreshByHash[tokenHash]
	if !ok || f.revoked[token.TokenID] {
		return RefreshToken{}, ErrNotFound
	}
	return token, nil
}

func (f *fakeRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	f.revoked[tokenID] = true
	return nil
}

func newTestService(repo Repository) *Service {
	svc := NewService(repo, NewTokenManager("test-secret"))
	ids := 0
	svc.NewID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	reg, err := svc.Register(context.Background(), "Alice@Example.com", "Alice", "app-password-1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if reg.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", reg.Email)
	}
	if reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatalf("incomplete session: %+v", reg)
	}

	login, err := svc.Login(context.Background(), "alice@example.com", "app-password-1")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if login.UserID != reg.UserID {
		t.Fatalf("login resolved a different user: %q vs %q", login.UserID, reg.UserID)
	}

	if _, err := svc.Login(context.Background(), "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(newFakeRepository())

	if _, err := svc.Register(context.Background(), "  ", "Alice", "app-password-1"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice@example.com", "Alice", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestLogin_WebhookAccountRejected(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	if _, err := svc.EnsureWebhookUser(context.Background(), "board@example.com", "Board"); err != nil {
		t.Fatalf("EnsureWebhookUser returned error: %v", err)
	}

	// The sentinel hash is not a usable credential for any password.
	if _, err := svc.Login(context.Background(), "board@example.com", webhookSentinelHash); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestEnsureWebhookUser(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	created, err := svc.EnsureWebhookUser(context.Background(), " Alice@Example.com ", " Alice ")
	if err != nil {
		t.Fatalf("EnsureWebhookUser returned error: %v", err)
	}
	if created.Email != "alice@example.com" || created.Name != "Alice" {
		t.Fatalf("identity not normalized: %+v", created)
	}
	if created.PasswordHash != webhookSentinelHash {
		t.Fatalf("expected sentinel hash, got %q", created.PasswordHash)
	}

	again, err := svc.EnsureWebhookUser(context.Background(), "alice@example.com", "Alice Renamed")
	if err != nil {
		t.Fatalf("second EnsureWebhookUser returned error: %v", err)
	}
	if again.ID != created.ID {
		t.Fatalf("existing account not reused: %q vs %q", again.ID, created.ID)
	}
	if repo.createUserCalls != 1 {
		t.Fatalf("expected a single create, got %d", repo.createUserCalls)
	}

	if _, err := svc.EnsureWebhookUser(context.Background(), "  ", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestEnsureWebhookUser_ConcurrentCreateLosesGracefully(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	// The account appears between our lookup miss and the insert.
	winner := User{ID: "winner", Email: "alice@example.com", Name: "Alice", PasswordHash: webhookSentinelHash}
	repo.users[winner.ID] = winner
	repo.findMissOnce = true

	got, err := svc.EnsureWebhookUser(context.Background(), "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("EnsureWebhookUser returned error: %v", err)
	}
	if got.ID != "winner" {
		t.Fatalf("expected the concurrent winner to be returned, got %+v", got)
	}
	if len(repo.users) != 1 {
		t.Fatalf("expected a single account, got %d", len(repo.users))
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	reg, err := svc.Register(context.Background(), "alice@example.com", "Alice", "app-password-1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), reg.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if refreshed.RefreshToken == reg.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	// The old token is single-use.
	if _, err := svc.Refresh(context.Background(), reg.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for reused token, got %v", err)
	}

	if _, err := svc.Refresh(context.Background(), ""); !errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("expected ErrRefreshTokenMissing, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	reg, err := svc.Register(context.Background(), "alice@example.com", "Alice", "app-password-1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := svc.Logout(context.Background(), reg.RefreshToken); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), reg.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}

	// Logging out an unknown token is not an error.
	if err := svc.Logout(context.Background(), "no-such-token"); err != nil {
		t.Fatalf("Logout of unknown token returned error: %v", err)
	}
	if err := svc.Logout(context.Background(), ""); !errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("expected ErrRefreshTokenMissing, got %v", err)
	}
}
