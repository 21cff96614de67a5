package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/univ-soa/campus-auth-api/internal/models"
	appErrors "github.com/univ-soa/campus-auth-api/pkg/errors"
)

type mockIdentityRepo struct {
	usersByUsername  map[string]*models.User
	usersByID        map[string]*models.User
	emails           map[string]bool
	activations      map[string]*models.ActivationToken
	created          []*models.User
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	enabledSet       map[string]bool
	purged           int64
}

func newMockIdentityRepo() *mockIdentityRepo {
	return &mockIdentityRepo{
		usersByUsername: make(map[string]*models.User),
		usersByID:       make(map[string]*models.User),
		emails:          make(map[string]bool),
		activations:     make(map[string]*models.ActivationToken),
		enabledSet:      make(map[string]bool),
	}
}

func (m *mockIdentityRepo) add(user *models.User) {
	m.usersByUsername[user.Username] = user
	m.usersByID[user.ID] = user
	m.emails[user.Email] = true
}

func (m *mockIdentityRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := m.usersByUsername[username]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIdentityRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.usersByID[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIdentityRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, ok := m.usersByUsername[username]
	return ok, nil
}

func (m *mockIdentityRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return m.emails[email], nil
}

func (m *mockIdentityRepo) Create(ctx context.Context, user *models.User) error {
	m.add(user)
	m.created = append(m.created, user)
	return nil
}

func (m *mockIdentityRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockIdentityRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := m.usersByID[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockIdentityRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.enabledSet[id] = enabled
	if u, ok := m.usersByID[id]; ok {
		u.Enabled = enabled
	}
	return nil
}

func (m *mockIdentityRepo) CreateActivationToken(ctx context.Context, token *models.ActivationToken) error {
	m.activations[token.Token] = token
	return nil
}

func (m *mockIdentityRepo) FindActivationToken(ctx context.Context, token string) (*models.ActivationToken, error) {
	if at, ok := m.activations[token]; ok {
		return at, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIdentityRepo) DeleteActivationToken(ctx context.Context, token string) error {
	if _, ok := m.activations[token]; !ok {
		return sql.ErrNoRows
	}
	delete(m.activations, token)
	return nil
}

func (m *mockIdentityRepo) DeleteExpiredActivationTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for key, at := range m.activations {
		if at.ExpiresAt.Before(cutoff) {
			delete(m.activations, key)
			purged++
		}
	}
	m.purged += purged
	return purged, nil
}

func (m *mockIdentityRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockMailer struct {
	sent []string
	err  error
}

func (m *mockMailer) SendActivationEmail(ctx context.Context, to, firstName, token string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

func newTestAuthService(t *testing.T, repo *mockIdentityRepo, mailer activationMailer, cfg AuthConfig) *AuthService {
	t.Helper()
	tokens := testTokenService(t, "auth-service-secret", time.Hour)
	return NewAuthService(repo, tokens, mailer, nil, validator.New(), zap.NewNop(), cfg)
}

func registerPayload() models.RegisterRequest {
	return models.RegisterRequest{
		Username:  "jdoe",
		Email:     "jdoe@example.com",
		Password:  "password",
		FirstName: "Jane",
		LastName:  "Doe",
		Role:      models.RoleStudent,
	}
}

func TestRegisterSuccess(t *testing.T) {
	repo := newMockIdentityRepo()
	mailer := &mockMailer{}
	svc := newTestAuthService(t, repo, mailer, AuthConfig{AutoEnable: true})

	info, err := svc.Register(context.Background(), registerPayload())
	require.NoError(t, err)
	assert.Equal(t, "jdoe", info.Username)

	require.Len(t, repo.created, 1)
	assert.True(t, repo.created[0].Enabled)
	assert.NotEmpty(t, repo.created[0].PasswordHash)
	assert.NotEqual(t, "password", repo.created[0].PasswordHash)

	require.Len(t, repo.activations, 1)
	for _, at := range repo.activations {
		assert.Equal(t, repo.created[0].ID, at.UserID)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), at.ExpiresAt, time.Minute)
	}

	assert.Equal(t, []string{"jdoe@example.com"}, mailer.sent)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u0", Username: "jdoe", Email: "other@example.com"})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{AutoEnable: true})

	_, err := svc.Register(context.Background(), registerPayload())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateIdentity.Code, appErr.Code)
	assert.Empty(t, repo.created)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u0", Username: "other", Email: "jdoe@example.com"})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{AutoEnable: true})

	_, err := svc.Register(context.Background(), registerPayload())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateIdentity.Code, appErr.Code)
}

func TestRegisterDuplicateEmailCaseInsensitive(t *testing.T) {
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u0", Username: "other", Email: "jdoe@example.com"})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{AutoEnable: true})

	req := registerPayload()
	req.Email = "JDoe@Example.com"
	_, err := svc.Register(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateIdentity.Code, appErr.Code)
	assert.Empty(t, repo.created)
}

func TestRegisterLowercasesEmail(t *testing.T) {
	repo := newMockIdentityRepo()
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{AutoEnable: true})

	req := registerPayload()
	req.Email = "JDoe@Example.com"
	info, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "jdoe@example.com", info.Email)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "jdoe@example.com", repo.created[0].Email)
}

func TestRegisterSucceedsWhenMailFails(t *testing.T) {
	repo := newMockIdentityRepo()
	svc := newTestAuthService(t, repo, &mockMailer{err: context.DeadlineExceeded}, AuthConfig{AutoEnable: true})

	_, err := svc.Register(context.Background(), registerPayload())
	require.NoError(t, err)
	assert.Len(t, repo.created, 1)
}

func TestRegisterAutoEnableOff(t *testing.T) {
	repo := newMockIdentityRepo()
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{AutoEnable: false})

	_, err := svc.Register(context.Background(), registerPayload())
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.False(t, repo.created[0].Enabled)
}

func TestConfirmEnablesAccountOnce(t *testing.T) {
	repo := newMockIdentityRepo()
	user := &models.User{ID: "u1", Username: "jdoe", Email: "jdoe@example.com", Enabled: false}
	repo.add(user)
	repo.activations["tok-1"] = &models.ActivationToken{
		ID: "a1", Token: "tok-1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour),
	}
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	require.NoError(t, svc.Confirm(context.Background(), "tok-1"))
	assert.True(t, user.Enabled)

	err := svc.Confirm(context.Background(), "tok-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTokenNotFound.Code, appErr.Code)
}

func TestConfirmExpiredToken(t *testing.T) {
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u1", Username: "jdoe"})
	repo.activations["tok-1"] = &models.ActivationToken{
		ID: "a1", Token: "tok-1", UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute),
	}
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	err := svc.Confirm(context.Background(), "tok-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErr.Code)

	// Expired tokens are not consumed by a failed confirm.
	assert.Contains(t, repo.activations, "tok-1")
}

func TestConfirmUnknownToken(t *testing.T) {
	repo := newMockIdentityRepo()
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	err := svc.Confirm(context.Background(), "missing")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTokenNotFound.Code, appErr.Code)
}

func TestAuthenticateSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u1", Username: "jdoe", Email: "jdoe@example.com", PasswordHash: string(hash), Enabled: true, Role: models.RoleStudent})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	res, err := svc.Authenticate(context.Background(), models.LoginRequest{Username: "jdoe", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, TokenTypeBearer, res.TokenType)
	assert.Equal(t, int64(time.Hour/time.Millisecond), res.ValidityMs)
	assert.Equal(t, "jdoe", res.User.Username)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.tokens.Claims(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", claims.Username())
	assert.Equal(t, "u1", claims.UserID)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc := newTestAuthService(t, newMockIdentityRepo(), &mockMailer{}, AuthConfig{})

	_, err := svc.Authenticate(context.Background(), models.LoginRequest{Username: "ghost", Password: "password"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u1", Username: "jdoe", PasswordHash: string(hash), Enabled: true})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	_, err := svc.Authenticate(context.Background(), models.LoginRequest{Username: "jdoe", Password: "nope"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u1", Username: "jdoe", PasswordHash: string(hash), Enabled: false})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	// Correct credentials still fail until the account is activated.
	_, err := svc.Authenticate(context.Background(), models.LoginRequest{Username: "jdoe", Password: "password"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAccountDisabled.Code, appErr.Code)
}

func TestUpdatePasswordSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("current"), bcrypt.DefaultCost)
	repo := newMockIdentityRepo()
	user := &models.User{ID: "u1", Username: "jdoe", PasswordHash: string(hash), Enabled: true}
	repo.add(user)
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	err := svc.UpdatePassword(context.Background(), "jdoe", models.UpdatePasswordRequest{
		CurrentPassword: "current",
		NewPassword:     "brand-new",
		ConfirmPassword: "brand-new",
	})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("brand-new")))
}

func TestUpdatePasswordCheckOrder(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("current"), bcrypt.DefaultCost)
	repo := newMockIdentityRepo()
	repo.add(&models.User{ID: "u1", Username: "jdoe", PasswordHash: string(hash)})
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	// Confirmation mismatch is reported before any credential check, even
	// with a wrong current password.
	err := svc.UpdatePassword(context.Background(), "jdoe", models.UpdatePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "new-one",
		ConfirmPassword: "different",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPasswordMismatch.Code, appErrors.FromError(err).Code)

	// Unchanged password is reported next.
	err = svc.UpdatePassword(context.Background(), "jdoe", models.UpdatePasswordRequest{
		CurrentPassword: "current",
		NewPassword:     "current",
		ConfirmPassword: "current",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPasswordUnchanged.Code, appErrors.FromError(err).Code)

	// Only then is the current password verified.
	err = svc.UpdatePassword(context.Background(), "jdoe", models.UpdatePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "new-one",
		ConfirmPassword: "new-one",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestPurgeExpiredActivationTokens(t *testing.T) {
	repo := newMockIdentityRepo()
	repo.activations["old"] = &models.ActivationToken{Token: "old", ExpiresAt: time.Now().Add(-time.Hour)}
	repo.activations["fresh"] = &models.ActivationToken{Token: "fresh", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(t, repo, &mockMailer{}, AuthConfig{})

	purged, err := svc.PurgeExpiredActivationTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.NotContains(t, repo.activations, "old")
	assert.Contains(t, repo.activations, "fresh")
}
