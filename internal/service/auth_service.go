package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/univ-soa/campus-auth-api/internal/models"
	appErrors "github.com/univ-soa/campus-auth-api/pkg/errors"
)

// TokenTypeBearer is the scheme reported alongside issued session tokens.
const TokenTypeBearer = "Bearer"

type identityRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	CreateActivationToken(ctx context.Context, token *models.ActivationToken) error
	FindActivationToken(ctx context.Context, token string) (*models.ActivationToken, error)
	DeleteActivationToken(ctx context.Context, token string) error
	DeleteExpiredActivationTokens(ctx context.Context, cutoff time.Time) (int64, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type activationMailer interface {
	SendActivationEmail(ctx context.Context, to, firstName, token string) error
}

// AuthConfig defines configuration for the registration and activation flows.
type AuthConfig struct {
	// AutoEnable controls whether freshly registered accounts may log in
	// before confirming their email. Activation tokens are issued and
	// honored regardless.
	AutoEnable    bool
	ActivationTTL time.Duration
}

// AuthService orchestrates registration, login, activation and password
// management against the identity store and the token codec.
type AuthService struct {
	repo      identityRepository
	tokens    *TokenService
	mailer    activationMailer
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance. The mailer and cache
// may be nil when the deployment runs without SMTP or Redis.
func NewAuthService(repo identityRepository, tokens *TokenService, mailer activationMailer, cache *CacheService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.ActivationTTL <= 0 {
		config.ActivationTTL = 24 * time.Hour
	}
	return &AuthService{
		repo:      repo,
		tokens:    tokens,
		mailer:    mailer,
		cache:     cache,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Register creates a new account, issues a 24h activation token and
// triggers best-effort delivery of the activation link. Delivery failures
// are logged and swallowed; registration succeeds whenever the identity
// write succeeds.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	taken, err := s.repo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username uniqueness")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrDuplicateIdentity, "username already in use")
	}

	email := strings.ToLower(req.Email)
	taken, err = s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrDuplicateIdentity, "email already in use")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        email,
		PasswordHash: string(passwordHash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Enabled:      s.config.AutoEnable,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	activation := &models.ActivationToken{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: s.now().UTC().Add(s.config.ActivationTTL),
	}
	if err := s.repo.CreateActivationToken(ctx, activation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create activation token")
	}

	if s.mailer != nil {
		if err := s.mailer.SendActivationEmail(ctx, user.Email, user.FirstName, activation.Token); err != nil {
			s.logger.Warn("failed to deliver activation email",
				zap.String("email", user.Email), zap.Error(err))
		}
	}

	s.invalidateUserCache(ctx)
	s.audit(ctx, &user.ID, models.AuditActionRegister, user.ID, map[string]interface{}{"username": user.Username, "role": user.Role}, req.IP, req.UserAgent)

	info := user.PublicView()
	return &info, nil
}

// Confirm consumes an activation token and enables the owning account.
// Consumption is one-time: a repeated confirm with the same string reports
// the token as not found.
func (s *AuthService) Confirm(ctx context.Context, tokenString string) error {
	activation, err := s.repo.FindActivationToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrTokenNotFound, "invalid activation token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activation token")
	}

	if activation.Expired(s.now()) {
		return appErrors.Clone(appErrors.ErrTokenExpired, "activation token has expired")
	}

	user, err := s.repo.FindByID(ctx, activation.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrTokenNotFound, "account for activation token no longer exists")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.repo.SetEnabled(ctx, user.ID, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enable account")
	}

	if err := s.repo.DeleteActivationToken(ctx, tokenString); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrTokenNotFound, "activation token already used")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume activation token")
	}

	s.audit(ctx, &user.ID, models.AuditActionActivate, user.ID, nil, "", "")
	return nil
}

// Authenticate verifies credentials and issues a session token. Unknown
// usernames and wrong passwords collapse into the same error so usernames
// cannot be enumerated.
func (s *AuthService) Authenticate(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	if !user.Enabled {
		return nil, appErrors.Clone(appErrors.ErrAccountDisabled, "please activate your account via the emailed link")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue session token")
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, user.ID, map[string]interface{}{"status": "success"}, req.IP, req.UserAgent)

	return &models.LoginResponse{
		Token:      token,
		TokenType:  TokenTypeBearer,
		ValidityMs: s.tokens.ValidityMillis(),
		User:       user.PublicView(),
	}, nil
}

// UpdatePassword changes the password for the given username. Checks run in
// a fixed order: confirmation mismatch, no-op change, then credential
// verification.
func (s *AuthService) UpdatePassword(ctx context.Context, username string, req models.UpdatePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	if req.NewPassword != req.ConfirmPassword {
		return appErrors.Clone(appErrors.ErrPasswordMismatch, "passwords do not match")
	}

	if req.NewPassword == req.CurrentPassword {
		return appErrors.Clone(appErrors.ErrPasswordUnchanged, "new password must be different from current password")
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "current password is incorrect")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, string(newHash), s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.audit(ctx, &user.ID, models.AuditActionPasswordChange, user.ID, map[string]interface{}{"status": "changed"}, "", "")
	return nil
}

// Logout records the event only. Session tokens are stateless and cannot be
// revoked server-side; clients discard their copy.
func (s *AuthService) Logout(ctx context.Context, claims *models.JWTClaims, ip, userAgent string) error {
	if claims == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "not authenticated")
	}
	s.audit(ctx, &claims.UserID, models.AuditActionLogout, claims.UserID, map[string]interface{}{"status": "logout"}, ip, userAgent)
	return nil
}

// Me returns the public view of the authenticated account.
func (s *AuthService) Me(ctx context.Context, username string) (*models.UserInfo, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := user.PublicView()
	return &info, nil
}

// PurgeExpiredActivationTokens deletes expired, unconsumed activation
// tokens and returns the number removed.
func (s *AuthService) PurgeExpiredActivationTokens(ctx context.Context) (int64, error) {
	purged, err := s.repo.DeleteExpiredActivationTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge activation tokens")
	}
	return purged, nil
}

// StartActivationTokenJanitor purges expired activation tokens on the given
// interval until the context is cancelled.
func (s *AuthService) StartActivationTokenJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.PurgeExpiredActivationTokens(ctx)
				if err != nil {
					s.logger.Warn("activation token purge failed", zap.Error(err))
					continue
				}
				if purged > 0 {
					s.logger.Info("purged expired activation tokens", zap.Int64("count", purged))
				}
			}
		}
	}()
}

func (s *AuthService) invalidateUserCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "users:*"); err != nil {
		s.logger.Warn("failed to invalidate user cache", zap.Error(err))
	}
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, resourceID string, values map[string]interface{}, ip, userAgent string) {
	var payload []byte
	if values != nil {
		payload, _ = json.Marshal(values)
	}
	entry := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
