package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/univ-soa/campus-auth-api/internal/models"
	appErrors "github.com/univ-soa/campus-auth-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type userListing struct {
	Users      []models.UserInfo  `json:"users"`
	Pagination *models.Pagination `json:"pagination"`
}

// UserService exposes administrative account listings on top of the
// identity store, with a read-through cache on the list endpoint.
type UserService struct {
	repo   userRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewUserService creates an instance of UserService. The cache may be nil.
func NewUserService(repo userRepository, cache *CacheService, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, cache: cache, logger: logger}
}

// List returns paginated public account views and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error) {
	cacheKey := listCacheKey(filter)
	if s.cache.Enabled() {
		var cached userListing
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached.Users, cached.Pagination, nil
		}
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	infos := make([]models.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, users[i].PublicView())
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, userListing{Users: infos, Pagination: pagination}, 0); err != nil {
			s.logger.Warn("failed to cache user listing", zap.Error(err))
		}
	}

	return infos, pagination, nil
}

// Get returns the public view of a single account.
func (s *UserService) Get(ctx context.Context, id string) (*models.UserInfo, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := user.PublicView()
	return &info, nil
}

func listCacheKey(filter models.UserFilter) string {
	role := ""
	if filter.Role != nil {
		role = string(*filter.Role)
	}
	enabled := ""
	if filter.Enabled != nil {
		enabled = fmt.Sprintf("%t", *filter.Enabled)
	}
	return fmt.Sprintf("users:list:%s:%s:%s:%s:%s:%d:%d",
		role, enabled, filter.Search, filter.SortBy, filter.SortOrder, filter.Page, filter.PageSize)
}
