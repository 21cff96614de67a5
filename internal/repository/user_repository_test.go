package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univ-soa/campus-auth-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func userRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "first_name", "last_name", "role", "enabled", "last_login", "created_at", "updated_at"}).
		AddRow("1", "jdoe", "jdoe@example.com", "hash", "Jane", "Doe", string(models.RoleStudent), true, now, now, now)
}

func TestFindByUsername(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, email, password_hash, first_name, last_name, role, enabled, last_login, created_at, updated_at FROM users WHERE username = $1 LIMIT 1")).
		WithArgs("jdoe").
		WillReturnRows(userRows(now))

	user, err := repo.FindByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", user.Username)
	assert.Equal(t, "jdoe@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, email, password_hash, first_name, last_name, role, enabled, last_login, created_at, updated_at FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("jdoe@example.com").
		WillReturnRows(userRows(now))

	user, err := repo.FindByEmail(context.Background(), "jdoe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUsernameNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .* FROM users WHERE username").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsByUsername(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)")).
		WithArgs("jdoe").
		WillReturnRows(rows)

	exists, err := repo.ExistsByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Username: "jdoe", Email: "jdoe@example.com", PasswordHash: "hash", Role: models.RoleStudent}
	err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, email, password_hash, first_name, last_name, role, enabled, last_login, created_at, updated_at FROM users WHERE 1=1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(userRows(now))

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1")).WillReturnRows(countRows)

	users, total, err := repo.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActivationToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO activation_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.ActivationToken{Token: "tok", UserID: "u1", ExpiresAt: time.Now().Add(24 * time.Hour)}
	err := repo.CreateActivationToken(context.Background(), token)
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteActivationTokenConsumed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activation_tokens WHERE token = $1")).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteActivationToken(context.Background(), "tok"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteActivationTokenAlreadyGone(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activation_tokens WHERE token = $1")).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteActivationToken(context.Background(), "tok")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredActivationTokens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activation_tokens WHERE expires_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	purged, err := repo.DeleteExpiredActivationTokens(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
