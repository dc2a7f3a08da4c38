package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

const userColumns = `id, first_name, last_name, username, email, is_active, roles, password_hash,
	agreed_terms_at, last_login, created_at, updated_at`

var userOrderings = map[string]string{
	"username":   "username",
	"email":      "email",
	"first_name": "first_name",
	"last_name":  "last_name",
	"is_active":  "is_active",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID            string    `db:"id"`
	FirstName     string    `db:"first_name"`
	LastName      string    `db:"last_name"`
	Username      string    `db:"username"`
	Email         string    `db:"email"`
	IsActive      bool      `db:"is_active"`
	Roles         string    `db:"roles"` // comma separated
	PasswordHash  []byte    `db:"password_hash"`
	AgreedTermsAt null.Time `db:"agreed_terms_at"`
	LastLogin     null.Time `db:"last_login"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func newUserRow(usr user.User) userRow {
	return userRow{
		ID:            usr.ID,
		FirstName:     usr.FirstName,
		LastName:      usr.LastName,
		Username:      usr.Username,
		Email:         usr.Email,
		IsActive:      usr.IsActive,
		Roles:         strings.Join(usr.Roles, ","),
		PasswordHash:  usr.PasswordHash,
		AgreedTermsAt: utcNullTime(usr.AgreedTermsAt),
		LastLogin:     utcNullTime(usr.LastLogin),
		CreatedAt:     usr.CreatedAt.UTC(),
		UpdatedAt:     usr.UpdatedAt.UTC(),
	}
}

func (row userRow) user() user.User {
	roles := make([]string, 0)
	for _, r := range strings.Split(row.Roles, ",") {
		if r != "" {
			roles = append(roles, r)
		}
	}
	return user.User{
		ID:            row.ID,
		FirstName:     row.FirstName,
		LastName:      row.LastName,
		Username:      row.Username,
		Email:         row.Email,
		IsActive:      row.IsActive,
		Roles:         roles,
		PasswordHash:  row.PasswordHash,
		AgreedTermsAt: utcNullTime(row.AgreedTermsAt),
		LastLogin:     utcNullTime(row.LastLogin),
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func utcNullTime(t null.Time) null.Time {
	if !t.Valid {
		return null.Time{}
	}
	return null.TimeFrom(t.Time.UTC())
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DBExecutor) user.Repository {
	return &userRepository{repository{db: db}}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	q := "SELECT username, email FROM users WHERE (username = ? OR email = ?)"
	args := []interface{}{username, email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q, args = in(q+" AND id NOT IN (?)", username, email, ids)
	}

	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err := repo.selectAll(ctx, &rows, q, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if r.Username == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := newUserRow(usr)
	_, err := repo.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.FirstName, row.LastName, row.Username, row.Email, row.IsActive, row.Roles, row.PasswordHash,
		row.AgreedTermsAt, row.LastLogin, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, repo.CheckUniqueness(ctx, usr.Username, usr.Email)
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.user(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	// users with FirstName, LastName, Username or Email matching the search keyword
	if filter.Search != "" {
		val := "%" + strings.ToLower(filter.Search) + "%"
		where = append(where, "(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(username) LIKE ? OR LOWER(email) LIKE ?)")
		args = append(args, val, val, val, val)
	}
	// users with any role that starts with any of the provided roles
	if len(filter.Roles) > 0 {
		roleClauses := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			roleClauses = append(roleClauses, "(',' || roles) LIKE ?")
			args = append(args, "%,"+strings.ToLower(role)+"%")
		}
		where = append(where, "("+strings.Join(roleClauses, " OR ")+")")
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += orderBy(orderings, userOrderings, "username ASC")

	var rows []userRow
	if err := repo.selectAll(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.user())
	}
	return users, nil
}

func (repo *userRepository) getUser(ctx context.Context, where string, args ...interface{}) (user.User, error) {
	var row userRow
	if err := repo.get(ctx, &row, "SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return row.user(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getUser(ctx, "id = ?", id)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, "email = ?", email)
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getUser(ctx, "username = ? OR email = ?", username, username)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := newUserRow(usr)
	res, err := repo.exec(ctx, `UPDATE users SET first_name = ?, last_name = ?, username = ?, email = ?, is_active = ?,
		roles = ?, password_hash = ?, agreed_terms_at = ?, last_login = ?, updated_at = ? WHERE id = ?`,
		row.FirstName, row.LastName, row.Username, row.Email, row.IsActive, row.Roles, row.PasswordHash,
		row.AgreedTermsAt, row.LastLogin, row.UpdatedAt, row.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, repo.CheckUniqueness(ctx, usr.Username, usr.Email, usr)
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return row.user(), nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args := in("DELETE FROM users WHERE id IN (?)", ids)
	_, err := repo.exec(ctx, q, args...)
	return errors.Wrap(err, "deleting users")
}
