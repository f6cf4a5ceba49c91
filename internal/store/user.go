package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/civicdesk/apiserver/types"
	"github.com/lib/pq"
)

// UserRepository handles persistence for users and their role profiles.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT id, name, email, phone, address, role, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT id, name, email, phone, address, role, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.Address,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// Create inserts the user row together with its role profile (a citizens row
// for citizens, an officials row otherwise) in a single transaction, so a
// user can never exist without its profile.
func (r *UserRepository) Create(ctx context.Context, user types.User, department string) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const userQuery = `
		INSERT INTO users (name, email, phone, address, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		userQuery,
		user.Name,
		user.Email,
		user.Phone,
		user.Address,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}

	switch user.Role {
	case types.RoleCitizen:
		const citizenQuery = `INSERT INTO citizens (user_id) VALUES ($1)`
		if _, err := tx.ExecContext(ctx, citizenQuery, user.ID); err != nil {
			return types.User{}, err
		}
	case types.RoleOfficial, types.RoleHigherOfficial:
		const officialQuery = `INSERT INTO officials (user_id, department) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, officialQuery, user.ID, department); err != nil {
			return types.User{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetCitizenByUserID(ctx context.Context, userID int) (types.Citizen, error) {
	const query = `SELECT id, user_id FROM citizens WHERE user_id = $1`
	var citizen types.Citizen
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&citizen.ID, &citizen.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Citizen{}, ErrNotFound
		}
		return types.Citizen{}, err
	}
	return citizen, nil
}

func (r *UserRepository) GetOfficialByUserID(ctx context.Context, userID int) (types.Official, error) {
	const query = `SELECT id, user_id, department, reports_to FROM officials WHERE user_id = $1`
	var official types.Official
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&official.ID,
		&official.UserID,
		&official.Department,
		&official.ReportsTo,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Official{}, ErrNotFound
		}
		return types.Official{}, err
	}
	return official, nil
}
