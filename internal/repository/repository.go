package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"classboard/auth-identity/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, active, last_login, created_at, updated_at`

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, userID)
	return scanUser(row)
}

// CreateUser inserts the user row and, for roles that carry a subordinate
// profile, the profile row in the same transaction. A unique violation on
// users.email surfaces as ErrDuplicateEmail; the constraint, not any prior
// existence check, is what makes concurrent registrations safe.
func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, phone, role, active, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Phone, user.Role, user.Active, user.LastLogin, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	if insert, ok := profileInserters[user.Role]; ok {
		if err := insert(ctx, tx, user); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Adding a role with a profile means adding an entry here, not a branch.
var profileInserters = map[model.Role]func(ctx context.Context, tx pgx.Tx, user model.User) error{
	model.RoleParent: func(ctx context.Context, tx pgx.Tx, user model.User) error {
		_, err := tx.Exec(ctx, `INSERT INTO parent_profiles (user_id) VALUES ($1)`, user.ID)
		return err
	},
	model.RoleInstructor: func(ctx context.Context, tx pgx.Tx, user model.User) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO instructor_profiles (user_id, hire_date, employment_type)
			VALUES ($1, $2, $3)
		`, user.ID, user.CreatedAt, "full_time")
		return err
	},
}

var profileFetchers = map[model.Role]func(ctx context.Context, pool *pgxpool.Pool, userID string) (any, error){
	model.RoleParent: func(ctx context.Context, pool *pgxpool.Pool, userID string) (any, error) {
		var profile model.ParentProfile
		row := pool.QueryRow(ctx, `SELECT user_id FROM parent_profiles WHERE user_id = $1`, userID)
		if err := row.Scan(&profile.UserID); err != nil {
			return nil, mapNoRows(err)
		}
		return profile, nil
	},
	model.RoleInstructor: func(ctx context.Context, pool *pgxpool.Pool, userID string) (any, error) {
		var profile model.InstructorProfile
		row := pool.QueryRow(ctx, `
			SELECT user_id, hire_date, employment_type
			FROM instructor_profiles
			WHERE user_id = $1
		`, userID)
		if err := row.Scan(&profile.UserID, &profile.HireDate, &profile.EmploymentType); err != nil {
			return nil, mapNoRows(err)
		}
		return profile, nil
	},
}

// GetRoleDetails returns the subordinate profile for roles that have one and
// ErrNotFound for roles that do not.
func (s *Store) GetRoleDetails(ctx context.Context, role model.Role, userID string) (any, error) {
	fetch, ok := profileFetchers[role]
	if !ok {
		return nil, ErrNotFound
	}
	return fetch(ctx, s.pool, userID)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3
	`, passwordHash, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.Role,
		&user.Active,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return model.User{}, mapNoRows(err)
	}
	return user, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
