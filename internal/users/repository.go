package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when no row matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailExists is returned when a create would violate the unique email index.
var ErrEmailExists = errors.New("email already registered")

// Repository persists User records against Postgres, the only backing
// store for account data regardless of deployment profile.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	Exists(ctx context.Context, id string) (bool, error)
}

// PostgresRepository implements Repository over a pgxpool.Pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository wires a pool into a Repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, email, password_hash, push_token, role, preferences_email, preferences_push, created_at, updated_at
		FROM users WHERE id = $1
	`
	return r.scanOne(ctx, query, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, password_hash, push_token, role, preferences_email, preferences_push, created_at, updated_at
		FROM users WHERE email = $1
	`
	return r.scanOne(ctx, query, email)
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	var u User
	row := r.pool.QueryRow(ctx, query, arg)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PushToken, &u.Role, &u.Preferences.Email, &u.Preferences.Push, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = "viewer"
	}

	const query = `
		INSERT INTO users (id, email, password_hash, push_token, role, preferences_email, preferences_push, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	row := r.pool.QueryRow(ctx, query, u.Email, u.PasswordHash, u.PushToken, u.Role, u.Preferences.Email, u.Preferences.Push, u.CreatedAt, u.UpdatedAt)
	if err := row.Scan(&u.ID); err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
