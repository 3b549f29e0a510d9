// Package auth is the legacy operator/admin login path: plain
// username+password sessions backed by Postgres and bcrypt, kept
// alongside (and independent from) the Schnorr/Bech32 peer login in
// internal/keymgr. It exists for node operators running
// a management UI in front of a meshsync node, not for peers
// participating in the sync protocol itself.
//
// Trimmed from the reference server's internal/auth.Service, which also managed
// wallet-address and phone-number identities, profile search, and a
// models.User type this module doesn't carry; none of that surfaces a
// concern the sync core exercises, so only the password path survives,
// against a local User type in place of the deleted models package.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
)

// User is an operator account authenticated by username and password.
type User struct {
	ID          uuid.UUID
	Username    string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

// Service is the password-login backend, querying the "users" table
// of the node's Postgres database.
type Service struct {
	db *sql.DB
}

// NewService wraps db as an auth Service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateUser hashes password and inserts a new operator account.
func (s *Service) CreateUser(ctx context.Context, username, email, password string) (*User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	u := &User{
		ID:          uuid.New(),
		Username:    username,
		Email:       email,
		DisplayName: username,
		CreatedAt:   time.Now(),
		LastSeenAt:  time.Now(),
	}

	const query = `
		INSERT INTO users (id, username, email, password_hash, display_name, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, username, email, display_name, created_at, last_seen_at
	`
	err = s.db.QueryRowContext(ctx, query,
		u.ID, u.Username, u.Email, string(passwordHash), u.DisplayName, u.CreatedAt, u.LastSeenAt,
	).Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.CreatedAt, &u.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return u, nil
}

// AuthenticateUser verifies a username/password pair and returns the
// matching account.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*User, error) {
	var (
		u            User
		passwordHash string
	)
	const query = `
		SELECT id, username, email, password_hash, display_name, created_at, last_seen_at
		FROM users
		WHERE username = $1
	`
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.Email, &passwordHash, &u.DisplayName, &u.CreatedAt, &u.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// GetUserByID retrieves an operator account by id.
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	var u User
	const query = `
		SELECT id, username, email, display_name, created_at, last_seen_at
		FROM users
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.CreatedAt, &u.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: query user: %w", err)
	}
	return &u, nil
}
