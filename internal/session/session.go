// Package session orchestrates registration, login, token refresh and
// password changes over the credential store.
//
// Issued tokens are never persisted and there is no revocation list: an
// access or refresh token stays valid until its embedded expiry, including
// across password changes. Logout is a client-side discard.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"classboard/auth-identity/internal/auth"
	"classboard/auth-identity/internal/config"
	"classboard/auth-identity/internal/crypto"
	"classboard/auth-identity/internal/model"
	"classboard/auth-identity/internal/repository"
)

// Store is the persistence boundary for user identity and role-profile rows.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	CreateUser(ctx context.Context, user model.User) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	GetRoleDetails(ctx context.Context, role model.Role, userID string) (any, error)
	ListUsers(ctx context.Context, limit int) ([]model.User, error)
}

type Manager struct {
	store Store
	cfg   config.Config
	log   *zap.Logger
	// Bcrypt is CPU-expensive on purpose; the semaphore keeps a burst of
	// login attempts from starving unrelated requests.
	hashSem *semaphore.Weighted
}

func NewManager(store Store, cfg config.Config, log *zap.Logger) *Manager {
	workers := cfg.PasswordHashWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		log:     log,
		hashSem: semaphore.NewWeighted(int64(workers)),
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	Phone     *string
}

// Register creates the user row and, when the role requires one, its profile
// row atomically. It issues no tokens; clients log in afterwards.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return model.User{}, ErrInvalidRole
	}
	email := normalizeEmail(in.Email)

	// Courtesy pre-check only; the unique constraint on users.email is what
	// guarantees a single winner under concurrent registration.
	switch _, err := m.getUserByEmail(ctx, email); {
	case err == nil:
		return model.User{}, ErrEmailTaken
	case !errors.Is(err, repository.ErrNotFound):
		return model.User{}, err
	}

	hash, err := m.hashPassword(ctx, in.Password)
	if err != nil {
		return model.User{}, err
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        in.Phone,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.createUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, err
	}

	m.log.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)))
	return user, nil
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         model.User
}

// Login verifies credentials and mints an access/refresh token pair. Unknown
// email and wrong password fail with the same ErrInvalidCredentials so the
// endpoint cannot be used to enumerate accounts.
func (m *Manager) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := m.getUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.Active {
		return LoginResult{}, ErrAccountDeactivated
	}
	if err := m.checkPassword(ctx, user.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := m.updateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, err
	}
	user.LastLogin = &now

	accessToken, err := auth.NewAccessToken(
		m.cfg.AccessTokenSecret, m.cfg.JWTIssuer, m.cfg.AccessTokenTTL,
		user.ID, user.Email, string(user.Role))
	if err != nil {
		return LoginResult{}, err
	}
	refreshToken, err := auth.NewRefreshToken(
		m.cfg.RefreshTokenSecret, m.cfg.JWTIssuer, m.cfg.RefreshTokenTTL, user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	m.log.Info("login", zap.String("user_id", user.ID))
	return LoginResult{AccessToken: accessToken, RefreshToken: refreshToken, User: user}, nil
}

// Refresh redeems a refresh token for a new access token. The refresh token
// itself is not rotated. The role is re-read from storage rather than
// trusted from any earlier token.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := auth.ParseRefreshToken(m.cfg.RefreshTokenSecret, refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}

	user, err := m.getUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}
	if !user.Active {
		return "", ErrInvalidRefreshToken
	}

	return auth.NewAccessToken(
		m.cfg.AccessTokenSecret, m.cfg.JWTIssuer, m.cfg.AccessTokenTTL,
		user.ID, user.Email, string(user.Role))
}

// ChangePassword re-verifies the current password before persisting the new
// hash. Previously issued tokens stay valid until they expire.
func (m *Manager) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := m.getUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if err := m.checkPassword(ctx, user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := m.hashPassword(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := m.updatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	m.log.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

type ProfileResult struct {
	User        model.User
	RoleDetails any
}

func (m *Manager) Profile(ctx context.Context, userID string) (ProfileResult, error) {
	user, err := m.getUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ProfileResult{}, ErrUserNotFound
		}
		return ProfileResult{}, err
	}

	details, err := m.getRoleDetails(ctx, user.Role, user.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return ProfileResult{}, err
	}
	return ProfileResult{User: user, RoleDetails: details}, nil
}

func (m *Manager) Users(ctx context.Context, limit int) ([]model.User, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	users, err := m.store.ListUsers(sctx, limit)
	return users, classifyStoreErr(err)
}

func (m *Manager) hashPassword(ctx context.Context, password string) (string, error) {
	if err := m.hashSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.hashSem.Release(1)
	return crypto.HashPassword(password, m.cfg.BcryptCost)
}

func (m *Manager) checkPassword(ctx context.Context, hash, password string) error {
	if err := m.hashSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.hashSem.Release(1)
	return crypto.CheckPassword(hash, password)
}

func (m *Manager) getUserByEmail(ctx context.Context, email string) (model.User, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	user, err := m.store.GetUserByEmail(sctx, email)
	return user, classifyStoreErr(err)
}

func (m *Manager) getUserByID(ctx context.Context, userID string) (model.User, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	user, err := m.store.GetUserByID(sctx, userID)
	return user, classifyStoreErr(err)
}

func (m *Manager) createUser(ctx context.Context, user model.User) error {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return classifyStoreErr(m.store.CreateUser(sctx, user))
}

func (m *Manager) updatePasswordHash(ctx context.Context, userID, hash string) error {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return classifyStoreErr(m.store.UpdatePasswordHash(sctx, userID, hash))
}

func (m *Manager) updateLastLogin(ctx context.Context, userID string, at time.Time) error {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	return classifyStoreErr(m.store.UpdateLastLogin(sctx, userID, at))
}

func (m *Manager) getRoleDetails(ctx context.Context, role model.Role, userID string) (any, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	details, err := m.store.GetRoleDetails(sctx, role, userID)
	return details, classifyStoreErr(err)
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.StorageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.StorageTimeout)
}

// A storage deadline is a transient outage, not an authentication failure.
func classifyStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUnavailable
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
