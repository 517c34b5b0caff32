package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/NicRodri/COMP4537-Project/internal/mlclient"
	"github.com/NicRodri/COMP4537-Project/internal/models"
	"github.com/NicRodri/COMP4537-Project/internal/token"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("email or username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidRole        = errors.New("invalid role")
	ErrProcessing         = errors.New("error processing the image")
)

// apiCallAlertThreshold is the per-user call count past which reaging
// responses carry the alert header.
const apiCallAlertThreshold = 20

const bcryptCost = 12

type Database interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	DeleteUser(ctx context.Context, id string) (bool, error)
	UpdateUserRole(ctx context.Context, id, role string) (bool, error)
	RevokeToken(ctx context.Context, tokenString string, expiry time.Time) error
	IncrementUserAPICalls(ctx context.Context, userID string) (int64, error)
	GetUserAPICalls(ctx context.Context, userID string) (int64, error)
	ListEndpointUsage(ctx context.Context) ([]models.EndpointUsage, error)
	ListUserCallCounts(ctx context.Context) ([]models.UserCallCount, error)
}

type ServiceImpl struct {
	db     Database
	tokens *token.Service
	ml     mlclient.Transformer
	logger *slog.Logger
}

func NewService(db Database, tokens *token.Service, ml mlclient.Transformer, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{db: db, tokens: tokens, ml: ml, logger: logger}
}

// Register creates a user with the default role and issues a session
// token. Duplicate email or username both surface as ErrUserExists; the
// handler turns that into a conflict.
func (s *ServiceImpl) Register(ctx context.Context, username, email, password string) (*models.User, string, error) {
	existing, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		existing, err = s.db.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, "", err
		}
	}
	if existing != nil {
		return nil, "", ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, "", err
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Username: username,
		Email:    email,
		Password: string(hashed),
		Role:     models.RoleUser,
	}

	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	s.logger.Info("user registered", "user_id", user.ID)

	t, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, t, nil
}

// Login verifies credentials and issues a session token. An unknown
// email and a wrong password are deliberately indistinguishable.
func (s *ServiceImpl) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	t, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, t, nil
}

// SignedIn reports the caller's current role straight from the store,
// not from the token claim.
func (s *ServiceImpl) SignedIn(ctx context.Context, userID string) (string, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	return user.Role, nil
}

// Logout blacklists the token until its own expiry. The token already
// passed verification upstream, so Decode only reads the expiry claim.
func (s *ServiceImpl) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.tokens.Decode(tokenString)
	if err != nil {
		return err
	}

	expiry := time.Now().Add(token.DefaultTTL)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return s.db.RevokeToken(ctx, tokenString, expiry)
}

// ProcessImage forwards the upload to the model and meters the call.
// The returned bool is the alert signal: true once the user's
// post-increment count has passed the threshold. A counter failure is
// logged and swallowed; accounting never fails the image request.
func (s *ServiceImpl) ProcessImage(ctx context.Context, userID string, image []byte, contentType string) ([]byte, bool, error) {
	result, err := s.ml.Transform(ctx, image, contentType)
	if err != nil {
		s.logger.Error("ml transform failed", "error", err, "user_id", userID)
		return nil, false, ErrProcessing
	}
	if len(result) == 0 {
		return nil, false, ErrProcessing
	}

	count, err := s.db.IncrementUserAPICalls(ctx, userID)
	if err != nil {
		s.logger.Warn("api call count update failed", "error", err, "user_id", userID)
		return result, false, nil
	}

	return result, count > apiCallAlertThreshold, nil
}

// UserAPIUsage returns the caller's own cumulative call count.
func (s *ServiceImpl) UserAPIUsage(ctx context.Context, userID string) (int64, error) {
	return s.db.GetUserAPICalls(ctx, userID)
}

func (s *ServiceImpl) UsageStats(ctx context.Context) ([]models.EndpointUsage, error) {
	return s.db.ListEndpointUsage(ctx)
}

func (s *ServiceImpl) UserCallCounts(ctx context.Context) ([]models.UserCallCount, error) {
	return s.db.ListUserCallCounts(ctx)
}

func (s *ServiceImpl) DeleteUser(ctx context.Context, id string) error {
	deleted, err := s.db.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrUserNotFound
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

// UpdateUserRole sets a user's role; only values from the closed role
// set are accepted and an invalid value leaves the stored role alone.
func (s *ServiceImpl) UpdateUserRole(ctx context.Context, id, role string) error {
	if !models.ValidRole(role) {
		return ErrInvalidRole
	}

	updated, err := s.db.UpdateUserRole(ctx, id, role)
	if err != nil {
		return err
	}
	if !updated {
		return ErrUserNotFound
	}
	s.logger.Info("user role updated", "user_id", id, "role", role)
	return nil
}
