package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/metrics"
)

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	Create(ctx context.Context, nu domain.NewUser) (*domain.User, error)
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

type TokenIssuer interface {
	Issue(id domain.Identity) (string, error)
}

const (
	msgRegistered = "user registered successfully"
	msgLoggedIn   = "login successful"
)

type AuthService struct {
	users     UserStore
	hasher    PasswordHasher
	tokens    TokenIssuer
	publisher events.Publisher
	metrics   *metrics.Auth
	now       func() time.Time

	// dummyHash is verified against when the email is unknown so both login
	// failures cost one hash comparison.
	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	users UserStore,
	hasher PasswordHasher,
	tokens TokenIssuer,
	publisher events.Publisher,
	m *metrics.Auth,
) *AuthService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, in domain.RegisterInput) (*domain.AuthResult, error) {
	if err := in.Validate(); err != nil {
		s.metrics.Registration(metrics.ResultRejected)
		return nil, validationError(err)
	}

	// Fast path for the common duplicate; the unique index still decides races.
	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		s.metrics.Registration(metrics.ResultConflict)
		return nil, conflictError(domain.ErrEmailTaken)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, s.registerFailed(ctx, "lookup existing user", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.registerFailed(ctx, "hash password", err)
	}

	user, err := s.users.Create(ctx, domain.NewUser{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Phone:        in.Phone,
	})
	if errors.Is(err, domain.ErrEmailTaken) {
		s.metrics.Registration(metrics.ResultConflict)
		return nil, conflictError(domain.ErrEmailTaken)
	}
	if err != nil {
		return nil, s.registerFailed(ctx, "create user", err)
	}

	token, err := s.tokens.Issue(domain.Identity{UserID: user.ID, Role: user.Role})
	if err != nil {
		return nil, s.registerFailed(ctx, "issue token", err)
	}

	s.publish(ctx, events.UserRegistered, events.UserRegisteredEvent{
		UserID:       user.ID,
		Email:        user.Email,
		Role:         string(user.Role),
		RegisteredAt: s.now().UTC(),
	})
	s.metrics.Registration(metrics.ResultSuccess)
	logger.InfoContext(ctx, "User registered", "user_id", user.ID, "role", user.Role)

	return &domain.AuthResult{Message: msgRegistered, User: user.Public(), Token: token}, nil
}

func (s *AuthService) Login(ctx context.Context, in domain.LoginInput) (*domain.AuthResult, error) {
	if err := in.Validate(); err != nil {
		s.metrics.Login(metrics.ResultRejected)
		return nil, validationError(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, domain.ErrNotFound) {
		s.hasher.Verify(in.Password, s.unknownUserHash(ctx))
		s.metrics.Login(metrics.ResultRejected)
		return nil, authError()
	}
	if err != nil {
		return nil, s.loginFailed(ctx, "lookup user", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.metrics.Login(metrics.ResultRejected)
		return nil, authError()
	}

	token, err := s.tokens.Issue(domain.Identity{UserID: user.ID, Role: user.Role})
	if err != nil {
		return nil, s.loginFailed(ctx, "issue token", err)
	}

	s.publish(ctx, events.UserLoggedIn, events.UserLoggedInEvent{
		UserID:     user.ID,
		Role:       string(user.Role),
		LoggedInAt: s.now().UTC(),
	})
	s.metrics.Login(metrics.ResultSuccess)

	return &domain.AuthResult{Message: msgLoggedIn, User: user.Public(), Token: token}, nil
}

// Profile loads the sanitized record of an authenticated identity. A token
// whose user no longer exists is treated as an authentication failure.
func (s *AuthService) Profile(ctx context.Context, id domain.Identity) (*domain.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, authError()
	}
	if err != nil {
		logger.ErrorContext(ctx, "Profile lookup failed", "error", err, "user_id", id.UserID)
		return nil, internalError(err)
	}
	pub := user.Public()
	return &pub, nil
}

func (s *AuthService) unknownUserHash(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("staybook-unknown-user")
		if err != nil {
			logger.WarnContext(ctx, "Failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AuthService) registerFailed(ctx context.Context, step string, err error) *Error {
	s.metrics.Registration(metrics.ResultError)
	logger.ErrorContext(ctx, "Registration failed", "step", step, "error", err)
	return internalError(err)
}

func (s *AuthService) loginFailed(ctx context.Context, step string, err error) *Error {
	s.metrics.Login(metrics.ResultError)
	logger.ErrorContext(ctx, "Login failed", "step", step, "error", err)
	return internalError(err)
}

func (s *AuthService) publish(ctx context.Context, subject string, payload any) {
	if err := s.publisher.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
