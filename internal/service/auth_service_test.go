package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/platform/auth"
	"github.com/diagnosis/staybook/internal/service"
	"github.com/diagnosis/staybook/pkg/metrics"
)

// ---------- Fakes ----------

type memStore struct {
	mu        sync.Mutex
	nextID    int64
	byEmail   map[string]*domain.User
	findErr   error
	createErr error
	// skipLookup hides existing users from FindByEmail to simulate a
	// concurrent registration that passed the pre-check.
	skipLookup bool
}

func newMemStore() *memStore {
	return &memStore{nextID: 1, byEmail: make(map[string]*domain.User)}
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.byEmail[email]
	if !ok || m.skipLookup {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) Create(_ context.Context, nu domain.NewUser) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, exists := m.byEmail[nu.Email]; exists {
		return nil, domain.ErrEmailTaken
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:           m.nextID,
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Phone:        nu.Phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.nextID++
	m.byEmail[nu.Email] = u
	return u, nil
}

type recordingPublisher struct {
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	p.subjects = append(p.subjects, subject)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type brokenHasher struct{}

func (brokenHasher) Hash(string) (string, error) { return "", errors.New("entropy exhausted") }
func (brokenHasher) Verify(string, string) bool  { return false }

// ---------- Setup ----------

var cheapParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fixture struct {
	svc       *service.AuthService
	store     *memStore
	issuer    *auth.Issuer
	publisher *recordingPublisher
	metrics   *metrics.Auth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", 7*24*time.Hour)
	require.NoError(t, err)
	f := &fixture{
		store:     newMemStore(),
		issuer:    issuer,
		publisher: &recordingPublisher{},
		metrics:   metrics.NewAuth(),
	}
	f.svc = service.NewAuthService(f.store, auth.NewPasswordHasher(cheapParams), issuer, f.publisher, f.metrics)
	return f
}

func juan() domain.RegisterInput {
	return domain.RegisterInput{
		Name:            "Juan",
		Email:           "juan@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		Role:            domain.RoleGuest,
	}
}

func requireServiceError(t *testing.T, err error, kind service.Kind, msg string) *service.Error {
	t.Helper()
	var se *service.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, kind, se.Kind)
	assert.Equal(t, msg, se.Error())
	return se
}

func scrape(t *testing.T, m *metrics.Auth) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

// ---------- Register ----------

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	assert.NotEmpty(t, res.Message)
	assert.Equal(t, int64(1), res.User.ID)
	assert.Equal(t, "Juan", res.User.Name)
	assert.Equal(t, domain.RoleGuest, res.User.Role)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "$argon2id$")

	claims, err := f.issuer.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: 1, Role: domain.RoleGuest}, claims.Identity())

	stored := f.store.byEmail["juan@example.com"]
	require.NotNil(t, stored)
	assert.NotEqual(t, "password123", stored.PasswordHash)

	assert.Equal(t, []string{"user.registered"}, f.publisher.subjects)
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.RegisterInput)
		msg    string
	}{
		{"missing fields", func(in *domain.RegisterInput) { in.Email = "" }, "missing required fields"},
		{"password mismatch", func(in *domain.RegisterInput) { in.ConfirmPassword = "password321" }, "passwords do not match"},
		{"invalid role", func(in *domain.RegisterInput) { in.Role = "admin" }, "invalid user type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := juan()
			tt.mutate(&in)

			res, err := f.svc.Register(context.Background(), in)
			assert.Nil(t, res)
			requireServiceError(t, err, service.KindValidation, tt.msg)
			assert.Empty(t, f.store.byEmail)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), juan())
	requireServiceError(t, err, service.KindConflict, "email already registered")
	assert.Contains(t, scrape(t, f.metrics), `staybook_auth_registrations_total{result="conflict"} 1`)
}

func TestRegister_StoreConstraintWinsRace(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	f.store.skipLookup = true
	_, err = f.svc.Register(context.Background(), juan())
	requireServiceError(t, err, service.KindConflict, "email already registered")
	assert.Len(t, f.store.byEmail, 1)
}

func TestRegister_InfrastructureFailures(t *testing.T) {
	t.Run("lookup fails", func(t *testing.T) {
		f := newFixture(t)
		f.store.findErr = errors.New("connection refused")

		_, err := f.svc.Register(context.Background(), juan())
		se := requireServiceError(t, err, service.KindInternal, "internal server error")
		assert.ErrorContains(t, se.Unwrap(), "connection refused")
	})

	t.Run("insert fails", func(t *testing.T) {
		f := newFixture(t)
		f.store.createErr = errors.New("disk full")

		_, err := f.svc.Register(context.Background(), juan())
		requireServiceError(t, err, service.KindInternal, "internal server error")
		assert.NotContains(t, err.Error(), "disk full")
	})

	t.Run("hash fails", func(t *testing.T) {
		f := newFixture(t)
		svc := service.NewAuthService(f.store, brokenHasher{}, f.issuer, nil, nil)

		_, err := svc.Register(context.Background(), juan())
		requireServiceError(t, err, service.KindInternal, "internal server error")
	})
}

func TestRegister_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("nats: no servers available")

	res, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

// ---------- Login ----------

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	reg, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	res, err := f.svc.Login(context.Background(), domain.LoginInput{Email: "juan@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)

	claims, err := f.issuer.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)
	assert.Equal(t, domain.RoleGuest, claims.Role)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), claims.ExpiresAt.Time, time.Minute)

	assert.Equal(t, []string{"user.registered", "user.logged_in"}, f.publisher.subjects)
	assert.Contains(t, scrape(t, f.metrics), `staybook_auth_logins_total{result="success"} 1`)
}

func TestLogin_EnumerationSafe(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(context.Background(), domain.LoginInput{Email: "juan@example.com", Password: "nope"})
	_, unknownEmail := f.svc.Login(context.Background(), domain.LoginInput{Email: "ghost@example.com", Password: "password123"})

	a := requireServiceError(t, wrongPassword, service.KindAuth, "invalid credentials")
	b := requireServiceError(t, unknownEmail, service.KindAuth, "invalid credentials")
	assert.Equal(t, a, b)
}

type countingHasher struct {
	*auth.PasswordHasher
	verifies []string
}

func (c *countingHasher) Verify(plain, hash string) bool {
	c.verifies = append(c.verifies, hash)
	return c.PasswordHasher.Verify(plain, hash)
}

func TestLogin_UnknownEmailStillComparesAHash(t *testing.T) {
	f := newFixture(t)
	hasher := &countingHasher{PasswordHasher: auth.NewPasswordHasher(cheapParams)}
	svc := service.NewAuthService(f.store, hasher, f.issuer, nil, nil)

	_, err := svc.Register(context.Background(), juan())
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), domain.LoginInput{Email: "ghost@example.com", Password: "password123"})
	requireServiceError(t, err, service.KindAuth, "invalid credentials")
	_, err = svc.Login(context.Background(), domain.LoginInput{Email: "juan@example.com", Password: "wrong"})
	requireServiceError(t, err, service.KindAuth, "invalid credentials")
	_, err = svc.Login(context.Background(), domain.LoginInput{Email: "nobody@example.com", Password: "x"})
	requireServiceError(t, err, service.KindAuth, "invalid credentials")

	require.Len(t, hasher.verifies, 3)
	assert.True(t, strings.HasPrefix(hasher.verifies[0], "$argon2id$"), "unknown email verified against %q", hasher.verifies[0])
	assert.Equal(t, hasher.verifies[0], hasher.verifies[2])
	assert.NotEqual(t, hasher.verifies[0], hasher.verifies[1])
}

func TestLogin_EmailIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), domain.LoginInput{Email: "Juan@Example.com", Password: "password123"})
	requireServiceError(t, err, service.KindAuth, "invalid credentials")
}

func TestLogin_MissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), domain.LoginInput{Email: "juan@example.com"})
	requireServiceError(t, err, service.KindValidation, "missing required fields")
}

func TestLogin_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.findErr = errors.New("connection reset")

	_, err := f.svc.Login(context.Background(), domain.LoginInput{Email: "juan@example.com", Password: "x"})
	requireServiceError(t, err, service.KindInternal, "internal server error")
}

// ---------- Profile ----------

func TestProfile(t *testing.T) {
	f := newFixture(t)
	reg, err := f.svc.Register(context.Background(), juan())
	require.NoError(t, err)

	pub, err := f.svc.Profile(context.Background(), domain.Identity{UserID: reg.User.ID, Role: domain.RoleGuest})
	require.NoError(t, err)
	assert.Equal(t, "juan@example.com", pub.Email)

	_, err = f.svc.Profile(context.Background(), domain.Identity{UserID: 999, Role: domain.RoleGuest})
	requireServiceError(t, err, service.KindAuth, "invalid credentials")
}
