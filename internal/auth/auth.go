package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vestnik/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenExpiry = 7 * 24 * time.Hour

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type UserCredentials struct {
	models.User
	PasswordHash string

	// Counter of consecutive failed login attempts to throttle brute
	// force attacks. Kept in memory only.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// CredentialsStore is the durable backend for user accounts.
type CredentialsStore interface {
	UpsertCredentials(credentials UserCredentials) error
	GetCredentialsByEmail(email string) (UserCredentials, error)
	GetUser(id string) (models.User, error)
}

type Config struct {
	Secret      string
	TokenExpiry time.Duration
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

type tokenClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies bearer tokens and owns account state.
// Credentials are cached in memory in front of the durable store;
// revoked tokens live in a TTL cache sized to the token lifetime.
type AuthService struct {
	Config
	store   CredentialsStore
	users   *geche.Locker[string, *UserCredentials]
	revoked geche.Geche[string, int64]
	now     func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialsStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:  config,
		store:   store,
		users:   geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		revoked: geche.NewMapTTLCache[string, int64](ctx, config.TokenExpiry, time.Minute),
		now:     time.Now,
	}, nil
}

// Register creates a new account and returns the user with a fresh token.
func (as *AuthService) Register(name, email, password string) (models.User, string, error) {
	if name == "" || email == "" || password == "" {
		return models.User{}, "", errors.New("name, email and password are required")
	}

	tx := as.users.Lock()
	defer tx.Unlock()

	if _, err := as.getCredentials(tx, email); err == nil {
		return models.User{}, "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	creds := &UserCredentials{
		User: models.User{
			ID:    uuid.NewString(),
			Name:  name,
			Email: email,
		},
		PasswordHash: string(hash),
	}

	if err := as.store.UpsertCredentials(*creds); err != nil {
		return models.User{}, "", fmt.Errorf("failed to persist user: %w", err)
	}
	tx.Set(email, creds)

	token, err := as.issueToken(creds.ID)
	if err != nil {
		return models.User{}, "", err
	}
	return creds.User, token, nil
}

// Login checks the password and returns the user with a fresh token.
// Failures are deliberately indistinguishable to the caller.
func (as *AuthService) Login(email, password string) (models.User, string, error) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()

	user, err := as.getCredentials(tx, email)
	if err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return models.User{}, "", fmt.Errorf("too many failed login attempts, next attempt in %d seconds",
				nextAttempt-now.Unix())
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		user.IncrementFailedLoginAttempts(now)
		return models.User{}, "", ErrInvalidCredentials
	}

	user.ResetFailedLoginAttempts(now)

	token, err := as.issueToken(user.ID)
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return models.User{}, "", errors.New("internal error")
	}

	return user.User, token, nil
}

// Logout revokes a token. The revocation entry expires together with the
// token itself.
func (as *AuthService) Logout(token string) {
	as.revoked.Set(token, as.now().Unix())
}

// Verify validates a bearer token and returns the user identity it was
// issued for. It is called once per connection attempt and on every
// authenticated API request.
func (as *AuthService) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if _, err := as.revoked.Get(token); err == nil {
		return "", ErrInvalidToken
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(as.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return as.now() }))
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}

	return claims.UserID, nil
}

// GetUser loads the user behind an identity from the durable store.
func (as *AuthService) GetUser(id string) (models.User, error) {
	return as.store.GetUser(id)
}

func (as *AuthService) issueToken(userID string) (string, error) {
	now := as.now()
	claims := tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.TokenExpiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// getCredentials reads through the in-memory cache to the durable store.
func (as *AuthService) getCredentials(tx *geche.Tx[string, *UserCredentials], email string) (*UserCredentials, error) {
	if user, err := tx.Get(email); err == nil {
		return user, nil
	}

	creds, err := as.store.GetCredentialsByEmail(email)
	if err != nil {
		return nil, err
	}
	user := &creds
	tx.Set(email, user)
	return user, nil
}
