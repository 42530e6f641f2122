// Package auth registers users, checks passwords and issues the signed
// bearer tokens that authenticate API requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/JonMunkholm/equipstat/internal/store"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrRegistrationClosed = errors.New("registration is disabled")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrWeakPassword       = errors.New("password too short")
)

const (
	issuer         = "equipstat"
	minPasswordLen = 8
)

// UserStore is the persistence the authenticator needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
}

// Options configures an Authenticator.
type Options struct {
	Secret            []byte
	TTL               time.Duration
	AllowRegistration bool

	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Authenticator issues and verifies tokens for users in a UserStore.
type Authenticator struct {
	users UserStore
	opts  Options
}

// Claims are the token claims. Subject holds the user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Session is the result of a successful login or registration.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *store.User
}

// New returns an Authenticator.
func New(users UserStore, opts Options) *Authenticator {
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{users: users, opts: opts}
}

// Register creates an account and logs it in.
func (a *Authenticator) Register(ctx context.Context, username, email, password string) (*Session, error) {
	if !a.opts.AllowRegistration {
		return nil, ErrRegistrationClosed
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, minPasswordLen)
	}

	user, err := a.CreateUser(ctx, username, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	return a.issue(user)
}

// CreateUser hashes password and stores a new user without the
// registration switch. Used by Register and the useradd command.
func (a *Authenticator) CreateUser(ctx context.Context, username, email, password string) (*store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.opts.Cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := a.users.CreateUser(ctx, username, email, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks credentials and issues a token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a.issue(user)
}

// Verify parses and validates a token and returns its claims.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return a.opts.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.opts.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve verifies a token and loads its user.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*store.User, error) {
	claims, err := a.Verify(token)
	if err != nil {
		return nil, err
	}
	id, _ := claims.UserID()

	user, err := a.users.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return user, err
}

func (a *Authenticator) issue(user *store.User) (*Session, error) {
	now := a.opts.Now()
	exp := now.Add(a.opts.TTL)

	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: signed, ExpiresAt: exp, User: user}, nil
}

// TokenFromHeader extracts the token from an Authorization header of the
// form "Bearer <token>" or "Token <token>".
func TokenFromHeader(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return "", false
	}
	switch strings.ToLower(scheme) {
	case "bearer", "token":
	default:
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
