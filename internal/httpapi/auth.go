package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/localstore"
)

const (
	tokenIssuer     = "kitchenalert"
	accountsTimeout = 3 * time.Second

	pinMaxFailures = 5
	pinLockout     = 5 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidAccount     = errors.New("invalid account")
	ErrRoleDenied         = errors.New("role not allowed")
	ErrPINMismatch        = errors.New("invalid manager pin")
	ErrPINLocked          = errors.New("manager pin locked, try again later")

	errNoAccounts = errors.New("account book not configured")
)

// Accounts is the account book. It lives in the local mirror so terminals
// can sign in while the remote store is unreachable.
type Accounts interface {
	FindUser(ctx context.Context, username string) (domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues terminal sessions and gates destructive kitchen
// operations behind a manager PIN step-up.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts Accounts
	pinHash  []byte
	now      func() time.Time

	mu       sync.Mutex
	pinFails map[string]pinStrikes
}

// pinStrikes counts consecutive wrong PINs for one manager.
type pinStrikes struct {
	count       int
	lockedUntil time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, accounts Accounts) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
		now:      time.Now,
		pinFails: make(map[string]pinStrikes),
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost); err == nil {
			a.pinHash = hash
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), accountsTimeout)
	defer cancel()
	a.hashSeededPasswords(ctx)
	return a
}

// Login checks the password against the account book and returns a
// session token carrying the account's role.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	account, err := a.account(ctx, req.Username)
	if err != nil || !passwordMatches(account.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.issue(domain.Actor{Username: account.Username, Role: account.Role}, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Authenticate verifies a session token and, when roles are given,
// requires the session's role to be one of them.
func (a *AuthManager) Authenticate(token string, roles ...string) (domain.Actor, error) {
	claims := &sessionClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return domain.Actor{}, ErrInvalidToken
	}

	actor := domain.Actor{Username: claims.Subject, Role: claims.Role}
	if err := authorize(actor, roles); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

// StepUp confirms a manager session with the manager PIN. Five wrong PINs
// in a row lock that manager out of PIN-gated operations for five minutes.
func (a *AuthManager) StepUp(actor domain.Actor, pin string) error {
	if err := authorize(actor, []string{domain.RoleManager}); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	strikes := a.pinFails[actor.Username]
	if now.Before(strikes.lockedUntil) {
		return ErrPINLocked
	}
	if a.pinHash != nil && strings.TrimSpace(pin) != "" &&
		bcrypt.CompareHashAndPassword(a.pinHash, []byte(strings.TrimSpace(pin))) == nil {
		delete(a.pinFails, actor.Username)
		return nil
	}

	strikes.count++
	if strikes.count >= pinMaxFailures {
		strikes = pinStrikes{lockedUntil: now.Add(pinLockout)}
	}
	a.pinFails[actor.Username] = strikes
	return ErrPINMismatch
}

// CreateStaff adds a counter account. New accounts always get the staff role.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	if a.accounts == nil {
		return domain.StaffUser{}, errNoAccounts
	}
	username, err := staffUsername(req)
	if err != nil {
		return domain.StaffUser{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.StaffUser{}, fmt.Errorf("hash password: %w", err)
	}

	account := domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: a.now().UTC(),
	}
	if err := a.accounts.CreateUser(ctx, account); err != nil {
		if errors.Is(err, localstore.ErrUserExists) {
			return domain.StaffUser{}, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return domain.StaffUser{}, err
	}
	return staffView(account), nil
}

// ListStaff returns the staff accounts. Managers are not listed.
func (a *AuthManager) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	if a.accounts == nil {
		return []domain.StaffUser{}, nil
	}
	accounts, err := a.accounts.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	staff := make([]domain.StaffUser, 0, len(accounts))
	for _, account := range accounts {
		if account.Role != domain.RoleStaff {
			continue
		}
		staff = append(staff, staffView(account))
	}
	return staff, nil
}

func (a *AuthManager) issue(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: actor.Role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// account loads one account, replacing a seeded plain-text password with
// its bcrypt hash on first use.
func (a *AuthManager) account(ctx context.Context, username string) (domain.UserAccount, error) {
	if a.accounts == nil {
		return domain.UserAccount{}, errNoAccounts
	}
	account, err := a.accounts.FindUser(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return domain.UserAccount{}, err
	}
	if !isBcryptHash(account.Password) {
		if err := a.rehash(ctx, &account); err != nil {
			return domain.UserAccount{}, err
		}
	}
	return account, nil
}

// hashSeededPasswords rehashes every plain-text password in the book.
func (a *AuthManager) hashSeededPasswords(ctx context.Context) {
	if a.accounts == nil {
		return
	}
	accounts, err := a.accounts.ListUsers(ctx)
	if err != nil {
		return
	}
	for i := range accounts {
		if !isBcryptHash(accounts[i].Password) {
			_ = a.rehash(ctx, &accounts[i])
		}
	}
}

func (a *AuthManager) rehash(ctx context.Context, account *domain.UserAccount) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := a.accounts.UpdateUserPassword(ctx, account.Username, string(hash)); err != nil {
		return err
	}
	account.Password = string(hash)
	return nil
}

// authorize is the single role check shared by session and PIN guards.
func authorize(actor domain.Actor, roles []string) error {
	if len(roles) == 0 || slices.Contains(roles, actor.Role) {
		return nil
	}
	return ErrRoleDenied
}

func staffUsername(req domain.StaffCreateRequest) (string, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	switch {
	case len(username) < 4:
		return "", fmt.Errorf("%w: username must be at least 4 characters", ErrInvalidAccount)
	case strings.ContainsAny(username, " \t\r\n"):
		return "", fmt.Errorf("%w: username must not contain spaces", ErrInvalidAccount)
	case len(strings.TrimSpace(req.Password)) < 6:
		return "", fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidAccount)
	}
	return username, nil
}

func staffView(account domain.UserAccount) domain.StaffUser {
	return domain.StaffUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func passwordMatches(hash string, password string) bool {
	if !isBcryptHash(hash) || strings.TrimSpace(password) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func isBcryptHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
