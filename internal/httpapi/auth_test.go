package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/localstore"
)

// newAccountBook returns a mirror seeded with a manager whose password is
// still plain text, as first-run seeding leaves it.
func newAccountBook(t *testing.T) *localstore.Mirror {
	t.Helper()
	mirror := localstore.NewMirror(localstore.NewMemoryKV())
	_, err := mirror.SeedUsers(context.Background(), []domain.UserAccount{
		{Username: "manager", Password: "manager123", Role: domain.RoleManager, Active: true},
		{Username: "closer", Password: "closer123", Role: domain.RoleStaff, Active: false},
	})
	if err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	return mirror
}

func TestSeededPasswordsAreHashedAtStartup(t *testing.T) {
	book := newAccountBook(t)
	auth := NewAuthManager("test-secret", time.Hour, "739154", book)

	account, err := book.FindUser(context.Background(), "manager")
	if err != nil {
		t.Fatalf("find manager: %v", err)
	}
	if _, err := bcrypt.Cost([]byte(account.Password)); err != nil {
		t.Fatalf("expected bcrypt hash after startup, got %q", account.Password)
	}

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: " Manager ", Password: "manager123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleManager {
		t.Fatalf("expected manager role, got %s", resp.Role)
	}

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "closer", Password: "closer123"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "x"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestCreateStaffAndListSkipsManagers(t *testing.T) {
	book := newAccountBook(t)
	auth := NewAuthManager("test-secret", time.Hour, "739154", book)
	ctx := context.Background()

	staff, err := auth.CreateStaff(ctx, domain.StaffCreateRequest{Username: "Counter1", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if staff.Username != "counter1" || staff.Role != domain.RoleStaff || !staff.Active {
		t.Fatalf("unexpected staff account %+v", staff)
	}
	if _, err := auth.CreateStaff(ctx, domain.StaffCreateRequest{Username: "COUNTER1", Password: "other123"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
	if _, err := auth.CreateStaff(ctx, domain.StaffCreateRequest{Username: "two words", Password: "pass1234"}); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected invalid account for spaced username, got %v", err)
	}

	listed, err := auth.ListStaff(ctx)
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected closer and counter1, got %+v", listed)
	}
	for _, user := range listed {
		if user.Role != domain.RoleStaff {
			t.Fatalf("manager account leaked into staff list: %+v", user)
		}
	}

	resp, err := auth.Login(ctx, domain.LoginRequest{Username: "counter1", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login as new staff: %v", err)
	}
	actor, err := auth.Authenticate(resp.AccessToken, domain.RoleManager, domain.RoleStaff)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor.Username != "counter1" || actor.Role != domain.RoleStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if _, err := auth.Authenticate(resp.AccessToken, domain.RoleManager); !errors.Is(err, ErrRoleDenied) {
		t.Fatalf("expected staff session to be denied manager routes, got %v", err)
	}
}

func TestAuthenticateRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour, "739154", nil)
	verifier := NewAuthManager("secret-two", time.Hour, "739154", nil)
	manager := domain.Actor{Username: "manager", Role: domain.RoleManager}

	token, err := issuer.issue(manager, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	expired, err := issuer.issue(manager, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Authenticate(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestStepUpLocksManagerAfterRepeatedWrongPINs(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "739154", nil)
	clock := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return clock }
	manager := domain.Actor{Username: "manager", Role: domain.RoleManager}

	if err := auth.StepUp(domain.Actor{Username: "counter", Role: domain.RoleStaff}, "739154"); !errors.Is(err, ErrRoleDenied) {
		t.Fatalf("expected staff to be denied step-up, got %v", err)
	}
	if err := auth.StepUp(manager, "739154"); err != nil {
		t.Fatalf("expected correct pin to pass, got %v", err)
	}

	for i := 0; i < pinMaxFailures; i++ {
		if err := auth.StepUp(manager, "111111"); !errors.Is(err, ErrPINMismatch) {
			t.Fatalf("attempt %d: expected pin mismatch, got %v", i+1, err)
		}
	}
	if err := auth.StepUp(manager, "739154"); !errors.Is(err, ErrPINLocked) {
		t.Fatalf("expected lockout after %d failures, got %v", pinMaxFailures, err)
	}

	clock = clock.Add(pinLockout + time.Second)
	if err := auth.StepUp(manager, "739154"); err != nil {
		t.Fatalf("expected pin to work after lockout expires, got %v", err)
	}
}

func TestStepUpFailsWithoutConfiguredPIN(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "", nil)
	if err := auth.StepUp(domain.Actor{Username: "manager", Role: domain.RoleManager}, ""); !errors.Is(err, ErrPINMismatch) {
		t.Fatalf("expected mismatch when no pin is configured, got %v", err)
	}
}
