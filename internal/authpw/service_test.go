package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"picwall/api/internal/store"
)

type mockUserStore struct {
	users    map[string]store.User // email -> user
	lookupFn func(email string) error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if m.lookupFn != nil {
		if err := m.lookupFn(email); err != nil {
			return store.User{}, err
		}
	}
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.Email] = user
	return nil
}

func newTestService(m *mockUserStore) *Service {
	return NewService(m).WithCost(bcrypt.MinCost)
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		user, err := svc.SignUp(ctx, SignUpRequest{
			Email:       " Ada@Example.com ",
			Password:    "password123",
			DisplayName: "Ada",
		})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if user.ID == "" || user.Role != "member" {
			t.Fatalf("unexpected user %+v", user)
		}
		stored, ok := mockStore.users["ada@example.com"]
		if !ok {
			t.Fatal("expected user stored under normalized email")
		}
		if stored.PasswordHash == "password123" {
			t.Fatal("password stored in plain text")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "ada@example.com", Password: "password123", DisplayName: "Ada 2"})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})

	cases := []struct {
		name string
		req  SignUpRequest
		want error
	}{
		{"missing name", SignUpRequest{Email: "b@example.com", Password: "password123"}, ErrMissingFields},
		{"bad email", SignUpRequest{Email: "not-an-email", Password: "password123", DisplayName: "B"}, ErrInvalidEmail},
		{"short password", SignUpRequest{Email: "b@example.com", Password: "short", DisplayName: "B"}, ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSignUpSurfacesStoreFailure(t *testing.T) {
	mockStore := newMockUserStore()
	mockStore.lookupFn = func(string) error { return errors.New("connection refused") }
	_, err := newTestService(mockStore).SignUp(context.Background(), SignUpRequest{Email: "c@example.com", Password: "password123", DisplayName: "C"})
	if err == nil || errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "grace@example.com", Password: "password123", DisplayName: "Grace"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	user, err := svc.SignIn(ctx, "GRACE@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.DisplayName != "Grace" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := svc.SignIn(ctx, "grace@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}
