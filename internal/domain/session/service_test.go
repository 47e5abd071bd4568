package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/domain/user"
	"github.com/lims/lims/internal/platform/httperr"
)

// -- Mocks --

type mockCreds struct {
	users map[uuid.UUID]*user.User
}

func newMockCreds() *mockCreds {
	return &mockCreds{users: make(map[uuid.UUID]*user.User)}
}

func (m *mockCreds) add(email, password string, status user.Status) *user.User {
	hash, _ := user.HashPassword(password)
	u := &user.User{ID: uuid.New(), LabID: uuid.New(), Name: "Sam", Email: email, PasswordHash: hash, Role: "admin", Status: status}
	m.users[u.ID] = u
	return u
}

func (m *mockCreds) GetByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockCreds) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockCreds) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.LastLogin = &at
	return nil
}

func (m *mockCreds) SetResetToken(_ context.Context, id uuid.UUID, tokenHash string, expires time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpires = &expires
	return nil
}

func (m *mockCreds) GetByResetToken(_ context.Context, tokenHash string) (*user.User, error) {
	now := time.Now()
	for _, u := range m.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash && u.ResetTokenExpires.After(now) {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockCreds) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	u, ok := m.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpires = nil
	return nil
}

type mockSigner struct{}

func (mockSigner) Sign(userID uuid.UUID) (string, error) {
	return "token-for-" + userID.String(), nil
}

type mockLabs struct {
	labs map[uuid.UUID]*lab.Lab
}

func (m *mockLabs) GetByID(_ context.Context, id uuid.UUID) (*lab.Lab, error) {
	l, ok := m.labs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return l, nil
}

type mockPasswords struct{}

func (mockPasswords) ChangePassword(context.Context, uuid.UUID, string, string) error { return nil }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, syslog.Entry) {}

func newTestService(creds *mockCreds, production bool) *Service {
	return NewService(creds, mockSigner{}, &mockLabs{labs: map[uuid.UUID]*lab.Lab{}}, mockPasswords{}, nopRecorder{}, time.Hour, production)
}

// -- Tests --

func TestLogin(t *testing.T) {
	creds := newMockCreds()
	u := creds.add("sam@lab.example", "hunter22", user.StatusActive)
	svc := newTestService(creds, false)

	res, err := svc.Login(context.Background(), "Sam@Lab.Example ", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Error("no token issued")
	}
	if res.User.ID != u.ID {
		t.Error("wrong user returned")
	}
	if creds.users[u.ID].LastLogin == nil {
		t.Error("last login not recorded")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	creds := newMockCreds()
	creds.add("sam@lab.example", "hunter22", user.StatusActive)
	creds.add("inactive@lab.example", "hunter22", user.StatusSuspended)
	svc := newTestService(creds, false)

	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "ghost@lab.example", "hunter22"},
		{"wrong password", "sam@lab.example", "wrong"},
		{"inactive account", "inactive@lab.example", "hunter22"},
	}
	var messages []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.email, tc.password)
			if httperr.KindOf(err) != httperr.KindUnauthenticated {
				t.Fatalf("expected unauthenticated, got %v", err)
			}
			messages = append(messages, httperr.MessageOf(err))
		})
	}
	for _, msg := range messages {
		if msg != messages[0] {
			t.Errorf("failure messages differ, leaking account state: %v", messages)
		}
	}
}

func TestDescribeIncludesLab(t *testing.T) {
	creds := newMockCreds()
	u := creds.add("sam@lab.example", "hunter22", user.StatusActive)
	labs := &mockLabs{labs: map[uuid.UUID]*lab.Lab{
		u.LabID: {ID: u.LabID, Name: "Acme Diagnostics"},
	}}
	svc := NewService(creds, mockSigner{}, labs, mockPasswords{}, nopRecorder{}, time.Hour, false)

	info, err := svc.Describe(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.User.ID != u.ID {
		t.Error("wrong user in session info")
	}
	if info.Lab == nil || info.Lab.Name != "Acme Diagnostics" {
		t.Errorf("lab summary missing: %+v", info.Lab)
	}
}

func TestPasswordResetRoundTrip(t *testing.T) {
	creds := newMockCreds()
	u := creds.add("sam@lab.example", "hunter22", user.StatusActive)
	svc := newTestService(creds, false)

	res, err := svc.RequestPasswordReset(context.Background(), "sam@lab.example")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected raw token outside production")
	}
	if stored := creds.users[u.ID].ResetTokenHash; stored == nil || *stored == res.Token {
		t.Error("raw token stored instead of its hash")
	}

	if err := svc.ResetPassword(context.Background(), res.Token, "new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if !creds.users[u.ID].CheckPassword("new-password") {
		t.Error("new password does not verify")
	}

	// The token is single-use.
	if err := svc.ResetPassword(context.Background(), res.Token, "another-one"); httperr.KindOf(err) != httperr.KindUnauthenticated {
		t.Errorf("expected unauthenticated reusing a consumed token, got %v", err)
	}
}

func TestResetTokenHiddenInProduction(t *testing.T) {
	creds := newMockCreds()
	creds.add("sam@lab.example", "hunter22", user.StatusActive)
	svc := newTestService(creds, true)

	res, err := svc.RequestPasswordReset(context.Background(), "sam@lab.example")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if res.Token != "" {
		t.Error("raw token exposed in production mode")
	}
}

func TestResetUnknownEmailSameAck(t *testing.T) {
	creds := newMockCreds()
	creds.add("sam@lab.example", "hunter22", user.StatusActive)
	svc := newTestService(creds, true)

	known, err := svc.RequestPasswordReset(context.Background(), "sam@lab.example")
	if err != nil {
		t.Fatalf("known email: %v", err)
	}
	unknown, err := svc.RequestPasswordReset(context.Background(), "ghost@lab.example")
	if err != nil {
		t.Fatalf("unknown email: %v", err)
	}
	if known.Message != unknown.Message {
		t.Error("acknowledgment differs between known and unknown email")
	}
}

func TestResetTokenExpiry(t *testing.T) {
	creds := newMockCreds()
	u := creds.add("sam@lab.example", "hunter22", user.StatusActive)
	svc := NewService(creds, mockSigner{}, &mockLabs{}, mockPasswords{}, nopRecorder{}, -time.Minute, false)

	res, err := svc.RequestPasswordReset(context.Background(), "sam@lab.example")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := svc.ResetPassword(context.Background(), res.Token, "new-password"); httperr.KindOf(err) != httperr.KindUnauthenticated {
		t.Errorf("expected unauthenticated for expired token, got %v", err)
	}
	if !creds.users[u.ID].CheckPassword("hunter22") {
		t.Error("password changed despite expired token")
	}
}

func TestResetPasswordTooShort(t *testing.T) {
	svc := newTestService(newMockCreds(), false)
	if err := svc.ResetPassword(context.Background(), "whatever", "abc"); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation for short password, got %v", err)
	}
}
