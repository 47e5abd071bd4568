// Package session implements login, session introspection and the password
// reset flow on top of the platform token and identity plumbing.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/domain/user"
	"github.com/lims/lims/internal/platform/httperr"
)

// CredentialStore is the pre-auth slice of the user repository: these
// methods run before any caller scope exists and are deliberately global.
type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expires time.Time) error
	GetByResetToken(ctx context.Context, tokenHash string) (*user.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// TokenSigner issues bearer tokens. Implemented by auth.TokenManager.
type TokenSigner interface {
	Sign(userID uuid.UUID) (string, error)
}

// LabSource resolves the lab summary shown on session introspection.
type LabSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*lab.Lab, error)
}

// PasswordChanger is the dedicated current-password-verified change flow,
// implemented by the user service.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
}

type Service struct {
	creds      CredentialStore
	tokens     TokenSigner
	labs       LabSource
	passwords  PasswordChanger
	audit      syslog.Recorder
	resetTTL   time.Duration
	production bool
}

func NewService(creds CredentialStore, tokens TokenSigner, labs LabSource, passwords PasswordChanger, audit syslog.Recorder, resetTTL time.Duration, production bool) *Service {
	return &Service{
		creds:      creds,
		tokens:     tokens,
		labs:       labs,
		passwords:  passwords,
		audit:      audit,
		resetTTL:   resetTTL,
		production: production,
	}
}

// LoginResult pairs the signed token with the authenticated user.
type LoginResult struct {
	Token string     `json:"token"`
	User  *user.User `json:"user"`
}

// Login verifies credentials and issues a token. Bad email, bad password
// and inactive account all produce the same generic failure.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, httperr.Validation("email and password are required")
	}

	u, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.Unauthenticated("invalid credentials")
		}
		return nil, httperr.Internal(err)
	}
	if !u.CheckPassword(password) || u.Status != user.StatusActive {
		s.audit.Record(ctx, syslog.Entry{
			Level:    syslog.LevelWarning,
			Category: syslog.CategoryAuth,
			Message:  "failed login attempt",
			Details:  map[string]interface{}{"email": email},
		})
		return nil, httperr.Unauthenticated("invalid credentials")
	}

	token, err := s.tokens.Sign(u.ID)
	if err != nil {
		return nil, httperr.Internal(err)
	}
	if err := s.creds.UpdateLastLogin(ctx, u.ID, time.Now().UTC()); err != nil {
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryAuth,
		Message:  "user logged in",
		Details:  map[string]interface{}{"user_id": u.ID},
	})
	return &LoginResult{Token: token, User: u}, nil
}

// SessionInfo is the introspection payload for an authenticated caller.
type SessionInfo struct {
	User *user.User `json:"user"`
	Lab  *lab.Lab   `json:"lab,omitempty"`
}

// Describe loads the caller's user row and, when the caller belongs to a
// lab, its lab summary.
func (s *Service) Describe(ctx context.Context, userID uuid.UUID) (*SessionInfo, error) {
	u, err := s.creds.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.Unauthenticated("account no longer exists")
		}
		return nil, httperr.Internal(err)
	}

	info := &SessionInfo{User: u}
	if u.LabID != uuid.Nil {
		l, err := s.labs.GetByID(ctx, u.LabID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.Internal(err)
		}
		info.Lab = l
	}
	return info, nil
}

// ChangePassword delegates to the verified change flow.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	return s.passwords.ChangePassword(ctx, userID, current, next)
}

// hashToken stores only a digest of the reset token, so a leaked database
// row cannot be replayed as a token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ResetRequestResult acknowledges a reset request. Token is populated only
// outside production; in production the raw token travels out of band.
type ResetRequestResult struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

// RequestPasswordReset issues a time-limited reset token. An unknown email
// yields the same acknowledgment as a known one, so the endpoint cannot be
// used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	const ack = "if the account exists, a reset link has been issued"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, httperr.Validation("email is required")
	}

	u, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ResetRequestResult{Message: ack}, nil
		}
		return nil, httperr.Internal(err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, httperr.Internal(err)
	}
	raw := hex.EncodeToString(buf)

	expires := time.Now().UTC().Add(s.resetTTL)
	if err := s.creds.SetResetToken(ctx, u.ID, hashToken(raw), expires); err != nil {
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryAuth,
		Message:  "password reset requested",
		Details:  map[string]interface{}{"user_id": u.ID},
	})

	res := &ResetRequestResult{Message: ack}
	if !s.production {
		res.Token = raw
	}
	return res, nil
}

// ResetPassword consumes a reset token. Expired and unknown tokens are
// indistinguishable.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if len(newPassword) < 6 {
		return httperr.Validation("password must be at least 6 characters")
	}

	u, err := s.creds.GetByResetToken(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.Unauthenticated("reset token is invalid or expired")
		}
		return httperr.Internal(err)
	}

	hash, err := user.HashPassword(newPassword)
	if err != nil {
		return httperr.Internal(err)
	}
	if err := s.creds.UpdatePassword(ctx, u.ID, hash); err != nil {
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryAuth,
		Message:  "password reset completed",
		Details:  map[string]interface{}{"user_id": u.ID},
	})
	return nil
}
