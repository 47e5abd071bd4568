package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/httperr"
	"github.com/lims/lims/internal/platform/tenant"
)

// LabChecker exposes the two facts about a lab that user creation needs:
// whether it exists and how many users its subscription allows. Implemented
// by the lab repository; an interface here keeps the dependency one-way.
type LabChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	UserLimit(ctx context.Context, id uuid.UUID) (int, error)
}

// NoUserLimit marks a subscription tier with no user cap.
const NoUserLimit = -1

type Service struct {
	repo  Repository
	labs  LabChecker
	tx    db.TxRunner
	audit syslog.Recorder
}

func NewService(repo Repository, labs LabChecker, tx db.TxRunner, audit syslog.Recorder) *Service {
	return &Service{repo: repo, labs: labs, tx: tx, audit: audit}
}

// AccountByID implements auth.AccountSource for the authentication
// middleware.
func (s *Service) AccountByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Account(), nil
}

// CreateInput carries the only fields a client may supply when creating a
// user. Permissions are absent by construction: they derive from the role.
type CreateInput struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
	LabID    uuid.UUID `json:"lab_id"`
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return httperr.Validation("name is required")
	}
	if !strings.Contains(in.Email, "@") {
		return httperr.Validation("a valid email is required")
	}
	if len(in.Password) < 6 {
		return httperr.Validation("password must be at least 6 characters")
	}
	if in.Role != auth.RoleAdmin && in.Role != auth.RoleTechnician {
		return httperr.Validation("role must be admin or technician")
	}
	return nil
}

// Create registers a new user. Fails with Conflict when the email is already
// taken (globally), and with Validation when the referenced lab is unknown.
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, httperr.Unauthenticated("no caller scope")
	}
	// Only a super admin picks the target lab. Everyone else gets their own
	// lab regardless of what the payload says.
	if scope.Role != string(auth.RoleSuperAdmin) {
		in.LabID = scope.LabID
	} else if in.LabID == uuid.Nil {
		in.LabID = scope.LabID
	}
	if in.LabID == uuid.Nil {
		return nil, httperr.Validation("lab_id is required")
	}

	if existing, err := s.repo.GetByEmail(ctx, in.Email); err == nil && existing != nil {
		return nil, httperr.Conflict("a user with this email already exists")
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, httperr.Internal(err)
	}

	ok, err := s.labs.Exists(ctx, in.LabID)
	if err != nil {
		return nil, httperr.Internal(err)
	}
	if !ok {
		return nil, httperr.Validation("lab does not exist")
	}

	limit, err := s.labs.UserLimit(ctx, in.LabID)
	if err != nil {
		return nil, httperr.Internal(err)
	}
	if limit != NoUserLimit {
		n, err := s.repo.CountByLab(ctx, in.LabID)
		if err != nil {
			return nil, httperr.Internal(err)
		}
		if n >= limit {
			return nil, httperr.Forbidden(fmt.Sprintf("user limit reached for this lab's subscription (%d users)", limit))
		}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, httperr.Internal(err)
	}

	u := &User{
		LabID:        in.LabID,
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Status:       StatusActive,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if IsDuplicate(err) {
			return nil, httperr.Conflict("a user with this email already exists")
		}
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryUser,
		Message:  "user created",
		Details:  map[string]interface{}{"user_id": u.ID, "role": u.Role},
	})
	return u, nil
}

// BulkCreate registers several users atomically: either every row persists
// or none does.
func (s *Service) BulkCreate(ctx context.Context, inputs []CreateInput) ([]*User, error) {
	if len(inputs) == 0 {
		return nil, httperr.Validation("no users supplied")
	}

	var created []*User
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for i := range inputs {
			u, err := s.Create(ctx, inputs[i])
			if err != nil {
				return fmt.Errorf("user %d: %w", i, err)
			}
			created = append(created, u)
		}
		return nil
	})
	if err != nil {
		var typed *httperr.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, httperr.Internal(err)
	}
	return created, nil
}

// UpdateInput is the generic update surface. Password, role and lab are not
// part of it: those change only through their dedicated operations.
type UpdateInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status Status `json:"status"`
}

// forbiddenUpdateFields guards the generic path against clients smuggling
// privileged changes through it.
var forbiddenUpdateFields = []string{"password", "role", "lab", "lab_id", "permissions"}

// CheckUpdatePayload rejects raw payloads that name a protected field.
func CheckUpdatePayload(raw map[string]interface{}) error {
	for _, f := range forbiddenUpdateFields {
		if _, ok := raw[f]; ok {
			return httperr.Validation("%s cannot be changed through this operation", f)
		}
	}
	return nil
}

// Update applies the generic, unprivileged update path.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("user")
		}
		return nil, httperr.Internal(err)
	}

	if in.Name != "" {
		u.Name = strings.TrimSpace(in.Name)
	}
	if in.Email != "" {
		if !strings.Contains(in.Email, "@") {
			return nil, httperr.Validation("a valid email is required")
		}
		u.Email = strings.ToLower(in.Email)
	}
	if in.Status != "" {
		switch in.Status {
		case StatusActive, StatusInactive, StatusSuspended:
			if u.Role == auth.RoleSuperAdmin && in.Status != StatusActive {
				return nil, httperr.Forbidden("super admin accounts cannot be deactivated")
			}
			u.Status = in.Status
		default:
			return nil, httperr.Validation("invalid status %q", in.Status)
		}
	}

	if err := s.repo.Update(ctx, u); err != nil {
		if IsDuplicate(err) {
			return nil, httperr.Conflict("a user with this email already exists")
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("user")
		}
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryUser,
		Message:  "user updated",
		Details:  map[string]interface{}{"user_id": u.ID},
	})
	return u, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if len(next) < 6 {
		return httperr.Validation("password must be at least 6 characters")
	}

	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.NotFound("user")
		}
		return httperr.Internal(err)
	}
	if !u.CheckPassword(current) {
		return httperr.Unauthenticated("current password is incorrect")
	}

	hash, err := HashPassword(next)
	if err != nil {
		return httperr.Internal(err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryAuth,
		Message:  "password changed",
		Details:  map[string]interface{}{"user_id": userID},
	})
	return nil
}

// ChangeRole is the dedicated role-change flow. The permission set follows
// the role automatically since it is derived, never stored. Super admins can
// neither be demoted nor created through this path.
func (s *Service) ChangeRole(ctx context.Context, id uuid.UUID, role auth.Role) (*User, error) {
	if role != auth.RoleAdmin && role != auth.RoleTechnician {
		return nil, httperr.Validation("role must be admin or technician")
	}

	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("user")
		}
		return nil, httperr.Internal(err)
	}
	if u.Role == auth.RoleSuperAdmin {
		return nil, httperr.Forbidden("super admin role cannot be changed")
	}

	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("user")
		}
		return nil, httperr.Internal(err)
	}
	u.Role = role

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryUser,
		Message:  "user role changed",
		Details:  map[string]interface{}{"user_id": id, "role": role},
	})
	return u, nil
}

// Delete removes a user. Super admins are never deletable.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.NotFound("user")
		}
		return httperr.Internal(err)
	}
	if u.Role == auth.RoleSuperAdmin {
		return httperr.Forbidden("super admin accounts cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.NotFound("user")
		}
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryUser,
		Message:  "user deleted",
		Details:  map[string]interface{}{"user_id": id},
	})
	return nil
}

// Get returns a single user within the caller's tenant.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("user")
		}
		return nil, httperr.Internal(err)
	}
	return u, nil
}

// List returns users in the caller's tenant, optionally filtered by role.
func (s *Service) List(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error) {
	if role != "" && !role.Valid() {
		return nil, 0, httperr.Validation("unknown role %q", role)
	}
	users, total, err := s.repo.List(ctx, role, limit, offset)
	if err != nil {
		return nil, 0, httperr.Internal(err)
	}
	return users, total, nil
}
