package lab

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/domain/user"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/httperr"
)

// AdminCreator is the slice of the user service used to provision the
// first admin of a new lab.
type AdminCreator interface {
	Create(ctx context.Context, in user.CreateInput) (*user.User, error)
}

type Service struct {
	repo         Repository
	admins       AdminCreator
	userCounts   UserCounter
	reportCounts ReportCounter
	tx           db.TxRunner
	audit        syslog.Recorder
}

func NewService(repo Repository, admins AdminCreator, users UserCounter, reports ReportCounter, tx db.TxRunner, audit syslog.Recorder) *Service {
	return &Service{
		repo:         repo,
		admins:       admins,
		userCounts:   users,
		reportCounts: reports,
		tx:           tx,
		audit:        audit,
	}
}

// CreateInput carries a new lab together with the credentials of its first
// admin. A lab is never created without one.
type CreateInput struct {
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	LicenseNumber string       `json:"license_number"`
	Address       Address      `json:"address"`
	Contact       Contact      `json:"contact"`
	Subscription  Subscription `json:"subscription"`
	Settings      Settings     `json:"settings"`

	Admin struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"admin"`
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return httperr.Validation("lab name is required")
	}
	if !strings.Contains(in.Email, "@") {
		return httperr.Validation("a valid lab email is required")
	}
	if strings.TrimSpace(in.LicenseNumber) == "" {
		return httperr.Validation("license number is required")
	}
	switch in.Subscription {
	case "":
		in.Subscription = SubscriptionBasic
	case SubscriptionBasic, SubscriptionPremium, SubscriptionEnterprise:
	default:
		return httperr.Validation("unknown subscription tier %q", in.Subscription)
	}
	if strings.TrimSpace(in.Admin.Name) == "" {
		return httperr.Validation("admin name is required")
	}
	return nil
}

// CreateResult is the outcome of a lab-with-admin creation.
type CreateResult struct {
	Lab   *Lab       `json:"lab"`
	Admin *user.User `json:"admin"`
}

// Create provisions a lab and its first admin in one transaction. If the
// admin cannot be created the lab row does not survive either.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	l := &Lab{
		Name:          strings.TrimSpace(in.Name),
		Email:         strings.ToLower(in.Email),
		LicenseNumber: strings.TrimSpace(in.LicenseNumber),
		Address:       in.Address,
		Contact:       in.Contact,
		Status:        StatusActive,
		Subscription:  in.Subscription,
		Settings:      in.Settings,
	}

	var admin *user.User
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, l); err != nil {
			if user.IsDuplicate(err) {
				return httperr.Conflict("a lab with this email or license number already exists")
			}
			return err
		}
		a, err := s.admins.Create(ctx, user.CreateInput{
			Name:     in.Admin.Name,
			Email:    in.Admin.Email,
			Password: in.Admin.Password,
			Role:     auth.RoleAdmin,
			LabID:    l.ID,
		})
		if err != nil {
			return err
		}
		admin = a
		return nil
	})
	if err != nil {
		var typed *httperr.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryLab,
		Message:  "lab created",
		Details:  map[string]interface{}{"lab_id": l.ID, "admin_id": admin.ID},
	})
	return &CreateResult{Lab: l, Admin: admin}, nil
}

// Get returns a single lab.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Lab, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("lab")
		}
		return nil, httperr.Internal(err)
	}
	return l, nil
}

// List returns all labs, paginated.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Lab, int, error) {
	labs, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, httperr.Internal(err)
	}
	return labs, total, nil
}

// UpdateInput is the generic lab update surface. Subscription changes go
// through ChangeSubscription only.
type UpdateInput struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Address  *Address  `json:"address"`
	Contact  *Contact  `json:"contact"`
	Settings *Settings `json:"settings"`
	Status   Status    `json:"status"`
}

// Update applies a partial update to a lab.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Lab, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		l.Name = strings.TrimSpace(in.Name)
	}
	if in.Email != "" {
		if !strings.Contains(in.Email, "@") {
			return nil, httperr.Validation("a valid lab email is required")
		}
		l.Email = strings.ToLower(in.Email)
	}
	if in.Address != nil {
		l.Address = *in.Address
	}
	if in.Contact != nil {
		l.Contact = *in.Contact
	}
	if in.Settings != nil {
		l.Settings = *in.Settings
	}
	if in.Status != "" {
		switch in.Status {
		case StatusActive, StatusInactive, StatusSuspended:
			l.Status = in.Status
		default:
			return nil, httperr.Validation("invalid status %q", in.Status)
		}
	}

	if err := s.repo.Update(ctx, l); err != nil {
		if user.IsDuplicate(err) {
			return nil, httperr.Conflict("a lab with this email or license number already exists")
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("lab")
		}
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryLab,
		Message:  "lab updated",
		Details:  map[string]interface{}{"lab_id": id},
	})
	return l, nil
}

// ChangeSubscription moves a lab to a new tier. Downgrades are allowed even
// when the lab is over the new tier's limits; the limits then block further
// growth rather than existing data.
func (s *Service) ChangeSubscription(ctx context.Context, id uuid.UUID, tier Subscription) (*Lab, error) {
	switch tier {
	case SubscriptionBasic, SubscriptionPremium, SubscriptionEnterprise:
	default:
		return nil, httperr.Validation("unknown subscription tier %q", tier)
	}

	if err := s.repo.UpdateSubscription(ctx, id, tier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("lab")
		}
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryLab,
		Message:  "lab subscription changed",
		Details:  map[string]interface{}{"lab_id": id, "subscription": tier},
	})
	return s.Get(ctx, id)
}

// Delete removes a lab. A lab that still has users is never deleted; the
// caller has to remove or move them first.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	n, err := s.userCounts.CountByLab(ctx, id)
	if err != nil {
		return httperr.Internal(err)
	}
	if n > 0 {
		return httperr.Conflict("lab still has %d users", n)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.NotFound("lab")
		}
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryLab,
		Message:  "lab deleted",
		Details:  map[string]interface{}{"lab_id": id},
	})
	return nil
}

// Stats is the aggregate view of a lab's activity.
type Stats struct {
	Users struct {
		Total  int            `json:"total"`
		Active int            `json:"active"`
		ByRole map[string]int `json:"by_role"`
	} `json:"users"`
	Reports struct {
		Total     int            `json:"total"`
		ThisMonth int            `json:"this_month"`
		ByStatus  map[string]int `json:"by_status"`
	} `json:"reports"`
}

// Stats aggregates user and report counts for a lab.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*Stats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var st Stats
	var err error
	if st.Users.Total, err = s.userCounts.CountByLab(ctx, id); err != nil {
		return nil, httperr.Internal(err)
	}
	if st.Users.Active, err = s.userCounts.CountActiveByLab(ctx, id); err != nil {
		return nil, httperr.Internal(err)
	}
	if st.Users.ByRole, err = s.userCounts.CountsByRole(ctx, id); err != nil {
		return nil, httperr.Internal(err)
	}
	if st.Reports.Total, err = s.reportCounts.CountByLab(ctx, id); err != nil {
		return nil, httperr.Internal(err)
	}
	monthStart := startOfMonth(time.Now().UTC())
	if st.Reports.ThisMonth, err = s.reportCounts.CountByLabSince(ctx, id, monthStart); err != nil {
		return nil, httperr.Internal(err)
	}
	if st.Reports.ByStatus, err = s.reportCounts.CountsByStatus(ctx, id); err != nil {
		return nil, httperr.Internal(err)
	}
	return &st, nil
}

// LimitUsage pairs a tier limit with current consumption.
type LimitUsage struct {
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// Limits is the subscription usage view for a lab.
type Limits struct {
	Subscription Subscription `json:"subscription"`
	Users        LimitUsage   `json:"users"`
	Reports      LimitUsage   `json:"reports_this_month"`
}

func usage(limit, used int) LimitUsage {
	u := LimitUsage{Limit: limit, Used: used, Unlimited: limit == Unlimited}
	if !u.Unlimited {
		if u.Remaining = limit - used; u.Remaining < 0 {
			u.Remaining = 0
		}
	}
	return u
}

// Limits reports how much of its subscription tier a lab has consumed.
func (s *Service) Limits(ctx context.Context, id uuid.UUID) (*Limits, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tier := LimitsForTier(l.Subscription)

	users, err := s.userCounts.CountByLab(ctx, id)
	if err != nil {
		return nil, httperr.Internal(err)
	}
	reports, err := s.reportCounts.CountByLabSince(ctx, id, startOfMonth(time.Now().UTC()))
	if err != nil {
		return nil, httperr.Internal(err)
	}

	return &Limits{
		Subscription: l.Subscription,
		Users:        usage(tier.Users, users),
		Reports:      usage(tier.ReportsPerMonth, reports),
	}, nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
