package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/platform/httperr"
	"github.com/lims/lims/internal/platform/tenant"
)

// MaxSearchResults caps how many rows a patient search returns.
const MaxSearchResults = 10

type Service struct {
	repo  Repository
	audit syslog.Recorder
}

func NewService(repo Repository, audit syslog.Recorder) *Service {
	return &Service{repo: repo, audit: audit}
}

type CreateInput struct {
	Name             string           `json:"name"`
	Age              int              `json:"age"`
	Gender           Gender           `json:"gender"`
	Phone            string           `json:"phone"`
	Email            string           `json:"email"`
	Address          string           `json:"address"`
	BloodGroup       string           `json:"blood_group"`
	MedicalHistory   []HistoryEntry   `json:"medical_history"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return httperr.Validation("name is required")
	}
	if in.Age < 0 || in.Age > 150 {
		return httperr.Validation("age must be between 0 and 150")
	}
	if !in.Gender.Valid() {
		return httperr.Validation("gender must be male, female or other")
	}
	if !ValidPhone(in.Phone) {
		return httperr.Validation("phone must be exactly 10 digits")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return httperr.Validation("a valid email is required")
	}
	return nil
}

// Register creates a patient record. The human-readable identifier is
// generated here, and the registering user is taken from the caller scope.
func (s *Service) Register(ctx context.Context, in CreateInput) (*Patient, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, httperr.Unauthenticated("no caller scope")
	}
	if scope.AllLabs() {
		return nil, httperr.Validation("registering a patient needs a target lab, pin one via lab_id or X-Lab-ID")
	}

	if in.MedicalHistory == nil {
		in.MedicalHistory = []HistoryEntry{}
	}
	p := &Patient{
		PatientID:        NewPatientID(time.Now()),
		Name:             strings.TrimSpace(in.Name),
		Age:              in.Age,
		Gender:           in.Gender,
		Phone:            in.Phone,
		Email:            strings.ToLower(in.Email),
		Address:          in.Address,
		BloodGroup:       in.BloodGroup,
		MedicalHistory:   in.MedicalHistory,
		EmergencyContact: in.EmergencyContact,
		RegisteredBy:     scope.UserID,
		Status:           StatusActive,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategorySystem,
		Message:  "patient registered",
		Details:  map[string]interface{}{"patient_id": p.PatientID, "id": p.ID},
	})
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("patient")
		}
		return nil, httperr.Internal(err)
	}
	return p, nil
}

type UpdateInput struct {
	Name             string            `json:"name"`
	Age              *int              `json:"age"`
	Gender           Gender            `json:"gender"`
	Phone            string            `json:"phone"`
	Email            string            `json:"email"`
	Address          string            `json:"address"`
	BloodGroup       string            `json:"blood_group"`
	MedicalHistory   []HistoryEntry    `json:"medical_history"`
	EmergencyContact *EmergencyContact `json:"emergency_contact"`
	Status           Status            `json:"status"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Patient, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		p.Name = strings.TrimSpace(in.Name)
	}
	if in.Age != nil {
		if *in.Age < 0 || *in.Age > 150 {
			return nil, httperr.Validation("age must be between 0 and 150")
		}
		p.Age = *in.Age
	}
	if in.Gender != "" {
		if !in.Gender.Valid() {
			return nil, httperr.Validation("gender must be male, female or other")
		}
		p.Gender = in.Gender
	}
	if in.Phone != "" {
		if !ValidPhone(in.Phone) {
			return nil, httperr.Validation("phone must be exactly 10 digits")
		}
		p.Phone = in.Phone
	}
	if in.Email != "" {
		if !strings.Contains(in.Email, "@") {
			return nil, httperr.Validation("a valid email is required")
		}
		p.Email = strings.ToLower(in.Email)
	}
	if in.Address != "" {
		p.Address = in.Address
	}
	if in.BloodGroup != "" {
		p.BloodGroup = in.BloodGroup
	}
	if in.MedicalHistory != nil {
		p.MedicalHistory = in.MedicalHistory
	}
	if in.EmergencyContact != nil {
		p.EmergencyContact = *in.EmergencyContact
	}
	if in.Status != "" {
		switch in.Status {
		case StatusActive, StatusInactive:
			p.Status = in.Status
		default:
			return nil, httperr.Validation("invalid status %q", in.Status)
		}
	}

	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httperr.NotFound("patient")
		}
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategorySystem,
		Message:  "patient updated",
		Details:  map[string]interface{}{"patient_id": p.PatientID, "id": p.ID},
	})
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.NotFound("patient")
		}
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategorySystem,
		Message:  "patient deleted",
		Details:  map[string]interface{}{"patient_id": p.PatientID, "id": p.ID},
	})
	return nil
}

func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error) {
	if status != "" && status != StatusActive && status != StatusInactive {
		return nil, 0, httperr.Validation("invalid status %q", status)
	}
	patients, total, err := s.repo.List(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, httperr.Internal(err)
	}
	return patients, total, nil
}

// Search looks a patient up by name fragment, phone or identifier. Results
// are capped so the endpoint stays a quick lookup, not an export channel.
func (s *Service) Search(ctx context.Context, query string) ([]*Patient, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return nil, httperr.Validation("search query must be at least 2 characters")
	}
	patients, err := s.repo.Search(ctx, query, MaxSearchResults)
	if err != nil {
		return nil, httperr.Internal(err)
	}
	return patients, nil
}
