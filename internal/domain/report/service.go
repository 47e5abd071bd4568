package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/patient"
	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/export"
	"github.com/lims/lims/internal/platform/httperr"
	"github.com/lims/lims/internal/platform/tenant"
)

// PatientSource resolves patients within the caller's tenant. Implemented
// by the patient service, which already maps absence to a typed not-found.
type PatientSource interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// LabSource is the slice of the lab repository the report service needs:
// the monthly quota for the lab's tier and the branding printed on exports.
type LabSource interface {
	ReportLimit(ctx context.Context, labID uuid.UUID) (int, error)
	ReportBranding(ctx context.Context, labID uuid.UUID) (name, header, footer string, err error)
}

// AccountSource resolves user accounts for assignment checks. Implemented
// by the user service.
type AccountSource interface {
	AccountByID(ctx context.Context, id uuid.UUID) (*auth.Account, error)
}

// NoReportLimit marks a subscription tier with no monthly report cap.
const NoReportLimit = -1

type Service struct {
	repo      Repository
	patients  PatientSource
	labs      LabSource
	accounts  AccountSource
	audit     syslog.Recorder
	exportDir string
}

func NewService(repo Repository, patients PatientSource, labs LabSource, accounts AccountSource, audit syslog.Recorder, exportDir string) *Service {
	return &Service{
		repo:      repo,
		patients:  patients,
		labs:      labs,
		accounts:  accounts,
		audit:     audit,
		exportDir: exportDir,
	}
}

type CreateInput struct {
	PatientID  uuid.UUID  `json:"patient_id"`
	TestType   string     `json:"test_type"`
	Category   string     `json:"category"`
	Priority   Priority   `json:"priority"`
	AssignedTo *uuid.UUID `json:"assigned_to"`
	Results    []Result   `json:"results"`
}

func (in *CreateInput) validate() error {
	if in.PatientID == uuid.Nil {
		return httperr.Validation("patient_id is required")
	}
	if strings.TrimSpace(in.TestType) == "" {
		return httperr.Validation("test_type is required")
	}
	if in.AssignedTo == nil {
		return httperr.Validation("assigned_to is required")
	}
	switch in.Priority {
	case "":
		in.Priority = PriorityRoutine
	default:
		if !in.Priority.Valid() {
			return httperr.Validation("priority must be routine, urgent or emergency")
		}
	}
	return nil
}

// Create opens a new report in pending state, assigned to a technician from
// the start. The referenced patient must be visible in the caller's tenant,
// and the lab's monthly quota must have room.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Report, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, httperr.Unauthenticated("no caller scope")
	}

	p, err := s.patients.Get(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	labID := p.LabID
	limit, err := s.labs.ReportLimit(ctx, labID)
	if err != nil {
		return nil, httperr.Internal(err)
	}
	if limit != NoReportLimit {
		n, err := s.repo.CountByLabSince(ctx, labID, startOfMonth(time.Now().UTC()))
		if err != nil {
			return nil, httperr.Internal(err)
		}
		if n >= limit {
			return nil, httperr.Forbidden("monthly report limit reached for this lab's subscription")
		}
	}

	if err := s.checkAssignee(ctx, *in.AssignedTo, labID); err != nil {
		return nil, err
	}

	if in.Results == nil {
		in.Results = []Result{}
	}
	rep := &Report{
		LabID:          labID,
		ReportID:       NewReportID(time.Now()),
		PatientID:      in.PatientID,
		TestType:       strings.TrimSpace(in.TestType),
		Category:       in.Category,
		Priority:       in.Priority,
		Status:         StatusPending,
		AssignedTo:     in.AssignedTo,
		CreatedBy:      scope.UserID,
		Results:        in.Results,
		Comments:       []Comment{},
		Attachments:    []Attachment{},
		DeliveryMethod: DeliveryPortal,
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryReport,
		Message:  "report created",
		Details:  map[string]interface{}{"report_id": rep.ReportID, "id": rep.ID, "patient_id": rep.PatientID},
	})
	return rep, nil
}

// canTouch reports whether the caller may read or mutate rep. Technicians
// only reach reports assigned to them; admins reach anything the tenant
// filter let through.
func canTouch(scope tenant.Scope, rep *Report) bool {
	if scope.Role != string(auth.RoleTechnician) {
		return true
	}
	return rep.AssignedTo != nil && *rep.AssignedTo == scope.UserID
}

// fetch loads a report and applies the assignment rule. Reports the caller
// may not touch surface as not-found, same as rows outside the tenant.
func (s *Service) fetch(ctx context.Context, id uuid.UUID) (*Report, tenant.Scope, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, scope, httperr.Unauthenticated("no caller scope")
	}
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scope, httperr.NotFound("report")
		}
		return nil, scope, httperr.Internal(err)
	}
	if !canTouch(scope, rep) {
		return nil, scope, httperr.NotFound("report")
	}
	return rep, scope, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	rep, _, err := s.fetch(ctx, id)
	return rep, err
}

// List returns reports visible to the caller. Technicians are pinned to
// their own assignments regardless of the requested filter.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, 0, httperr.Unauthenticated("no caller scope")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, httperr.Validation("unknown status %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, 0, httperr.Validation("unknown priority %q", f.Priority)
	}
	if scope.Role == string(auth.RoleTechnician) {
		f.AssignedTo = scope.UserID
	}

	reports, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, httperr.Internal(err)
	}
	return reports, total, nil
}

type UpdateInput struct {
	TestType string   `json:"test_type"`
	Category string   `json:"category"`
	Priority Priority `json:"priority"`
	Results  []Result `json:"results"`
}

// Update edits the report's content fields. Status moves through
// ChangeStatus only.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Report, error) {
	rep, _, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.TestType != "" {
		rep.TestType = strings.TrimSpace(in.TestType)
	}
	if in.Category != "" {
		rep.Category = in.Category
	}
	if in.Priority != "" {
		if !in.Priority.Valid() {
			return nil, httperr.Validation("priority must be routine, urgent or emergency")
		}
		rep.Priority = in.Priority
	}
	if in.Results != nil {
		rep.Results = in.Results
	}

	if err := s.save(ctx, rep, "report updated"); err != nil {
		return nil, err
	}
	return rep, nil
}

// ChangeStatus advances the lifecycle. Transitions are forward-only, and
// verification additionally requires the report to be completed first; the
// verifier of record is the acting caller.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, next Status, method DeliveryMethod) (*Report, error) {
	if !next.Valid() {
		return nil, httperr.Validation("unknown status %q", next)
	}
	if method != "" {
		if next != StatusDelivered {
			return nil, httperr.Validation("delivery_method only applies when delivering")
		}
		if !method.Valid() {
			return nil, httperr.Validation("delivery_method must be email, print or portal")
		}
	}
	rep, scope, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rep.Status.CanTransition(next) {
		return nil, httperr.Conflict("cannot move a %s report to %s", rep.Status, next)
	}

	now := time.Now().UTC()
	switch next {
	case StatusCompleted:
		rep.CompletedAt = &now
	case StatusVerified:
		if scope.Role == string(auth.RoleTechnician) {
			return nil, httperr.Forbidden("only an admin can verify a report")
		}
		if rep.Status != StatusCompleted {
			return nil, httperr.Conflict("only a completed report can be verified")
		}
		rep.VerifiedBy = &scope.UserID
		rep.VerifiedAt = &now
	case StatusDelivered:
		if rep.CompletedAt == nil {
			rep.CompletedAt = &now
		}
		rep.DeliveredAt = &now
		if method != "" {
			rep.DeliveryMethod = method
		}
	}
	rep.Status = next

	if err := s.save(ctx, rep, "report status changed to "+string(next)); err != nil {
		return nil, err
	}
	return rep, nil
}

// Verify is the dedicated verification flow.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.ChangeStatus(ctx, id, StatusVerified, "")
}

// Assign hands the report to a technician in the same lab.
func (s *Service) Assign(ctx context.Context, id, technicianID uuid.UUID) (*Report, error) {
	rep, _, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAssignee(ctx, technicianID, rep.LabID); err != nil {
		return nil, err
	}

	rep.AssignedTo = &technicianID
	if rep.Status == StatusPending {
		rep.Status = StatusInProgress
	}
	if err := s.save(ctx, rep, "report assigned"); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Service) checkAssignee(ctx context.Context, technicianID, labID uuid.UUID) error {
	acct, err := s.accounts.AccountByID(ctx, technicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.Validation("assignee does not exist")
		}
		return httperr.Internal(err)
	}
	if acct.Role != auth.RoleTechnician {
		return httperr.Validation("reports can only be assigned to technicians")
	}
	if !acct.Active {
		return httperr.Validation("assignee is not active")
	}
	if acct.LabID != labID {
		return httperr.Validation("assignee belongs to a different lab")
	}
	return nil
}

// AddComment appends a timestamped, attributed comment. Prior comments are
// never replaced.
func (s *Service) AddComment(ctx context.Context, id uuid.UUID, text string) (*Report, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, httperr.Validation("comment text is required")
	}
	rep, scope, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	rep.Comments = append(rep.Comments, Comment{
		UserID:    scope.UserID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if err := s.save(ctx, rep, "report comment added"); err != nil {
		return nil, err
	}
	return rep, nil
}

// Delete removes a report, allowed only while it is still pending.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rep, _, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	if rep.Status != StatusPending {
		return httperr.Conflict("only pending reports can be deleted, this one is %s", rep.Status)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return httperr.NotFound("report")
		}
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryReport,
		Message:  "report deleted",
		Details:  map[string]interface{}{"report_id": rep.ReportID, "id": rep.ID},
	})
	return nil
}

// Stats aggregates the caller's visible reports.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.Stats(ctx, startOfMonth(time.Now().UTC()))
	if err != nil {
		return nil, httperr.Internal(err)
	}
	return st, nil
}

// Export renders the report as a PDF or spreadsheet under the export
// directory and returns the written file's path.
func (s *Service) Export(ctx context.Context, id uuid.UUID, format string) (string, error) {
	rep, _, err := s.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	p, err := s.patients.Get(ctx, rep.PatientID)
	if err != nil {
		return "", err
	}
	labName, header, footer, err := s.labs.ReportBranding(ctx, rep.LabID)
	if err != nil {
		return "", httperr.Internal(err)
	}

	doc := export.Document{
		ReportID:      rep.ReportID,
		LabName:       labName,
		Header:        header,
		Footer:        footer,
		PatientName:   p.Name,
		PatientID:     p.PatientID,
		PatientAge:    p.Age,
		PatientGender: string(p.Gender),
		TestType:      rep.TestType,
		Category:      rep.Category,
		Priority:      string(rep.Priority),
		Status:        string(rep.Status),
		CreatedAt:     rep.CreatedAt,
		VerifiedAt:    rep.VerifiedAt,
	}
	for _, res := range rep.Results {
		doc.Results = append(doc.Results, export.Row{
			Parameter:      res.Parameter,
			Value:          res.Value,
			Unit:           res.Unit,
			ReferenceRange: res.ReferenceRange,
			Interpretation: res.Interpretation,
		})
	}
	for _, cm := range rep.Comments {
		doc.Comments = append(doc.Comments, export.Note{Text: cm.Text, At: cm.CreatedAt})
	}

	var path string
	switch format {
	case "pdf", "":
		path, err = export.WritePDF(s.exportDir, doc)
	case "xlsx":
		path, err = export.WriteXLSX(s.exportDir, doc)
	default:
		return "", httperr.Validation("unknown export format %q", format)
	}
	if err != nil {
		return "", httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryReport,
		Message:  "report exported",
		Details:  map[string]interface{}{"report_id": rep.ReportID, "format": format},
	})
	return path, nil
}

// save runs the version-checked write and emits the audit entry.
func (s *Service) save(ctx context.Context, rep *Report, action string) error {
	if err := s.repo.Update(ctx, rep); err != nil {
		switch {
		case errors.Is(err, ErrVersionConflict):
			return httperr.Conflict("report was modified concurrently, reload and retry")
		case errors.Is(err, pgx.ErrNoRows):
			return httperr.NotFound("report")
		}
		var typed *httperr.Error
		if errors.As(err, &typed) {
			return typed
		}
		return httperr.Internal(err)
	}

	s.audit.Record(ctx, syslog.Entry{
		Category: syslog.CategoryReport,
		Message:  action,
		Details:  map[string]interface{}{"report_id": rep.ReportID, "id": rep.ID},
	})
	return nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
