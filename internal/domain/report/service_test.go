package report

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lims/lims/internal/domain/patient"
	"github.com/lims/lims/internal/domain/syslog"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/httperr"
	"github.com/lims/lims/internal/platform/tenant"
)

// -- Mock repositories --

// mockReportRepo mirrors the real repository's tenant filter and version
// check so the concurrency and isolation tests mean something.
type mockReportRepo struct {
	reports map[uuid.UUID]*Report
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockReportRepo) visible(scope tenant.Scope, r *Report) bool {
	return scope.AllLabs() || r.LabID == scope.LabID
}

func (m *mockReportRepo) Create(ctx context.Context, r *Report) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if r.LabID == uuid.Nil && !scope.AllLabs() {
		r.LabID = scope.LabID
	}
	r.ID = uuid.New()
	r.Version = 1
	r.CreatedAt = time.Now()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockReportRepo) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := m.reports[id]
	if !ok || !m.visible(scope, r) {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *mockReportRepo) Update(ctx context.Context, r *Report) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	stored, ok := m.reports[r.ID]
	if !ok || !m.visible(scope, stored) {
		return pgx.ErrNoRows
	}
	if stored.Version != r.Version {
		return ErrVersionConflict
	}
	cp := *r
	cp.Version++
	m.reports[r.ID] = &cp
	r.Version++
	return nil
}

func (m *mockReportRepo) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	r, ok := m.reports[id]
	if !ok || !m.visible(scope, r) {
		return pgx.ErrNoRows
	}
	delete(m.reports, id)
	return nil
}

func (m *mockReportRepo) List(ctx context.Context, f Filter, limit, offset int) ([]*Report, int, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, 0, err
	}
	var result []*Report
	for _, r := range m.reports {
		if !m.visible(scope, r) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		if f.TestType != "" && !strings.EqualFold(r.TestType, f.TestType) {
			continue
		}
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if f.AssignedTo != uuid.Nil && (r.AssignedTo == nil || *r.AssignedTo != f.AssignedTo) {
			continue
		}
		if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
			continue
		}
		result = append(result, r)
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockReportRepo) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{ByStatus: make(map[string]int)}
	var turnSum float64
	var turnN int
	for _, r := range m.reports {
		if !m.visible(scope, r) {
			continue
		}
		st.Total++
		st.ByStatus[string(r.Status)]++
		if !r.CreatedAt.Before(since) {
			st.ThisMonth++
		}
		if r.DeliveredAt != nil {
			turnSum += r.DeliveredAt.Sub(r.CreatedAt).Hours()
			turnN++
		}
	}
	if turnN > 0 {
		avg := turnSum / float64(turnN)
		st.AvgTurnaroundHours = &avg
	}
	return st, nil
}

func (m *mockReportRepo) CountByLab(_ context.Context, labID uuid.UUID) (int, error) {
	n := 0
	for _, r := range m.reports {
		if r.LabID == labID {
			n++
		}
	}
	return n, nil
}

func (m *mockReportRepo) CountByLabSince(_ context.Context, labID uuid.UUID, since time.Time) (int, error) {
	n := 0
	for _, r := range m.reports {
		if r.LabID == labID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockReportRepo) CountsByStatus(_ context.Context, labID uuid.UUID) (map[string]int, error) {
	counts := make(map[string]int)
	for _, r := range m.reports {
		if r.LabID == labID {
			counts[string(r.Status)]++
		}
	}
	return counts, nil
}

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	scope, err := tenant.Require(ctx)
	if err != nil {
		return nil, httperr.Unauthenticated("no caller scope")
	}
	p, ok := m.patients[id]
	if !ok || (!scope.AllLabs() && p.LabID != scope.LabID) {
		return nil, httperr.NotFound("patient")
	}
	return p, nil
}

type mockLabs struct {
	limit int
}

func (m *mockLabs) ReportLimit(context.Context, uuid.UUID) (int, error) {
	if m.limit == 0 {
		return NoReportLimit, nil
	}
	return m.limit, nil
}

func (m *mockLabs) ReportBranding(context.Context, uuid.UUID) (string, string, string, error) {
	return "Acme Diagnostics", "NABL accredited", "Not valid without signature", nil
}

type mockAccounts struct {
	accounts map[uuid.UUID]*auth.Account
}

func (m *mockAccounts) AccountByID(_ context.Context, id uuid.UUID) (*auth.Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return acct, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, syslog.Entry) {}

// -- Fixtures --

type fixture struct {
	svc      *Service
	repo     *mockReportRepo
	labID    uuid.UUID
	patient  *patient.Patient
	admin    uuid.UUID
	tech     uuid.UUID
	tech2    uuid.UUID
	accounts *mockAccounts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	labID := uuid.New()
	p := &patient.Patient{ID: uuid.New(), LabID: labID, PatientID: "P26031234", Name: "Ravi Kumar", Age: 34, Gender: patient.GenderMale}

	admin, tech, tech2 := uuid.New(), uuid.New(), uuid.New()
	accounts := &mockAccounts{accounts: map[uuid.UUID]*auth.Account{
		admin: {ID: admin, LabID: labID, Role: auth.RoleAdmin, Active: true},
		tech:  {ID: tech, LabID: labID, Role: auth.RoleTechnician, Active: true},
		tech2: {ID: tech2, LabID: labID, Role: auth.RoleTechnician, Active: true},
	}}

	repo := newMockReportRepo()
	svc := NewService(repo,
		&mockPatients{patients: map[uuid.UUID]*patient.Patient{p.ID: p}},
		&mockLabs{},
		accounts,
		nopRecorder{},
		t.TempDir())
	return &fixture{svc: svc, repo: repo, labID: labID, patient: p, admin: admin, tech: tech, tech2: tech2, accounts: accounts}
}

func (f *fixture) adminCtx() context.Context {
	return tenant.WithScope(context.Background(), tenant.Scope{UserID: f.admin, Role: "admin", LabID: f.labID})
}

func (f *fixture) techCtx() context.Context {
	return tenant.WithScope(context.Background(), tenant.Scope{UserID: f.tech, Role: "technician", LabID: f.labID})
}

func (f *fixture) create(t *testing.T, ctx context.Context) *Report {
	t.Helper()
	return f.createFor(t, ctx, f.tech)
}

func (f *fixture) createFor(t *testing.T, ctx context.Context, assignee uuid.UUID) *Report {
	t.Helper()
	rep, err := f.svc.Create(ctx, CreateInput{PatientID: f.patient.ID, TestType: "CBC", AssignedTo: &assignee})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return rep
}

// -- Tests --

func TestCreateReport(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	if rep.Status != StatusPending {
		t.Errorf("status = %s, want pending", rep.Status)
	}
	if rep.Priority != PriorityRoutine {
		t.Errorf("priority = %s, want routine default", rep.Priority)
	}
	if rep.LabID != f.labID {
		t.Errorf("report bound to lab %s, want %s", rep.LabID, f.labID)
	}
	if rep.CreatedBy != f.admin {
		t.Errorf("created_by = %s, want caller", rep.CreatedBy)
	}
	if len(rep.ReportID) != 11 || rep.ReportID[:2] != "TR" {
		t.Errorf("report identifier %q does not match TR+yymmdd+3 digits", rep.ReportID)
	}
}

func TestCreateReportRequiresAssignee(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.adminCtx(), CreateInput{PatientID: f.patient.ID, TestType: "CBC"})
	if httperr.KindOf(err) != httperr.KindValidation {
		t.Fatalf("expected validation without an assignee, got %v", err)
	}
}

func TestCreateReportUnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.adminCtx(), CreateInput{PatientID: uuid.New(), TestType: "CBC", AssignedTo: &f.tech})
	if httperr.KindOf(err) != httperr.KindNotFound {
		t.Fatalf("expected not found for unknown patient, got %v", err)
	}
}

func TestCreateReportMonthlyLimit(t *testing.T) {
	f := newFixture(t)
	f.svc.labs = &mockLabs{limit: 2}

	for i := 0; i < 2; i++ {
		f.create(t, f.adminCtx())
	}
	_, err := f.svc.Create(f.adminCtx(), CreateInput{PatientID: f.patient.ID, TestType: "CBC", AssignedTo: &f.tech})
	if httperr.KindOf(err) != httperr.KindForbidden {
		t.Fatalf("expected forbidden at monthly cap, got %v", err)
	}
}

func TestStatusTransitionsForwardOnly(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())
	ctx := f.adminCtx()

	for _, next := range []Status{StatusInProgress, StatusCompleted, StatusVerified, StatusDelivered} {
		var err error
		rep, err = f.svc.ChangeStatus(ctx, rep.ID, next, "")
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if rep.Status != next {
			t.Fatalf("status = %s, want %s", rep.Status, next)
		}
	}

	if rep.CompletedAt == nil || rep.VerifiedAt == nil || rep.DeliveredAt == nil {
		t.Error("lifecycle timestamps not set")
	}
	if rep.VerifiedBy == nil || *rep.VerifiedBy != f.admin {
		t.Error("verifier of record not the acting caller")
	}

	// Backwards is refused.
	if _, err := f.svc.ChangeStatus(ctx, rep.ID, StatusPending, ""); httperr.KindOf(err) != httperr.KindConflict {
		t.Errorf("expected conflict moving backwards, got %v", err)
	}
}

func TestVerifyRequiresCompleted(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	if _, err := f.svc.Verify(f.adminCtx(), rep.ID); httperr.KindOf(err) != httperr.KindConflict {
		t.Fatalf("expected conflict verifying a pending report, got %v", err)
	}

	if _, err := f.svc.ChangeStatus(f.adminCtx(), rep.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := f.svc.Verify(f.adminCtx(), rep.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != StatusVerified {
		t.Errorf("status = %s, want verified", got.Status)
	}
}

func TestTechnicianCannotVerify(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	if _, err := f.svc.ChangeStatus(f.techCtx(), rep.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.ChangeStatus(f.techCtx(), rep.ID, StatusVerified, ""); httperr.KindOf(err) != httperr.KindForbidden {
		t.Fatalf("expected forbidden verifying as a technician, got %v", err)
	}
	if _, err := f.svc.ChangeStatus(f.adminCtx(), rep.ID, StatusVerified, ""); err != nil {
		t.Errorf("admin verify: %v", err)
	}
}

func TestDeliveryMethodRecordedOnDelivery(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	if rep.DeliveryMethod != DeliveryPortal {
		t.Errorf("default delivery method = %s, want portal", rep.DeliveryMethod)
	}

	got, err := f.svc.ChangeStatus(f.adminCtx(), rep.ID, StatusDelivered, DeliveryEmail)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.DeliveryMethod != DeliveryEmail {
		t.Errorf("delivery method = %s, want email", got.DeliveryMethod)
	}
	if got.TurnaroundHours() == nil {
		t.Error("expected turnaround once delivered")
	}

	other := f.create(t, f.adminCtx())
	if _, err := f.svc.ChangeStatus(f.adminCtx(), other.ID, StatusCompleted, DeliveryPrint); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation: delivery method outside delivery, got %v", err)
	}
	if _, err := f.svc.ChangeStatus(f.adminCtx(), other.ID, StatusDelivered, DeliveryMethod("fax")); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation for unknown delivery method, got %v", err)
	}
}

func TestTechnicianTouchesOnlyAssignedReports(t *testing.T) {
	f := newFixture(t)
	rep := f.createFor(t, f.adminCtx(), f.tech2)

	// Someone else's assignment: the technician cannot even see it.
	if _, err := f.svc.Get(f.techCtx(), rep.ID); httperr.KindOf(err) != httperr.KindNotFound {
		t.Fatalf("expected not found for a foreign assignment, got %v", err)
	}

	if _, err := f.svc.Assign(f.adminCtx(), rep.ID, f.tech); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := f.svc.Get(f.techCtx(), rep.ID); err != nil {
		t.Errorf("assigned technician cannot read the report: %v", err)
	}
	if _, err := f.svc.Update(f.techCtx(), rep.ID, UpdateInput{Results: []Result{{Parameter: "Hb", Value: "13.2"}}}); err != nil {
		t.Errorf("assigned technician cannot edit the report: %v", err)
	}
}

func TestAssignValidatesTechnician(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	if _, err := f.svc.Assign(f.adminCtx(), rep.ID, f.admin); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation assigning to an admin, got %v", err)
	}
	if _, err := f.svc.Assign(f.adminCtx(), rep.ID, uuid.New()); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation for unknown assignee, got %v", err)
	}

	otherLab := uuid.New()
	f.accounts.accounts[otherLab] = &auth.Account{ID: otherLab, LabID: uuid.New(), Role: auth.RoleTechnician, Active: true}
	if _, err := f.svc.Assign(f.adminCtx(), rep.ID, otherLab); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation for cross-lab assignee, got %v", err)
	}

	got, err := f.svc.Assign(f.adminCtx(), rep.ID, f.tech)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("assignment did not move a pending report to in_progress, got %s", got.Status)
	}
}

func TestTechnicianListPinnedToAssignments(t *testing.T) {
	f := newFixture(t)
	assigned := f.create(t, f.adminCtx())
	f.createFor(t, f.adminCtx(), f.tech2)

	reports, total, err := f.svc.List(f.techCtx(), Filter{}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(reports) != 1 {
		t.Fatalf("technician sees %d/%d reports, want 1/1", len(reports), total)
	}
	if reports[0].ID != assigned.ID {
		t.Error("technician sees a report not assigned to them")
	}

	// Filtering for someone else's assignment is overridden, not honored.
	reports, _, err = f.svc.List(f.techCtx(), Filter{AssignedTo: f.admin}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reports) != 1 || reports[0].ID != assigned.ID {
		t.Error("assigned_to filter let a technician widen their view")
	}
}

func TestCommentsAppend(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	first, err := f.svc.AddComment(f.adminCtx(), rep.ID, "sample received")
	if err != nil {
		t.Fatalf("first comment: %v", err)
	}
	second, err := f.svc.AddComment(f.adminCtx(), rep.ID, "analysis started")
	if err != nil {
		t.Fatalf("second comment: %v", err)
	}

	if len(first.Comments) != 1 || len(second.Comments) != 2 {
		t.Fatalf("comments = %d then %d, want 1 then 2", len(first.Comments), len(second.Comments))
	}
	if second.Comments[0].Text != "sample received" {
		t.Error("earlier comment was replaced, not appended to")
	}
	if second.Comments[1].UserID != f.admin {
		t.Error("comment not attributed to the acting caller")
	}
	if second.Comments[1].CreatedAt.IsZero() {
		t.Error("comment not timestamped")
	}

	if _, err := f.svc.AddComment(f.adminCtx(), rep.ID, "   "); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation for empty comment, got %v", err)
	}
}

func TestDeleteOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	if _, err := f.svc.ChangeStatus(f.adminCtx(), rep.ID, StatusInProgress, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := f.svc.Delete(f.adminCtx(), rep.ID); httperr.KindOf(err) != httperr.KindConflict {
		t.Fatalf("expected conflict deleting a non-pending report, got %v", err)
	}

	pending := f.create(t, f.adminCtx())
	if err := f.svc.Delete(f.adminCtx(), pending.ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
}

func TestConcurrentUpdateDetected(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	// Two callers read the same version; the second write must fail rather
	// than silently clobber the first.
	stale := *rep
	if _, err := f.svc.AddComment(f.adminCtx(), rep.ID, "first writer"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := f.repo.Update(f.adminCtx(), &stale); err != ErrVersionConflict {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestCrossTenantReportInvisible(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())

	other := tenant.WithScope(context.Background(), tenant.Scope{UserID: uuid.New(), Role: "admin", LabID: uuid.New()})
	if _, err := f.svc.Get(other, rep.ID); httperr.KindOf(err) != httperr.KindNotFound {
		t.Errorf("cross-tenant get: expected not found, got %v", err)
	}
	if err := f.svc.Delete(other, rep.ID); httperr.KindOf(err) != httperr.KindNotFound {
		t.Errorf("cross-tenant delete: expected not found, got %v", err)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, f.adminCtx())
	f.create(t, f.adminCtx())
	if _, err := f.svc.ChangeStatus(f.adminCtx(), a.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	st, err := f.svc.Stats(f.adminCtx())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("total = %d, want 2", st.Total)
	}
	if st.ByStatus["pending"] != 1 || st.ByStatus["completed"] != 1 {
		t.Errorf("by_status = %v", st.ByStatus)
	}
}

func TestExportWritesArtifact(t *testing.T) {
	f := newFixture(t)
	rep := f.create(t, f.adminCtx())
	if _, err := f.svc.Update(f.adminCtx(), rep.ID, UpdateInput{Results: []Result{{Parameter: "Hb", Value: "13.2", Unit: "g/dL"}}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	path, err := f.svc.Export(f.adminCtx(), rep.ID, "pdf")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("pdf artifact missing: %v", err)
	}

	if _, err := f.svc.Export(f.adminCtx(), rep.ID, "xlsx"); err != nil {
		t.Errorf("xlsx export: %v", err)
	}
	if _, err := f.svc.Export(f.adminCtx(), rep.ID, "docx"); httperr.KindOf(err) != httperr.KindValidation {
		t.Errorf("expected validation for unknown format, got %v", err)
	}
}
