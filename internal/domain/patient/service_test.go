package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/events"
)

var (
	worker     = auth.Actor{ID: "asha-1", Role: auth.RoleASHAWorker, District: "Pune", Block: "Haveli"}
	supervisor = auth.Actor{ID: "sup-1", Role: auth.RoleSupervisor, District: "Pune"}
)

func newTestService() (*Service, *events.Recorder) {
	svc := NewService(NewMemoryRepository())
	rec := &events.Recorder{}
	svc.SetPublisher(rec)
	svc.SetClock(func() time.Time { return testNow })
	return svc, rec
}

func register(t *testing.T, svc *Service, p *Patient) *Patient {
	t.Helper()
	created, err := svc.RegisterPatient(context.Background(), worker, p)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return created
}

func TestRegisterPatient(t *testing.T) {
	svc, rec := newTestService()
	in := validPatient()
	in.RegisteredBy = "someone-else"

	p := register(t, svc, in)
	if p.ID == "" || p.HealthID == "" || p.Version != 1 {
		t.Fatalf("expected id, health id and version 1, got %+v", p)
	}
	if p.RegisteredBy != "asha-1" || !p.RegistrationDate.Equal(testNow) {
		t.Errorf("registration metadata not taken from actor and clock: %s %v", p.RegisteredBy, p.RegistrationDate)
	}
	if p.Status != StatusActive || p.RiskAssessment.RiskLevel != RiskLow {
		t.Errorf("unexpected defaults status=%s risk=%s", p.Status, p.RiskAssessment.RiskLevel)
	}
	if p.QRCode == nil || !p.QRCode.IsActive {
		t.Fatal("expected an active QR snapshot")
	}
	var payload QRPayload
	if err := json.Unmarshal([]byte(p.QRCode.Data), &payload); err != nil {
		t.Fatalf("decode qr payload: %v", err)
	}
	if payload.HealthID != p.HealthID || payload.Name != "Meena Kale" {
		t.Errorf("unexpected qr payload %+v", payload)
	}
	if got := rec.OfType(events.TypePatientCreated); len(got) != 1 || got[0].Rooms[0] != "supervisor-Pune" {
		t.Errorf("expected registration event to supervisor room, got %+v", got)
	}
}

func TestRegisterPatient_Validation(t *testing.T) {
	svc, _ := newTestService()
	in := validPatient()
	in.Phone = "12345"
	_, err := svc.RegisterPatient(context.Background(), worker, in)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterPatient_AadhaarUnique(t *testing.T) {
	svc, _ := newTestService()
	a := validPatient()
	a.AadhaarNumber = "123456789012"
	register(t, svc, a)

	b := validPatient()
	b.FullName = "Other Person"
	b.AadhaarNumber = "123456789012"
	_, err := svc.RegisterPatient(context.Background(), worker, b)
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) || conflict.Field != "aadhaarNumber" {
		t.Fatalf("expected aadhaar conflict, got %v", err)
	}
}

func TestRegisterPatient_AbsentAadhaarNotUnique(t *testing.T) {
	svc, _ := newTestService()
	register(t, svc, validPatient())
	register(t, svc, validPatient())

	n, _ := svc.CountActive(context.Background(), Filter{})
	if n != 2 {
		t.Errorf("expected 2 patients, got %d", n)
	}
}

func TestRegisterPatient_RetriesHealthIDCollision(t *testing.T) {
	svc, _ := newTestService()
	svc.SetHealthIDGenerator(&HealthIDGenerator{
		Prefix: "ASHA",
		Now:    func() time.Time { return testNow },
		Rand:   bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1}),
	})

	first := register(t, svc, validPatient())
	second := register(t, svc, validPatient())
	if first.HealthID == second.HealthID {
		t.Fatalf("expected distinct health ids, both %s", first.HealthID)
	}
	if second.HealthID[len(second.HealthID)-4:] != "1111" {
		t.Errorf("expected retried id, got %s", second.HealthID)
	}
}

func TestRegisterPatient_Forbidden(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.RegisterPatient(context.Background(), auth.Actor{ID: "x", Role: "guest"}, validPatient())
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAddVisit_AppendsExactlyOne(t *testing.T) {
	svc, rec := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())

	_, first, err := svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitAntenatal, Findings: Findings{Diagnosis: "normal"}})
	if err != nil {
		t.Fatalf("first visit: %v", err)
	}
	updated, _, err := svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitFollowUp})
	if err != nil {
		t.Fatalf("second visit: %v", err)
	}

	if len(updated.Visits) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(updated.Visits))
	}
	if updated.Visits[0].ID != first.ID || updated.Visits[0].Findings.Diagnosis != "normal" {
		t.Error("earlier visit changed")
	}
	if updated.Visits[1].ASHAWorker != "asha-1" || updated.Visits[1].Location.Type != "home" {
		t.Errorf("expected visit defaults, got %+v", updated.Visits[1])
	}
	if updated.Version != 3 {
		t.Errorf("expected version 3, got %d", updated.Version)
	}
	if len(rec.OfType(events.TypeVisitUpdate)) != 2 {
		t.Error("expected a visit-update event per visit")
	}
}

func TestAddVisit_Amends(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())
	_, orig, _ := svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitIllness, Findings: Findings{Diagnosis: "flu"}})

	updated, fix, err := svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitIllness, Amends: orig.ID, Findings: Findings{Diagnosis: "dengue"}})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if fix.Amends != orig.ID || updated.Visits[0].Findings.Diagnosis != "flu" {
		t.Error("amending visit must leave the original untouched")
	}

	_, _, err = svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitIllness, Amends: "missing"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown amended visit, got %v", err)
	}
}

func TestListVisits_FiltersByType(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())
	_, _, _ = svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitAntenatal})
	_, _, _ = svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitImmunization})

	visits, err := svc.ListVisits(ctx, p.ID, VisitImmunization)
	if err != nil || len(visits) != 1 {
		t.Fatalf("expected one immunization visit, got %d (%v)", len(visits), err)
	}
}

func TestDeletePatient_Soft(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())

	if err := svc.DeletePatient(ctx, worker, p.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("worker delete should be forbidden, got %v", err)
	}
	if err := svc.DeletePatient(ctx, supervisor, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := svc.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("deleted patient should remain readable by id: %v", err)
	}
	if got.DeletedAt == nil || got.DeletedBy != "sup-1" || got.Status != StatusInactive {
		t.Errorf("unexpected deleted record %+v", got)
	}

	if n, _ := svc.CountActive(ctx, Filter{}); n != 0 {
		t.Errorf("deleted patient counted as active")
	}
	items, total, _ := svc.SearchPatients(ctx, Query{Status: "all"})
	if total != 0 || len(items) != 0 {
		t.Errorf("deleted patient returned by search")
	}
	if _, err := svc.GetByHealthID(ctx, p.HealthID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found by health id, got %v", err)
	}
	if _, _, err := svc.AddVisit(ctx, worker, p.ID, Visit{Type: VisitFollowUp}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found when visiting deleted patient, got %v", err)
	}
}

func TestUpdatePatient_VersionConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())

	edit := validPatient()
	edit.FullName = "Meena S. Kale"
	edit.Version = p.Version
	updated, err := svc.UpdatePatient(ctx, worker, p.ID, edit)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.FullName != "Meena S. Kale" || updated.HealthID != p.HealthID || updated.Version != 2 {
		t.Errorf("unexpected update result %+v", updated)
	}

	stale := validPatient()
	stale.Version = p.Version
	_, err = svc.UpdatePatient(ctx, worker, p.ID, stale)
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) || conflict.Field != "version" {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestQRSnapshotLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())
	original := p.QRCode.Data

	edit := validPatient()
	edit.Phone = "9000000001"
	updated, _ := svc.UpdatePatient(ctx, worker, p.ID, edit)
	if updated.QRCode.Data != original {
		t.Fatal("QR snapshot must not follow edits")
	}

	regen, err := svc.RegenerateQR(ctx, worker, p.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	var payload QRPayload
	_ = json.Unmarshal([]byte(regen.QRCode.Data), &payload)
	if payload.Phone != "9000000001" {
		t.Errorf("regenerated QR should carry the new phone, got %s", payload.Phone)
	}

	if _, err := svc.RevokeQR(ctx, worker, p.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("worker revoke should be forbidden, got %v", err)
	}
	revoked, err := svc.RevokeQR(ctx, supervisor, p.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.QRCode.IsActive {
		t.Error("QR should be inactive after revoke")
	}
}

func TestAssessRiskAndHighRisk(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a := register(t, svc, validPatient())
	register(t, svc, validPatient())

	if _, err := svc.AssessRisk(ctx, worker, a.ID, RiskAssessment{RiskLevel: "extreme"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	p, err := svc.AssessRisk(ctx, worker, a.ID, RiskAssessment{RiskLevel: RiskHigh, RiskFactors: []string{"anaemia"}})
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if p.RiskAssessment.AssessedBy != "asha-1" || p.RiskAssessment.LastAssessmentDate == nil {
		t.Errorf("unexpected assessment %+v", p.RiskAssessment)
	}

	items, total, _ := svc.HighRisk(ctx, Filter{District: "Pune"}, 10, 0)
	if total != 1 || items[0].ID != a.ID {
		t.Errorf("expected only the assessed patient, total=%d", total)
	}
}

func TestAddImmunizationAndUpcoming(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := register(t, svc, validPatient())
	due := DateOf(testNow.AddDate(0, 0, -1))

	if _, err := svc.AddImmunization(ctx, worker, p.ID, Immunization{Vaccine: "TT-1", Date: DateOf(testNow), NextDueDate: &due}); err != nil {
		t.Fatalf("add immunization: %v", err)
	}
	upcoming, err := svc.UpcomingVaccines(ctx, p.ID)
	if err != nil || len(upcoming) != 1 || upcoming[0].AdministeredBy != "asha-1" {
		t.Fatalf("unexpected upcoming vaccines %+v (%v)", upcoming, err)
	}
}

func TestSearchPatients_Text(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	register(t, svc, validPatient())
	other := validPatient()
	other.FullName = "Ravi Jadhav"
	other.Gender = GenderMale
	register(t, svc, other)

	items, total, err := svc.SearchPatients(ctx, Query{Text: "ravi"})
	if err != nil || total != 1 || items[0].FullName != "Ravi Jadhav" {
		t.Fatalf("unexpected search result total=%d err=%v", total, err)
	}
}

func TestGetByAadhaar_Invalid(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.GetByAadhaar(context.Background(), "12ab"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
