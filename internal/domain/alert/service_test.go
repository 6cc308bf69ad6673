package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/events"
)

var (
	worker     = auth.Actor{ID: "asha-1", Role: auth.RoleASHAWorker, District: "Pune", Block: "Haveli"}
	supervisor = auth.Actor{ID: "sup-1", Role: auth.RoleSupervisor, District: "Pune"}
	fixedNow   = time.Date(2024, 7, 10, 9, 30, 0, 0, time.UTC)
)

func newTestService() (*Service, *events.Recorder) {
	svc := NewService(NewMemoryRepository())
	rec := &events.Recorder{}
	svc.SetPublisher(rec)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, rec
}

func sosInput() *Alert {
	return &Alert{
		Type:     TypeMaternal,
		Location: Location{Coordinates: &patient.Coordinates{Latitude: 18.52, Longitude: 73.85}},
	}
}

func TestRaise_DefaultsAndBroadcast(t *testing.T) {
	svc, rec := newTestService()

	a, err := svc.Raise(context.Background(), worker, sosInput())
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if a.ID == "" || a.Status != StatusSent || a.Priority != PriorityHigh {
		t.Errorf("unexpected alert %+v", a)
	}
	if a.RaisedBy != "asha-1" || a.District != "Pune" || a.Block != "Haveli" {
		t.Errorf("expected actor defaults, got raisedBy=%s district=%s block=%s", a.RaisedBy, a.District, a.Block)
	}
	if !a.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected createdAt %v, got %v", fixedNow, a.CreatedAt)
	}

	msgs := rec.OfType(events.TypeEmergencyAlert)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 emergency event, got %d", len(msgs))
	}
	want := []string{"supervisor-Pune", "health-workers-Haveli"}
	if len(msgs[0].Rooms) != 2 || msgs[0].Rooms[0] != want[0] || msgs[0].Rooms[1] != want[1] {
		t.Errorf("unexpected rooms %v", msgs[0].Rooms)
	}
}

func TestRaise_ValidationCollectsAll(t *testing.T) {
	svc, rec := newTestService()
	in := &Alert{Type: "fire", Priority: "low", Location: Location{Coordinates: &patient.Coordinates{Latitude: 95, Longitude: 200}}}

	_, err := svc.Raise(context.Background(), auth.Actor{ID: "asha-2", Role: auth.RoleASHAWorker}, in)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, f := range []string{"type", "priority", "location.coordinates.latitude", "location.coordinates.longitude", "district", "block"} {
		if !ve.Has(f) {
			t.Errorf("expected violation on %s", f)
		}
	}
	if len(rec.Messages) != 0 {
		t.Error("no event should be published for a rejected alert")
	}
}

func TestValidate_CoordinateBounds(t *testing.T) {
	tests := []struct {
		lat, lng float64
		bad      []string
	}{
		{90, 180, nil},
		{-90, -180, nil},
		{90.0001, 0, []string{"location.coordinates.latitude"}},
		{0, -180.5, []string{"location.coordinates.longitude"}},
	}
	for _, tt := range tests {
		a := sosInput()
		a.Priority = PriorityCritical
		a.District, a.Block, a.RaisedBy = "Pune", "Haveli", "asha-1"
		a.Location.Coordinates = &patient.Coordinates{Latitude: tt.lat, Longitude: tt.lng}
		err := Validate(a)
		if len(tt.bad) == 0 {
			if err != nil {
				t.Errorf("(%v, %v): unexpected error %v", tt.lat, tt.lng, err)
			}
			continue
		}
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("(%v, %v): expected validation error, got %v", tt.lat, tt.lng, err)
		}
		for _, f := range tt.bad {
			if !ve.Has(f) {
				t.Errorf("(%v, %v): expected violation on %s", tt.lat, tt.lng, f)
			}
		}
	}
}

func TestRaise_RequiresCoordinates(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Raise(context.Background(), worker, &Alert{Type: TypeAccident})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || !ve.Has("location.coordinates") {
		t.Fatalf("expected coordinates violation, got %v", err)
	}
}

func TestRaise_FillsPatientDetails(t *testing.T) {
	patients := patient.NewService(patient.NewMemoryRepository())
	patients.SetClock(func() time.Time { return fixedNow })
	p, err := patients.RegisterPatient(context.Background(), worker, &patient.Patient{
		FullName:    "Sunita Pawar",
		DateOfBirth: patient.NewDate(1996, 3, 2),
		Gender:      patient.GenderFemale,
		Phone:       "9876543210",
		Address:     patient.Address{FullAddress: "Lane 4", District: "Pune", Block: "Mulshi", Village: "Paud"},
	})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}

	svc, _ := newTestService()
	svc.SetPatients(patients)
	in := sosInput()
	in.HealthID = p.HealthID

	a, err := svc.Raise(context.Background(), auth.Actor{ID: "asha-9", Role: auth.RoleASHAWorker}, in)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if a.PatientID != p.ID || a.PatientInfo == nil || a.PatientInfo.Name != "Sunita Pawar" {
		t.Errorf("expected patient details, got %+v", a.PatientInfo)
	}
	if a.PatientInfo.Age == nil || *a.PatientInfo.Age != 28 {
		t.Errorf("expected age 28, got %v", a.PatientInfo.Age)
	}
	if a.District != "Pune" || a.Block != "Mulshi" || a.Village != "Paud" {
		t.Errorf("expected location from patient, got %s/%s/%s", a.District, a.Block, a.Village)
	}
}

func TestRaise_UnknownPatient(t *testing.T) {
	svc, _ := newTestService()
	svc.SetPatients(patient.NewService(patient.NewMemoryRepository()))
	in := sosInput()
	in.HealthID = "ASHA-NOPE"
	if _, err := svc.Raise(context.Background(), worker, in); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRaise_PublishFailureDoesNotFail(t *testing.T) {
	svc, rec := newTestService()
	rec.Err = errors.New("kafka down")
	if _, err := svc.Raise(context.Background(), worker, sosInput()); err != nil {
		t.Fatalf("raise should succeed despite delivery failure: %v", err)
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	svc, rec := newTestService()
	ctx := context.Background()
	a, _ := svc.Raise(ctx, worker, sosInput())

	acked, err := svc.Acknowledge(ctx, worker, a.ID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != StatusAcknowledged || acked.AcknowledgedBy != "asha-1" {
		t.Errorf("unexpected acknowledged alert %+v", acked)
	}
	if _, err := svc.Acknowledge(ctx, worker, a.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second acknowledge should conflict, got %v", err)
	}

	if _, err := svc.Resolve(ctx, worker, a.ID, "shifted"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("worker resolve should be forbidden, got %v", err)
	}

	resolved, err := svc.Resolve(ctx, supervisor, a.ID, "shifted to district hospital")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ResolvedBy != "sup-1" || resolved.ResolvedAt == nil {
		t.Errorf("unexpected resolved alert %+v", resolved)
	}
	if _, err := svc.Resolve(ctx, supervisor, a.ID, "again"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("resolving twice should conflict, got %v", err)
	}

	if len(rec.OfType(events.TypeAlertAcknowledge)) != 1 || len(rec.OfType(events.TypeAlertResolved)) != 1 {
		t.Error("expected one acknowledge and one resolve event")
	}
}

func TestResolve_WithoutAcknowledgeStampsBoth(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.Raise(ctx, worker, sosInput())

	resolved, err := svc.Resolve(ctx, supervisor, a.ID, "false alarm")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.AcknowledgedAt == nil || resolved.AcknowledgedBy != "sup-1" {
		t.Error("resolving a sent alert should also acknowledge it")
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	clock := fixedNow
	svc.SetClock(func() time.Time { return clock })

	first, _ := svc.Raise(ctx, worker, sosInput())
	clock = clock.Add(time.Minute)
	second, _ := svc.Raise(ctx, worker, sosInput())
	clock = clock.Add(time.Minute)
	other := sosInput()
	other.District, other.Block = "Nashik", "Igatpuri"
	_, _ = svc.Raise(ctx, auth.Actor{ID: "asha-5", Role: auth.RoleASHAWorker}, other)
	_, _ = svc.Acknowledge(ctx, supervisor, first.ID)

	items, total, err := svc.List(ctx, Query{District: "Pune"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || items[0].ID != second.ID {
		t.Errorf("expected newest Pune alert first, total=%d", total)
	}

	items, total, _ = svc.List(ctx, Query{Status: StatusSent})
	if total != 2 {
		t.Errorf("expected 2 sent alerts, got %d", total)
	}
	for _, a := range items {
		if a.Status != StatusSent {
			t.Errorf("unexpected status %s", a.Status)
		}
	}

	items, total, _ = svc.List(ctx, Query{Limit: 1, Offset: 1})
	if total != 3 || len(items) != 1 {
		t.Errorf("expected one item of three, got %d/%d", len(items), total)
	}

	if _, _, err := svc.List(ctx, Query{Status: "lost"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for bad status, got %v", err)
	}
}

func TestMemoryRepository_VersionConflict(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	a := &Alert{Type: TypeOther, Status: StatusSent}
	_ = repo.Create(ctx, a)

	stale, _ := repo.GetByID(ctx, a.ID)
	fresh, _ := repo.GetByID(ctx, a.ID)
	fresh.Status = StatusAcknowledged
	if err := repo.Update(ctx, fresh); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.Status = StatusResolved
	if err := repo.Update(ctx, stale); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}
