package patient

import (
	"context"
	"testing"
	"time"
)

func TestOverview(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	clock := day(2024, 6, 20)
	svc.SetClock(func() time.Time { return clock })

	old := validPatient()
	old.DateOfBirth = date(1950, 1, 1)
	register(t, svc, old)

	clock = testNow
	child := validPatient()
	child.DateOfBirth = date(2020, 1, 1)
	child.Gender = GenderMale
	register(t, svc, child)
	adult := register(t, svc, validPatient())

	elsewhere := validPatient()
	elsewhere.Address.District = "Nashik"
	register(t, svc, elsewhere)

	if err := svc.DeletePatient(ctx, supervisor, adult.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ov, err := svc.Overview(ctx, Filter{District: "Pune"})
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.TotalPatients != 2 || ov.ActivePatients != 2 {
		t.Errorf("expected 2 total and 2 active, got %d/%d", ov.TotalPatients, ov.ActivePatients)
	}
	if ov.NewPatientsThisMonth != 1 {
		t.Errorf("expected 1 new this month, got %d", ov.NewPatientsThisMonth)
	}
	if ov.PatientsByGender[GenderMale] != 1 || ov.PatientsByGender[GenderFemale] != 1 {
		t.Errorf("unexpected gender counts %v", ov.PatientsByGender)
	}
	if ov.PatientsByAgeGroup[BandInfant] != 1 || ov.PatientsByAgeGroup[BandElderly] != 1 || ov.PatientsByAgeGroup[BandAdult] != 0 {
		t.Errorf("unexpected age groups %v", ov.PatientsByAgeGroup)
	}
	if len(ov.PatientsByAgeGroup) != len(AgeBands) {
		t.Errorf("every band should be present, got %v", ov.PatientsByAgeGroup)
	}
}

func TestCountHelpersAgreeWithOverview(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	register(t, svc, validPatient())
	inactive := validPatient()
	inactive.Status = StatusInactive
	register(t, svc, inactive)

	active, _ := svc.CountActive(ctx, Filter{})
	fresh, _ := svc.CountNewThisMonth(ctx, Filter{})
	genders, _ := svc.GroupByGender(ctx, Filter{})
	bands, _ := svc.GroupByAgeBand(ctx, Filter{})
	ov, _ := svc.Overview(ctx, Filter{})

	if active != 1 || ov.ActivePatients != active {
		t.Errorf("active mismatch %d vs %d", active, ov.ActivePatients)
	}
	if ov.TotalPatients != 2 {
		t.Errorf("inactive patient should count toward total, got %d", ov.TotalPatients)
	}
	if fresh != ov.NewPatientsThisMonth {
		t.Errorf("new-this-month mismatch %d vs %d", fresh, ov.NewPatientsThisMonth)
	}
	if genders[GenderFemale] != ov.PatientsByGender[GenderFemale] {
		t.Errorf("gender mismatch")
	}
	if bands[BandAdult] != 1 || bands[BandAdult] != ov.PatientsByAgeGroup[BandAdult] {
		t.Errorf("band mismatch %v vs %v", bands, ov.PatientsByAgeGroup)
	}
}
