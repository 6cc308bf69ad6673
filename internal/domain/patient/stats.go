package patient

import (
	"context"
	"time"
)

// Overview is the dashboard summary for a location scope.
type Overview struct {
	TotalPatients        int            `json:"totalPatients"`
	ActivePatients       int            `json:"activePatients"`
	NewPatientsThisMonth int            `json:"newPatientsThisMonth"`
	PatientsByGender     map[string]int `json:"patientsByGender"`
	PatientsByAgeGroup   map[string]int `json:"patientsByAgeGroup"`
}

// CountActive counts active, non-deleted patients in scope.
func (s *Service) CountActive(ctx context.Context, f Filter) (int, error) {
	n := 0
	err := s.repo.Scan(ctx, f, func(*Patient) error {
		n++
		return nil
	})
	return n, err
}

// CountNewThisMonth counts active patients registered since the start of
// the current UTC calendar month.
func (s *Service) CountNewThisMonth(ctx context.Context, f Filter) (int, error) {
	start := monthStart(s.Now())
	n := 0
	err := s.repo.Scan(ctx, f, func(p *Patient) error {
		if !p.RegistrationDate.Before(start) {
			n++
		}
		return nil
	})
	return n, err
}

// GroupByGender counts active patients per gender value.
func (s *Service) GroupByGender(ctx context.Context, f Filter) (map[string]int, error) {
	out := map[string]int{}
	err := s.repo.Scan(ctx, f, func(p *Patient) error {
		out[p.Gender]++
		return nil
	})
	return out, err
}

// GroupByAgeBand counts active patients per age band. Every band is present
// in the result; patients without a date of birth are not counted.
func (s *Service) GroupByAgeBand(ctx context.Context, f Filter) (map[string]int, error) {
	now := s.Now()
	out := emptyBands()
	err := s.repo.Scan(ctx, f, func(p *Patient) error {
		if age, ok := Age(p, now); ok {
			out[AgeBand(age)]++
		}
		return nil
	})
	return out, err
}

// Overview computes every dashboard count in a single pass.
func (s *Service) Overview(ctx context.Context, f Filter) (*Overview, error) {
	total, err := s.repo.CountAll(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	start := monthStart(now)
	ov := &Overview{
		TotalPatients:      total,
		PatientsByGender:   map[string]int{},
		PatientsByAgeGroup: emptyBands(),
	}
	err = s.repo.Scan(ctx, f, func(p *Patient) error {
		ov.ActivePatients++
		if !p.RegistrationDate.Before(start) {
			ov.NewPatientsThisMonth++
		}
		ov.PatientsByGender[p.Gender]++
		if age, ok := Age(p, now); ok {
			ov.PatientsByAgeGroup[AgeBand(age)]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ov, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func emptyBands() map[string]int {
	out := make(map[string]int, len(AgeBands))
	for _, b := range AgeBands {
		out[b] = 0
	}
	return out
}
