// Package analytics derives dashboards, coverage, worker performance and
// incentive statements from the active patient population. Nothing here is
// stored; every figure is recomputed from patient documents on request.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
)

const (
	DefaultTrendDays   = 30
	DefaultTrendMonths = 6
	coverageWindow     = 90 * 24 * time.Hour

	maxTrendDays   = 365
	maxTrendMonths = 24

	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// PatientSource streams active patients in scope. patient.Repository
// satisfies it.
type PatientSource interface {
	Scan(ctx context.Context, f patient.Filter, fn func(*patient.Patient) error) error
}

type Service struct {
	patients PatientSource
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(patients PatientSource) *Service {
	return &Service{patients: patients, log: zerolog.Nop(), now: time.Now}
}

func (s *Service) SetLogger(l zerolog.Logger)    { s.log = l }
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*1000) / 10
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// Dashboard totals visits and immunizations and builds a daily trend for
// the last days days, today included.
func (s *Service) Dashboard(ctx context.Context, f patient.Filter, days int) (*Dashboard, error) {
	days = clamp(days, DefaultTrendDays, maxTrendDays)
	today := dayStart(s.now())
	first := today.AddDate(0, 0, -(days - 1))

	d := &Dashboard{Trends: make([]DailyTrend, days)}
	index := make(map[string]int, days)
	for i := range d.Trends {
		key := first.AddDate(0, 0, i).Format(dayLayout)
		d.Trends[i].Date = key
		index[key] = i
	}

	err := s.patients.Scan(ctx, f, func(p *patient.Patient) error {
		d.TotalPatients++
		for _, im := range p.Immunizations {
			if im.Status == "completed" {
				d.Immunizations++
			}
		}
		for _, v := range p.Visits {
			d.TotalVisits++
			switch v.Type {
			case patient.VisitAntenatal:
				d.ANCVisits++
			case patient.VisitPostnatal:
				d.PNCVisits++
			case patient.VisitIllness:
				d.IllnessVisits++
			}

			i, ok := index[v.Date.UTC().Format(dayLayout)]
			if !ok {
				continue
			}
			tr := &d.Trends[i]
			tr.Visits++
			switch v.Type {
			case patient.VisitImmunization:
				tr.Immunizations++
			case patient.VisitAntenatal:
				tr.ANC++
			case patient.VisitIllness:
				tr.Illness++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// HealthTrends counts immunization and antenatal visits per calendar month
// for the last months months, the current month included.
func (s *Service) HealthTrends(ctx context.Context, f patient.Filter, months int) (*HealthTrends, error) {
	months = clamp(months, DefaultTrendMonths, maxTrendMonths)
	now := s.now().UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	ht := &HealthTrends{
		ImmunizationTrends: make([]MonthCount, months),
		ANCTrends:          make([]MonthCount, months),
	}
	index := make(map[string]int, months)
	for i := 0; i < months; i++ {
		key := current.AddDate(0, i-(months-1), 0).Format(monthLayout)
		ht.ImmunizationTrends[i].Month = key
		ht.ANCTrends[i].Month = key
		index[key] = i
	}

	err := s.patients.Scan(ctx, f, func(p *patient.Patient) error {
		for _, v := range p.Visits {
			i, ok := index[v.Date.UTC().Format(monthLayout)]
			if !ok {
				continue
			}
			switch v.Type {
			case patient.VisitImmunization:
				ht.ImmunizationTrends[i].Count++
			case patient.VisitAntenatal:
				ht.ANCTrends[i].Count++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ht, nil
}

// Coverage reports, per block, the share of patients visited in the last
// 90 days.
func (s *Service) Coverage(ctx context.Context, f patient.Filter) (*Coverage, error) {
	since := s.now().UTC().Add(-coverageWindow)
	blocks := map[string]*BlockCoverage{}

	err := s.patients.Scan(ctx, f, func(p *patient.Patient) error {
		b, ok := blocks[p.Address.Block]
		if !ok {
			b = &BlockCoverage{Block: p.Address.Block}
			blocks[p.Address.Block] = b
		}
		b.Patients++
		b.Visits += len(p.Visits)
		for _, v := range p.Visits {
			if !v.Date.Before(since) {
				b.VisitedPatients++
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Coverage{ByBlock: make([]BlockCoverage, 0, len(blocks))}
	var patients, visited int
	for _, b := range blocks {
		b.Coverage = percent(b.VisitedPatients, b.Patients)
		patients += b.Patients
		visited += b.VisitedPatients
		out.ByBlock = append(out.ByBlock, *b)
	}
	sort.Slice(out.ByBlock, func(i, j int) bool { return out.ByBlock[i].Block < out.ByBlock[j].Block })
	out.TotalCoverage = percent(visited, patients)
	return out, nil
}

type workerAcc struct {
	perf     WorkerPerformance
	patients map[string]bool
}

// Performance summarises each ASHA worker's visits in the last days days.
// A follow-up falls due when a visit's nextVisitDate has passed; it is met
// when the patient has a later visit on or before that date.
func (s *Service) Performance(ctx context.Context, f patient.Filter, days int) (*Performance, error) {
	days = clamp(days, DefaultTrendDays, maxTrendDays)
	now := s.now().UTC()
	since := dayStart(now).AddDate(0, 0, -(days - 1))
	workers := map[string]*workerAcc{}

	err := s.patients.Scan(ctx, f, func(p *patient.Patient) error {
		for _, v := range p.Visits {
			if v.Date.Before(since) || v.Date.After(now) {
				continue
			}
			w, ok := workers[v.ASHAWorker]
			if !ok {
				w = &workerAcc{perf: WorkerPerformance{ASHAWorker: v.ASHAWorker}, patients: map[string]bool{}}
				workers[v.ASHAWorker] = w
			}
			w.perf.Visits++
			w.patients[p.ID] = true

			due := v.Findings.NextVisitDate
			if due == nil || due.After(now) {
				continue
			}
			w.perf.FollowUpsDue++
			if followedUp(p.Visits, v.Date, *due) {
				w.perf.FollowUpsMet++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Performance{PeriodDays: days, ASHAWorkers: make([]WorkerPerformance, 0, len(workers))}
	var visits, patients, rated int
	var compliance float64
	for _, w := range workers {
		w.perf.Patients = len(w.patients)
		if w.perf.FollowUpsDue > 0 {
			c := percent(w.perf.FollowUpsMet, w.perf.FollowUpsDue)
			w.perf.Compliance = &c
			compliance += c
			rated++
		}
		visits += w.perf.Visits
		patients += w.perf.Patients
		out.ASHAWorkers = append(out.ASHAWorkers, w.perf)
	}
	sort.Slice(out.ASHAWorkers, func(i, j int) bool {
		return out.ASHAWorkers[i].ASHAWorker < out.ASHAWorkers[j].ASHAWorker
	})
	if n := len(out.ASHAWorkers); n > 0 {
		out.AverageMetrics.Visits = math.Round(float64(visits)/float64(n)*10) / 10
		out.AverageMetrics.Patients = math.Round(float64(patients)/float64(n)*10) / 10
	}
	if rated > 0 {
		out.AverageMetrics.Compliance = math.Round(compliance/float64(rated)*10) / 10
	}
	return out, nil
}

func followedUp(visits []patient.Visit, after, by patient.Date) bool {
	for _, u := range visits {
		if u.Date.After(after.Time) && !u.Date.After(by.Time) {
			return true
		}
	}
	return false
}

// SupervisorDashboard summarises the actor's district. Supervisors without
// an explicit district filter see their own district.
func (s *Service) SupervisorDashboard(ctx context.Context, actor auth.Actor, f patient.Filter) (*SupervisorDashboard, error) {
	if err := auth.Authorize(actor, auth.ActionSupervisorView); err != nil {
		return nil, err
	}
	if f.District == "" && actor.Role != auth.RoleAdmin {
		f.District = actor.District
	}
	now := s.now().UTC()
	workers := map[string]bool{}
	d := &SupervisorDashboard{District: f.District}

	err := s.patients.Scan(ctx, f, func(p *patient.Patient) error {
		d.TotalPatients++
		if p.RegisteredBy != "" {
			workers[p.RegisteredBy] = true
		}
		if patient.IsHighRisk(p) {
			d.HighRiskCases++
		}
		for _, v := range p.Visits {
			d.TotalVisits++
			if v.ASHAWorker != "" {
				workers[v.ASHAWorker] = true
			}
		}
		for _, im := range p.Immunizations {
			if im.NextDueDate != nil && im.NextDueDate.Before(now) {
				d.OverdueImmunizations++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.TotalASHAWorkers = len(workers)
	if d.TotalASHAWorkers > 0 {
		d.AverageVisits = math.Round(float64(d.TotalVisits)/float64(d.TotalASHAWorkers)*10) / 10
	}
	return d, nil
}

// Incentives computes each worker's statement for month (YYYY-MM, default
// the current month). ASHA workers only see their own statement.
func (s *Service) Incentives(ctx context.Context, actor auth.Actor, f patient.Filter, month string) ([]Incentive, error) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if month != "" {
		t, err := time.Parse(monthLayout, month)
		if err != nil {
			return nil, apperr.Invalid("month", "must be formatted YYYY-MM")
		}
		start = t
	}
	end := start.AddDate(0, 1, 0)
	label := start.Format(monthLayout)

	only := ""
	if actor.Role == auth.RoleASHAWorker {
		only = actor.ID
	}

	byWorker := map[string]*Incentive{}
	err := s.patients.Scan(ctx, f, func(p *patient.Patient) error {
		for _, v := range p.Visits {
			if v.Date.Before(start) || !v.Date.Before(end) {
				continue
			}
			if only != "" && v.ASHAWorker != only {
				continue
			}
			inc, ok := byWorker[v.ASHAWorker]
			if !ok {
				inc = &Incentive{
					ASHAWorker: v.ASHAWorker,
					Month:      label,
					Visits:     map[string]int{},
					Breakdown:  map[string]int{},
					Status:     IncentivePending,
				}
				byWorker[v.ASHAWorker] = inc
			}
			inc.Visits[v.Type]++
			inc.Breakdown[v.Type] += Rates[v.Type]
			inc.TotalAmount += Rates[v.Type]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Incentive, 0, len(byWorker))
	for _, inc := range byWorker {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ASHAWorker < out[j].ASHAWorker })
	s.log.Debug().Str("month", label).Int("workers", len(out)).Msg("incentives computed")
	return out, nil
}
