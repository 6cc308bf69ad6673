package patient

import (
	"context"
	"sort"

	"github.com/asha/records/internal/platform/auth"
)

// VisitQuery selects visits across every active patient in a location scope.
type VisitQuery struct {
	Filter
	ASHAWorker string
	Type       string
	// From and To bound the visit date, both inclusive. Zero leaves the side open.
	From   Date
	To     Date
	Limit  int
	Offset int
}

// VisitEntry is a visit together with the patient it was recorded against.
type VisitEntry struct {
	Visit
	PatientID   string `json:"patientId"`
	HealthID    string `json:"healthId"`
	PatientName string `json:"patientName"`
}

func (q VisitQuery) matches(v *Visit) bool {
	if q.ASHAWorker != "" && v.ASHAWorker != q.ASHAWorker {
		return false
	}
	if q.Type != "" && v.Type != q.Type {
		return false
	}
	if !q.From.IsZero() && v.Date.Before(q.From.Time) {
		return false
	}
	if !q.To.IsZero() && v.Date.After(q.To.Time) {
		return false
	}
	return true
}

// ListAllVisits returns one page of visits across patients, newest first,
// and the total match count. An ASHA worker only sees visits they recorded.
func (s *Service) ListAllVisits(ctx context.Context, actor auth.Actor, q VisitQuery) ([]VisitEntry, int, error) {
	if actor.Role == auth.RoleASHAWorker {
		q.ASHAWorker = actor.ID
	}

	var all []VisitEntry
	err := s.repo.Scan(ctx, q.Filter, func(p *Patient) error {
		for i := range p.Visits {
			if q.matches(&p.Visits[i]) {
				all = append(all, VisitEntry{
					Visit:       p.Visits[i],
					PatientID:   p.ID,
					HealthID:    p.HealthID,
					PatientName: p.FullName,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date.Time)
		}
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.After(b.RecordedAt)
		}
		return a.ID > b.ID
	})

	total := len(all)
	if q.Offset >= total {
		return []VisitEntry{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < total {
		end = q.Offset + q.Limit
	}
	return all[q.Offset:end], total, nil
}
