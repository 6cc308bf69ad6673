package patient

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asha/records/internal/platform/apperr"
)

// MemoryRepository is an in-process Repository used by tests and by the
// memory store backend.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Patient
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Patient)}
}

func clone(p *Patient) *Patient {
	b, err := json.Marshal(p)
	if err != nil {
		panic("patient: clone: " + err.Error())
	}
	out := &Patient{}
	if err := json.Unmarshal(b, out); err != nil {
		panic("patient: clone: " + err.Error())
	}
	return out
}

// uniqueLocked checks healthId and aadhaar against every other record,
// soft-deleted included.
func (r *MemoryRepository) uniqueLocked(p *Patient) error {
	for id, other := range r.byID {
		if id == p.ID {
			continue
		}
		if other.HealthID == p.HealthID {
			return &apperr.ConflictError{Field: "healthId", Value: p.HealthID}
		}
		if p.AadhaarNumber != "" && other.AadhaarNumber == p.AadhaarNumber {
			return &apperr.ConflictError{Field: "aadhaarNumber"}
		}
	}
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := r.uniqueLocked(p); err != nil {
		return err
	}
	normalize(p)
	p.Version = 1
	r.byID[p.ID] = clone(p)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	return clone(p), nil
}

func (r *MemoryRepository) findActive(match func(*Patient) bool, key string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byID {
		if p.IsActive() && match(p) {
			return clone(p), nil
		}
	}
	return nil, &apperr.NotFoundError{Resource: "patient", Key: key}
}

func (r *MemoryRepository) GetByHealthID(_ context.Context, healthID string) (*Patient, error) {
	return r.findActive(func(p *Patient) bool { return p.HealthID == healthID }, healthID)
}

func (r *MemoryRepository) GetByAadhaar(_ context.Context, aadhaar string) (*Patient, error) {
	return r.findActive(func(p *Patient) bool { return p.AadhaarNumber == aadhaar }, "with that aadhaar")
}

func (r *MemoryRepository) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[p.ID]
	if !ok || cur.IsDeleted() {
		return &apperr.NotFoundError{Resource: "patient", Key: p.ID}
	}
	if cur.Version != p.Version {
		return &apperr.ConflictError{Field: "version"}
	}
	if err := r.uniqueLocked(p); err != nil {
		return err
	}
	normalize(p)
	p.Version++
	r.byID[p.ID] = clone(p)
	return nil
}

func (r *MemoryRepository) appendLocked(id string, fn func(*Patient), by string, at time.Time) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[id]
	if !ok || cur.IsDeleted() {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	fn(cur)
	cur.LastModified = at
	cur.ModifiedBy = by
	cur.Version++
	return clone(cur), nil
}

func (r *MemoryRepository) AppendVisit(_ context.Context, id string, v Visit, by string, at time.Time) (*Patient, error) {
	return r.appendLocked(id, func(p *Patient) { p.Visits = append(p.Visits, v) }, by, at)
}

func (r *MemoryRepository) AppendImmunization(_ context.Context, id string, im Immunization, by string, at time.Time) (*Patient, error) {
	return r.appendLocked(id, func(p *Patient) { p.Immunizations = append(p.Immunizations, im) }, by, at)
}

func (r *MemoryRepository) SoftDelete(_ context.Context, id, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[id]
	if !ok || cur.IsDeleted() {
		return &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	cur.Status = StatusInactive
	cur.DeletedAt = &at
	cur.DeletedBy = by
	cur.LastModified = at
	cur.ModifiedBy = by
	cur.Version++
	return nil
}

func matchesFilter(p *Patient, f Filter) bool {
	return (f.District == "" || p.Address.District == f.District) &&
		(f.Block == "" || p.Address.Block == f.Block) &&
		(f.Village == "" || p.Address.Village == f.Village)
}

func matchesQuery(p *Patient, q Query) bool {
	if p.IsDeleted() || !matchesFilter(p, q.Filter) {
		return false
	}
	status := q.Status
	if status == "" {
		status = StatusActive
	}
	if status != "all" && p.Status != status {
		return false
	}
	if q.RegisteredBy != "" && p.RegisteredBy != q.RegisteredBy {
		return false
	}
	if len(q.RiskLevels) > 0 {
		found := false
		for _, lvl := range q.RiskLevels {
			if p.RiskAssessment.RiskLevel == lvl {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Text != "" {
		t := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(p.FullName), t) &&
			!strings.Contains(strings.ToLower(p.HealthID), t) &&
			!strings.Contains(p.Phone, t) &&
			!strings.Contains(p.AadhaarNumber, t) {
			return false
		}
	}
	return true
}

// Search orders by registration date, newest first.
func (r *MemoryRepository) Search(_ context.Context, q Query) ([]*Patient, int, error) {
	r.mu.RLock()
	var matched []*Patient
	for _, p := range r.byID {
		if matchesQuery(p, q) {
			matched = append(matched, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RegistrationDate.Equal(matched[j].RegistrationDate) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].RegistrationDate.After(matched[j].RegistrationDate)
	})

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	out := make([]*Patient, 0, end-start)
	for _, p := range matched[start:end] {
		out = append(out, clone(p))
	}
	return out, total, nil
}

func (r *MemoryRepository) Scan(ctx context.Context, f Filter, fn func(*Patient) error) error {
	r.mu.RLock()
	var matched []*Patient
	for _, p := range r.byID {
		if p.IsActive() && matchesFilter(p, f) {
			matched = append(matched, clone(p))
		}
	}
	r.mu.RUnlock()

	for _, p := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) CountAll(_ context.Context, f Filter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byID {
		if !p.IsDeleted() && matchesFilter(p, f) {
			n++
		}
	}
	return n, nil
}
