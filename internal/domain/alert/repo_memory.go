package alert

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/asha/records/internal/platform/apperr"
)

type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Alert
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Alert)}
}

func clone(a *Alert) *Alert {
	out := *a
	if a.PatientInfo != nil {
		pi := *a.PatientInfo
		out.PatientInfo = &pi
	}
	if a.Location.Coordinates != nil {
		c := *a.Location.Coordinates
		out.Location.Coordinates = &c
	}
	return &out
}

func (r *MemoryRepository) Create(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Version = 1
	r.byID[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "alert", Key: id}
	}
	return clone(a), nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[a.ID]
	if !ok {
		return &apperr.NotFoundError{Resource: "alert", Key: a.ID}
	}
	if cur.Version != a.Version {
		return &apperr.ConflictError{Field: "version"}
	}
	a.Version++
	r.byID[a.ID] = clone(a)
	return nil
}

func matches(a *Alert, q Query) bool {
	return (q.Status == "" || a.Status == q.Status) &&
		(q.District == "" || a.District == q.District) &&
		(q.Block == "" || a.Block == q.Block) &&
		(q.RaisedBy == "" || a.RaisedBy == q.RaisedBy)
}

func (r *MemoryRepository) List(_ context.Context, q Query) ([]*Alert, int, error) {
	r.mu.RLock()
	var all []*Alert
	for _, a := range r.byID {
		if matches(a, q) {
			all = append(all, clone(a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if q.Offset >= total {
		return []*Alert{}, total, nil
	}
	all = all[q.Offset:]
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, total, nil
}
