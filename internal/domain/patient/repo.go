package patient

import (
	"context"
	"time"
)

// Repository persists patient documents. Implementations enforce healthId
// and aadhaarNumber uniqueness, returning *apperr.ConflictError naming the
// field, and wrap driver failures as *apperr.StorageError.
type Repository interface {
	// Create assigns ID and Version 1.
	Create(ctx context.Context, p *Patient) error
	// GetByID returns the record in any status, soft-deleted included.
	GetByID(ctx context.Context, id string) (*Patient, error)
	// GetByHealthID and GetByAadhaar return active records only.
	GetByHealthID(ctx context.Context, healthID string) (*Patient, error)
	GetByAadhaar(ctx context.Context, aadhaar string) (*Patient, error)
	// Update replaces the document when the stored version equals p.Version,
	// then increments p.Version. A stale version yields ConflictError{Field: "version"}.
	Update(ctx context.Context, p *Patient) error
	// AppendVisit and AppendImmunization append atomically in the store,
	// bump lastModified, modifiedBy and version, and return the new document.
	AppendVisit(ctx context.Context, id string, v Visit, by string, at time.Time) (*Patient, error)
	AppendImmunization(ctx context.Context, id string, im Immunization, by string, at time.Time) (*Patient, error)
	// SoftDelete marks the record inactive with deletedAt and deletedBy.
	SoftDelete(ctx context.Context, id, by string, at time.Time) error
	Search(ctx context.Context, q Query) ([]*Patient, int, error)
	// Scan calls fn for every active record matching f.
	Scan(ctx context.Context, f Filter, fn func(*Patient) error) error
	// CountAll counts records matching f that are not soft-deleted, in any status.
	CountAll(ctx context.Context, f Filter) (int, error)
}

const (
	constraintHealthID = "patient_health_id_key"
	constraintAadhaar  = "patient_aadhaar_key"
)

// normalize replaces nil lists so stores that append in place never see null.
func normalize(p *Patient) {
	if p.Visits == nil {
		p.Visits = []Visit{}
	}
	if p.Immunizations == nil {
		p.Immunizations = []Immunization{}
	}
	if p.RiskAssessment.RiskLevel == "" {
		p.RiskAssessment.RiskLevel = RiskLow
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
}
