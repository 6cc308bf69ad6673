package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/events"
	"github.com/asha/records/internal/platform/metrics"
)

const (
	maxHealthIDAttempts = 5
	maxUpdateAttempts   = 3
)

type Service struct {
	repo    Repository
	ids     *HealthIDGenerator
	pub     events.Publisher
	metrics *metrics.Collector
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		ids:  NewHealthIDGenerator(DefaultHealthIDPrefix),
		pub:  events.Noop{},
		log:  zerolog.Nop(),
		now:  time.Now,
	}
}

func (s *Service) SetHealthIDGenerator(g *HealthIDGenerator) { s.ids = g }
func (s *Service) SetPublisher(p events.Publisher)          { s.pub = p }
func (s *Service) SetMetrics(m *metrics.Collector)          { s.metrics = m }
func (s *Service) SetLogger(l zerolog.Logger)               { s.log = l }
func (s *Service) SetClock(now func() time.Time)            { s.now = now }

// Now returns the service clock in UTC. Handlers use it to derive views.
func (s *Service) Now() time.Time { return s.now().UTC() }

func (s *Service) publish(ctx context.Context, msg events.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.Now()
	}
	if err := s.pub.Publish(ctx, msg); err != nil {
		s.metrics.PublishFailed(msg.Type)
		s.log.Warn().Err(err).Str("event", msg.Type).Msg("event delivery failed")
	}
}

// NewQRCode snapshots the patient's card payload as of at.
func NewQRCode(p *Patient, at time.Time) (*QRCode, error) {
	data, err := json.Marshal(QRPayload{
		HealthID:         p.HealthID,
		Name:             p.FullName,
		Phone:            p.Phone,
		RegistrationDate: p.RegistrationDate,
	})
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}
	return &QRCode{Data: string(data), GeneratedAt: at, IsActive: true}, nil
}

// prepareRegistration clears server-owned fields and applies defaults.
func prepareRegistration(p *Patient, actor auth.Actor, now time.Time) {
	p.ID = ""
	p.HealthID = ""
	p.Visits = nil
	p.QRCode = nil
	p.DeletedAt = nil
	p.DeletedBy = ""
	p.RegisteredBy = actor.ID
	p.RegistrationDate = now
	p.LastModified = now
	p.ModifiedBy = actor.ID
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.RiskAssessment.RiskLevel == "" {
		p.RiskAssessment.RiskLevel = RiskLow
	}
	for i := range p.Immunizations {
		if p.Immunizations[i].Status == "" {
			p.Immunizations[i].Status = "completed"
		}
	}
}

// CheckRegistration runs the registration defaults and field rules over in
// without storing it.
func (s *Service) CheckRegistration(actor auth.Actor, in *Patient) error {
	p := *in
	p.Immunizations = append([]Immunization(nil), in.Immunizations...)
	now := s.Now()
	prepareRegistration(&p, actor, now)
	return Validate(&p, now)
}

// RegisterPatient validates in, assigns a health id and QR snapshot, and
// stores the record. Health id collisions are retried with a fresh id.
func (s *Service) RegisterPatient(ctx context.Context, actor auth.Actor, in *Patient) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, err
	}
	now := s.Now()

	p := in
	prepareRegistration(p, actor, now)
	if err := Validate(p, now); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxHealthIDAttempts; attempt++ {
		id, err := s.ids.Next()
		if err != nil {
			return nil, err
		}
		p.HealthID = id
		if p.QRCode, err = NewQRCode(p, now); err != nil {
			return nil, err
		}

		err = s.repo.Create(ctx, p)
		if err == nil {
			s.metrics.PatientRegistered()
			s.publish(ctx, events.Message{
				Type:  events.TypePatientCreated,
				Key:   p.Address.District,
				Rooms: []string{events.SupervisorRoom(p.Address.District)},
				Data: map[string]string{
					"patientId": p.ID, "healthId": p.HealthID,
					"fullName": p.FullName, "registeredBy": p.RegisteredBy,
				},
			})
			return p, nil
		}
		var conflict *apperr.ConflictError
		if errors.As(err, &conflict) && conflict.Field == "healthId" {
			lastErr = err
			p.ID = ""
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// GetPatient returns the record by id in any status. Soft-deleted records
// stay readable here for audit.
func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByHealthID(ctx context.Context, healthID string) (*Patient, error) {
	return s.repo.GetByHealthID(ctx, healthID)
}

func (s *Service) GetByAadhaar(ctx context.Context, aadhaar string) (*Patient, error) {
	if !ValidAadhaar(aadhaar) {
		return nil, apperr.Invalid("aadhaarNumber", "must be exactly 12 digits")
	}
	return s.repo.GetByAadhaar(ctx, aadhaar)
}

func (s *Service) SearchPatients(ctx context.Context, q Query) ([]*Patient, int, error) {
	return s.repo.Search(ctx, q)
}

// HighRisk lists active patients assessed high or critical.
func (s *Service) HighRisk(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, Query{
		Filter:     f,
		RiskLevels: []string{RiskHigh, RiskCritical},
		Limit:      limit,
		Offset:     offset,
	})
}

// mutate applies fn to the current record and stores it. A non-zero
// expected version must match the stored one; with zero, a concurrent
// write is retried against the fresh record.
func (s *Service) mutate(ctx context.Context, actor auth.Actor, id string, expected int64, fn func(p *Patient, now time.Time) error) (*Patient, error) {
	for attempt := 0; ; attempt++ {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.IsDeleted() {
			return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
		}
		if expected != 0 && p.Version != expected {
			return nil, &apperr.ConflictError{Field: "version"}
		}

		now := s.Now()
		if err := fn(p, now); err != nil {
			return nil, err
		}
		p.LastModified = now
		p.ModifiedBy = actor.ID

		err = s.repo.Update(ctx, p)
		if err == nil {
			return p, nil
		}
		var conflict *apperr.ConflictError
		if expected == 0 && attempt+1 < maxUpdateAttempts && errors.As(err, &conflict) && conflict.Field == "version" {
			continue
		}
		return nil, err
	}
}

// UpdatePatient replaces the mutable demographic and clinical fields.
// Identity, registration metadata, visits, immunizations, risk and QR are
// left as stored; they change only through their own operations.
func (s *Service) UpdatePatient(ctx context.Context, actor auth.Actor, id string, in *Patient) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, in.Version, func(p *Patient, now time.Time) error {
		p.FullName = in.FullName
		p.DateOfBirth = in.DateOfBirth
		p.Gender = in.Gender
		p.AadhaarNumber = in.AadhaarNumber
		p.Phone = in.Phone
		p.AlternativePhone = in.AlternativePhone
		p.Address = in.Address
		p.MedicalHistory = in.MedicalHistory
		p.EmergencyContact = in.EmergencyContact
		p.PregnancyInfo = in.PregnancyInfo
		if in.Status != "" {
			p.Status = in.Status
		}
		return Validate(p, now)
	})
}

// DeletePatient soft-deletes the record. Restricted to roles holding
// patient:delete.
func (s *Service) DeletePatient(ctx context.Context, actor auth.Actor, id string) error {
	if err := auth.Authorize(actor, auth.ActionPatientDelete); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id, actor.ID, s.Now())
}

// AddVisit appends a visit. Date defaults to now and ashaWorker to the
// actor; a correction names the visit it amends, which is left untouched.
func (s *Service) AddVisit(ctx context.Context, actor auth.Actor, id string, v Visit) (*Patient, *Visit, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, nil, err
	}
	now := s.Now()

	v.ID = uuid.New().String()
	v.RecordedAt = now
	if v.Date.IsZero() && !v.Date.Invalid() {
		v.Date = DateOf(now)
	}
	if v.ASHAWorker == "" {
		v.ASHAWorker = actor.ID
	}
	if v.Location.Type == "" {
		v.Location.Type = "home"
	}
	for i := range v.Attachments {
		if v.Attachments[i].UploadedAt.IsZero() {
			v.Attachments[i].UploadedAt = now
		}
	}
	if err := ValidateVisit(&v, now); err != nil {
		return nil, nil, err
	}

	if v.Amends != "" {
		cur, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if !hasVisit(cur, v.Amends) {
			return nil, nil, apperr.Invalid("amends", "does not reference a visit of this patient")
		}
	}

	p, err := s.repo.AppendVisit(ctx, id, v, actor.ID, now)
	if err != nil {
		return nil, nil, err
	}

	s.metrics.VisitRecorded(v.Type)
	s.publish(ctx, events.Message{
		Type:  events.TypeVisitUpdate,
		Key:   p.Address.District,
		Rooms: []string{events.SupervisorRoom(p.Address.District)},
		Data: map[string]interface{}{
			"patientId":   p.ID,
			"healthId":    p.HealthID,
			"patientName": p.FullName,
			"visit":       v,
		},
	})
	return p, &v, nil
}

func hasVisit(p *Patient, visitID string) bool {
	for _, v := range p.Visits {
		if v.ID == visitID {
			return true
		}
	}
	return false
}

// ListVisits returns the visit history in recorded order, optionally only
// visits of visitType.
func (s *Service) ListVisits(ctx context.Context, id, visitType string) ([]Visit, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Visit, 0, len(p.Visits))
	for _, v := range p.Visits {
		if visitType == "" || v.Type == visitType {
			out = append(out, v)
		}
	}
	return out, nil
}

// AddImmunization appends an immunization record.
func (s *Service) AddImmunization(ctx context.Context, actor auth.Actor, id string, im Immunization) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, err
	}
	if im.Status == "" {
		im.Status = "completed"
	}
	if im.AdministeredBy == "" {
		im.AdministeredBy = actor.ID
	}
	if err := ValidateImmunization(&im); err != nil {
		return nil, err
	}
	return s.repo.AppendImmunization(ctx, id, im, actor.ID, s.Now())
}

// UpcomingVaccines returns the immunizations due as of now.
func (s *Service) UpcomingVaccines(ctx context.Context, id string) ([]Immunization, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return UpcomingVaccines(p, s.Now()), nil
}

// AssessRisk records a new risk assessment by the actor.
func (s *Service) AssessRisk(ctx context.Context, actor auth.Actor, id string, r RiskAssessment) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, err
	}
	if err := ValidateRisk(&r); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, 0, func(p *Patient, now time.Time) error {
		if r.LastAssessmentDate == nil {
			r.LastAssessmentDate = &now
		}
		r.AssessedBy = actor.ID
		p.RiskAssessment = r
		return nil
	})
}

// RegenerateQR replaces the cached QR snapshot with one built from the
// current name and phone.
func (s *Service) RegenerateQR(ctx context.Context, actor auth.Actor, id string) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, 0, func(p *Patient, now time.Time) error {
		qr, err := NewQRCode(p, now)
		if err != nil {
			return err
		}
		p.QRCode = qr
		return nil
	})
}

// RevokeQR deactivates the QR code without touching the patient record.
func (s *Service) RevokeQR(ctx context.Context, actor auth.Actor, id string) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionQRRevoke); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, 0, func(p *Patient, now time.Time) error {
		if p.QRCode == nil {
			return &apperr.NotFoundError{Resource: "qr code", Key: p.HealthID}
		}
		p.QRCode.IsActive = false
		return nil
	})
}

// AttachPhoto stores the blob reference for the patient's photo.
func (s *Service) AttachPhoto(ctx context.Context, actor auth.Actor, id string, photo Photo) (*Patient, error) {
	if err := auth.Authorize(actor, auth.ActionPatientWrite); err != nil {
		return nil, err
	}
	if photo.Path == "" {
		return nil, apperr.Invalid("photo.path", "is required")
	}
	return s.mutate(ctx, actor, id, 0, func(p *Patient, now time.Time) error {
		if photo.UploadedAt.IsZero() {
			photo.UploadedAt = now
		}
		p.Photo = &photo
		return nil
	})
}
