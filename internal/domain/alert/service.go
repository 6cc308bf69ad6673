package alert

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/events"
	"github.com/asha/records/internal/platform/metrics"
)

// PatientFinder resolves the patient an alert names. *patient.Service
// satisfies it.
type PatientFinder interface {
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	GetByHealthID(ctx context.Context, healthID string) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientFinder
	pub      events.Publisher
	metrics  *metrics.Collector
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, pub: events.Noop{}, log: zerolog.Nop(), now: time.Now}
}

func (s *Service) SetPatients(p PatientFinder)     { s.patients = p }
func (s *Service) SetPublisher(p events.Publisher) { s.pub = p }
func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }
func (s *Service) SetLogger(l zerolog.Logger)      { s.log = l }
func (s *Service) SetClock(now func() time.Time)   { s.now = now }

func rooms(a *Alert) []string {
	return []string{events.SupervisorRoom(a.District), events.WorkerRoom(a.Block)}
}

func (s *Service) publish(ctx context.Context, typ string, a *Alert) {
	msg := events.Message{
		Type:      typ,
		Key:       a.District,
		Rooms:     rooms(a),
		Data:      a,
		Timestamp: s.now().UTC(),
	}
	if err := s.pub.Publish(ctx, msg); err != nil {
		s.metrics.PublishFailed(typ)
		s.log.Warn().Err(err).Str("event", typ).Str("alert_id", a.ID).Msg("alert delivery failed")
	}
}

// Raise stores a new alert and fans it out. Location fields missing from the
// request are taken from the patient record when one is named.
func (s *Service) Raise(ctx context.Context, actor auth.Actor, in *Alert) (*Alert, error) {
	if err := auth.Authorize(actor, auth.ActionAlertRaise); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	a := in
	a.ID = ""
	a.RaisedBy = actor.ID
	a.Status = StatusSent
	a.CreatedAt = now
	a.AcknowledgedBy, a.AcknowledgedAt = "", nil
	a.ResolvedBy, a.ResolvedAt, a.Resolution = "", nil, ""
	if a.Priority == "" {
		a.Priority = PriorityHigh
	}
	if a.District == "" {
		a.District = actor.District
	}
	if a.Block == "" {
		a.Block = actor.Block
	}

	if err := s.attachPatient(ctx, a, now); err != nil {
		return nil, err
	}
	if err := Validate(a); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.metrics.AlertRaised(a.Type)
	s.log.Info().Str("alert_id", a.ID).Str("type", a.Type).Str("priority", a.Priority).
		Str("district", a.District).Str("block", a.Block).Msg("emergency alert raised")
	s.publish(ctx, events.TypeEmergencyAlert, a)
	return a, nil
}

func (s *Service) attachPatient(ctx context.Context, a *Alert, now time.Time) error {
	if s.patients == nil || (a.PatientID == "" && a.HealthID == "") {
		return nil
	}
	var (
		p   *patient.Patient
		err error
	)
	if a.PatientID != "" {
		p, err = s.patients.GetPatient(ctx, a.PatientID)
	} else {
		p, err = s.patients.GetByHealthID(ctx, a.HealthID)
	}
	if err != nil {
		return err
	}
	a.PatientID = p.ID
	a.HealthID = p.HealthID
	if a.PatientInfo == nil {
		a.PatientInfo = &PatientInfo{}
	}
	if a.PatientInfo.Name == "" {
		a.PatientInfo.Name = p.FullName
	}
	if a.PatientInfo.Gender == "" {
		a.PatientInfo.Gender = p.Gender
	}
	if a.PatientInfo.Age == nil {
		if age, ok := patient.Age(p, now); ok {
			a.PatientInfo.Age = &age
		}
	}
	if a.District == "" {
		a.District = p.Address.District
	}
	if a.Block == "" {
		a.Block = p.Address.Block
	}
	if a.Village == "" {
		a.Village = p.Address.Village
	}
	if a.Location.Address == "" {
		a.Location.Address = p.Address.FullAddress
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, q Query) ([]*Alert, int, error) {
	if q.Status != "" && !statuses[q.Status] {
		return nil, 0, apperr.Invalid("status", "must be one of sent, acknowledged, resolved")
	}
	return s.repo.List(ctx, q)
}

// Acknowledge moves a sent alert to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, actor auth.Actor, id string) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusSent {
		return nil, &apperr.ConflictError{Field: "status", Value: a.Status}
	}
	now := s.now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = actor.ID
	a.AcknowledgedAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeAlertAcknowledge, a)
	return a, nil
}

// Resolve closes an alert. Only holders of alert:resolve may call it.
func (s *Service) Resolve(ctx context.Context, actor auth.Actor, id, resolution string) (*Alert, error) {
	if err := auth.Authorize(actor, auth.ActionAlertResolve); err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusResolved {
		return nil, &apperr.ConflictError{Field: "status", Value: a.Status}
	}
	now := s.now().UTC()
	if a.AcknowledgedAt == nil {
		a.AcknowledgedBy = actor.ID
		a.AcknowledgedAt = &now
	}
	a.Status = StatusResolved
	a.ResolvedBy = actor.ID
	a.ResolvedAt = &now
	a.Resolution = resolution
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeAlertResolved, a)
	return a, nil
}
