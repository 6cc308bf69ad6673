// Package offline ingests writes queued on a device while it had no
// connectivity. Every item carries a client id so a batch can be replayed
// safely after a dropped response.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/metrics"
)

// PatientWriter is the part of *patient.Service a sync session drives.
type PatientWriter interface {
	RegisterPatient(ctx context.Context, actor auth.Actor, in *patient.Patient) (*patient.Patient, error)
	AddVisit(ctx context.Context, actor auth.Actor, id string, v patient.Visit) (*patient.Patient, *patient.Visit, error)
	AddImmunization(ctx context.Context, actor auth.Actor, id string, im patient.Immunization) (*patient.Patient, error)
	GetByHealthID(ctx context.Context, healthID string) (*patient.Patient, error)
}

type Service struct {
	patients PatientWriter
	ledger   Ledger
	metrics  *metrics.Collector
	log      zerolog.Logger
}

func NewService(patients PatientWriter, ledger Ledger) *Service {
	return &Service{patients: patients, ledger: ledger, log: zerolog.Nop()}
}

func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }
func (s *Service) SetLogger(l zerolog.Logger)      { s.log = l }

// Sync applies b in order. A failing item is reported and the rest of the
// batch continues.
func (s *Service) Sync(ctx context.Context, actor auth.Actor, b Batch) (*Summary, error) {
	if err := auth.Authorize(actor, auth.ActionSync); err != nil {
		return nil, err
	}
	if len(b.Items) > MaxBatchItems {
		return nil, apperr.Invalid("items", "at most %d items per batch", MaxBatchItems)
	}

	sess := s.NewSession(actor)
	sum := &Summary{DeviceID: b.DeviceID, Results: make([]Result, 0, len(b.Items))}
	for _, it := range b.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := sess.Apply(ctx, it)
		switch r.Status {
		case StatusApplied:
			sum.Applied++
		case StatusDuplicate:
			sum.Duplicates++
		case StatusFailed:
			sum.Failed++
		}
		s.metrics.SyncItem(r.Status)
		sum.Results = append(sum.Results, r)
	}

	s.log.Info().Str("device_id", b.DeviceID).Str("actor_id", actor.ID).
		Int("applied", sum.Applied).Int("duplicates", sum.Duplicates).Int("failed", sum.Failed).
		Msg("offline batch synced")
	return sum, nil
}

// Session holds the state of one sync request: the acting user and the
// patient ids of registrations applied so far, keyed by client id.
type Session struct {
	svc   *Service
	actor auth.Actor
	refs  map[string]string
}

func (s *Service) NewSession(actor auth.Actor) *Session {
	return &Session{svc: s, actor: actor, refs: map[string]string{}}
}

func (ss *Session) key(clientID string) string {
	return ss.actor.ID + ":" + clientID
}

func failed(clientID string, err error) Result {
	return Result{ClientID: clientID, Status: StatusFailed, Error: errorMessage(err)}
}

// errorMessage keeps classified errors readable and hides anything else.
func errorMessage(err error) string {
	for _, kind := range []error{apperr.ErrValidation, apperr.ErrConflict, apperr.ErrNotFound, apperr.ErrForbidden, apperr.ErrStorage} {
		if errors.Is(err, kind) {
			return err.Error()
		}
	}
	return "internal error"
}

// Apply runs one item unless its client id has been seen before, in which
// case the recorded result is returned as a duplicate.
func (ss *Session) Apply(ctx context.Context, it Item) Result {
	switch {
	case it.ClientID == "":
		return failed("", apperr.Invalid("clientId", "is required"))
	case it.Kind != KindPatientRegister && it.Kind != KindVisitAdd && it.Kind != KindImmunizationAdd:
		return failed(it.ClientID, apperr.Invalid("kind", "must be one of %s, %s, %s",
			KindPatientRegister, KindVisitAdd, KindImmunizationAdd))
	}

	ledger := ss.svc.ledger
	key := ss.key(it.ClientID)
	claimed, err := ledger.Claim(ctx, key)
	if err != nil {
		return failed(it.ClientID, err)
	}
	if !claimed {
		res := Result{ClientID: it.ClientID, Status: StatusDuplicate}
		prev, err := ledger.Lookup(ctx, key)
		if err == nil && prev != nil {
			res.Ref = prev.Ref
			if it.Kind == KindPatientRegister && prev.Ref != "" {
				ss.refs[it.ClientID] = prev.Ref
			}
		}
		return res
	}

	ref, err := ss.apply(ctx, it)
	if err != nil {
		if rerr := ledger.Release(ctx, key); rerr != nil {
			ss.svc.log.Warn().Err(rerr).Str("client_id", it.ClientID).Msg("failed to release sync claim")
		}
		return failed(it.ClientID, err)
	}

	res := Result{ClientID: it.ClientID, Status: StatusApplied, Ref: ref}
	if it.Kind == KindPatientRegister {
		ss.refs[it.ClientID] = ref
	}
	if err := ledger.Complete(ctx, key, res); err != nil {
		ss.svc.log.Warn().Err(err).Str("client_id", it.ClientID).Msg("failed to record sync result")
	}
	return res
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return apperr.Invalid("data", "is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Invalid("data", "malformed: %v", err)
	}
	return nil
}

func (ss *Session) apply(ctx context.Context, it Item) (string, error) {
	p := ss.svc.patients
	switch it.Kind {
	case KindPatientRegister:
		var in patient.Patient
		if err := decode(it.Data, &in); err != nil {
			return "", err
		}
		created, err := p.RegisterPatient(ctx, ss.actor, &in)
		if err != nil {
			return "", err
		}
		return created.ID, nil

	case KindVisitAdd:
		var d visitData
		if err := decode(it.Data, &d); err != nil {
			return "", err
		}
		id, err := ss.resolve(ctx, d.patientRef)
		if err != nil {
			return "", err
		}
		if d.Visit.Date.IsZero() && !d.Visit.Date.Invalid() && it.QueuedAt != nil {
			d.Visit.Date = patient.DateOf(*it.QueuedAt)
		}
		_, v, err := p.AddVisit(ctx, ss.actor, id, d.Visit)
		if err != nil {
			return "", err
		}
		return v.ID, nil

	case KindImmunizationAdd:
		var d immunizationData
		if err := decode(it.Data, &d); err != nil {
			return "", err
		}
		id, err := ss.resolve(ctx, d.patientRef)
		if err != nil {
			return "", err
		}
		if d.Immunization.Date.IsZero() && !d.Immunization.Date.Invalid() && it.QueuedAt != nil {
			d.Immunization.Date = patient.DateOf(*it.QueuedAt)
		}
		if _, err := p.AddImmunization(ctx, ss.actor, id, d.Immunization); err != nil {
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("unhandled sync kind %q", it.Kind)
}

// resolve finds the patient id named by ref. A patientClientId may refer
// to a registration earlier in this batch or in an earlier batch.
func (ss *Session) resolve(ctx context.Context, ref patientRef) (string, error) {
	if ref.PatientClientID != "" {
		if id, ok := ss.refs[ref.PatientClientID]; ok {
			return id, nil
		}
		prev, err := ss.svc.ledger.Lookup(ctx, ss.key(ref.PatientClientID))
		if err != nil {
			return "", err
		}
		if prev == nil || prev.Status != StatusApplied || prev.Ref == "" {
			return "", apperr.Invalid("patientClientId", "does not name a synced registration")
		}
		ss.refs[ref.PatientClientID] = prev.Ref
		return prev.Ref, nil
	}
	if ref.HealthID != "" {
		pt, err := ss.svc.patients.GetByHealthID(ctx, ref.HealthID)
		if err != nil {
			return "", err
		}
		return pt.ID, nil
	}
	return "", apperr.Invalid("healthId", "healthId or patientClientId is required")
}
