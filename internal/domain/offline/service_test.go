package offline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
)

var (
	fixedNow = time.Date(2024, 7, 10, 9, 30, 0, 0, time.UTC)
	worker   = auth.Actor{ID: "asha-1", Role: auth.RoleASHAWorker, District: "Pune", Block: "Haveli"}
	other    = auth.Actor{ID: "asha-2", Role: auth.RoleASHAWorker, District: "Pune", Block: "Haveli"}
)

const registration = `{
	"fullName": "Sunita Pawar",
	"dateOfBirth": "1996-02-14T00:00:00Z",
	"gender": "female",
	"phone": "9822098220",
	"address": {"fullAddress": "Near temple", "district": "Pune", "block": "Haveli", "village": "Lohegaon"}
}`

func newTestService() (*Service, *patient.Service, *MemoryLedger) {
	patients := patient.NewService(patient.NewMemoryRepository())
	patients.SetClock(func() time.Time { return fixedNow })
	ledger := NewMemoryLedger(0)
	return NewService(patients, ledger), patients, ledger
}

func item(clientID, kind, data string) Item {
	return Item{ClientID: clientID, Kind: kind, Data: json.RawMessage(data)}
}

func TestSync_RegisterThenVisitByClientID(t *testing.T) {
	svc, patients, _ := newTestService()
	ctx := context.Background()

	sum, err := svc.Sync(ctx, worker, Batch{DeviceID: "tab-9", Items: []Item{
		item("c-1", KindPatientRegister, registration),
		item("c-2", KindVisitAdd, `{"patientClientId": "c-1", "type": "antenatal", "date": "2024-07-09T10:00:00Z"}`),
		item("c-3", KindImmunizationAdd, `{"patientClientId": "c-1", "vaccine": "TT-1", "date": "2024-07-09T10:05:00Z"}`),
	}})
	require.NoError(t, err)
	assert.Equal(t, "tab-9", sum.DeviceID)
	assert.Equal(t, 3, sum.Applied)
	assert.Zero(t, sum.Failed)
	require.Len(t, sum.Results, 3)

	patientID := sum.Results[0].Ref
	require.NotEmpty(t, patientID)
	assert.NotEmpty(t, sum.Results[1].Ref)
	assert.Equal(t, patientID, sum.Results[2].Ref)

	p, err := patients.GetPatient(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, p.Visits, 1)
	assert.Equal(t, sum.Results[1].Ref, p.Visits[0].ID)
	assert.Equal(t, "asha-1", p.Visits[0].ASHAWorker)
	require.Len(t, p.Immunizations, 1)
	assert.Equal(t, "TT-1", p.Immunizations[0].Vaccine)
}

func TestSync_ReplayIsDuplicate(t *testing.T) {
	svc, patients, _ := newTestService()
	ctx := context.Background()
	batch := Batch{Items: []Item{
		item("c-1", KindPatientRegister, registration),
		item("c-2", KindVisitAdd, `{"patientClientId": "c-1", "type": "health_check", "date": "2024-07-09T10:00:00Z"}`),
	}}

	first, err := svc.Sync(ctx, worker, batch)
	require.NoError(t, err)
	require.Equal(t, 2, first.Applied)

	second, err := svc.Sync(ctx, worker, batch)
	require.NoError(t, err)
	assert.Zero(t, second.Applied)
	assert.Equal(t, 2, second.Duplicates)
	for i, r := range second.Results {
		assert.Equal(t, StatusDuplicate, r.Status)
		assert.Equal(t, first.Results[i].Ref, r.Ref)
	}

	p, err := patients.GetPatient(ctx, first.Results[0].Ref)
	require.NoError(t, err)
	assert.Len(t, p.Visits, 1)

	total, err := patients.CountActive(ctx, patient.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSync_ClientIDsAreScopedToActor(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	batch := Batch{Items: []Item{item("c-1", KindPatientRegister, registration)}}

	_, err := svc.Sync(ctx, worker, batch)
	require.NoError(t, err)

	sum, err := svc.Sync(ctx, other, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Applied)
}

func TestSync_PatientClientIDAcrossBatches(t *testing.T) {
	svc, patients, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Sync(ctx, worker, Batch{Items: []Item{item("reg-1", KindPatientRegister, registration)}})
	require.NoError(t, err)

	second, err := svc.Sync(ctx, worker, Batch{Items: []Item{
		item("v-1", KindVisitAdd, `{"patientClientId": "reg-1", "type": "follow_up", "date": "2024-07-10T08:00:00Z"}`),
	}})
	require.NoError(t, err)
	require.Equal(t, 1, second.Applied, "results: %+v", second.Results)

	p, err := patients.GetPatient(ctx, first.Results[0].Ref)
	require.NoError(t, err)
	assert.Len(t, p.Visits, 1)
}

func TestSync_VisitByHealthID(t *testing.T) {
	svc, patients, _ := newTestService()
	ctx := context.Background()

	var in patient.Patient
	require.NoError(t, json.Unmarshal([]byte(registration), &in))
	p, err := patients.RegisterPatient(ctx, worker, &in)
	require.NoError(t, err)

	sum, err := svc.Sync(ctx, worker, Batch{Items: []Item{
		item("v-1", KindVisitAdd, `{"healthId": "`+p.HealthID+`", "type": "illness", "date": "2024-07-09T10:00:00Z"}`),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Applied)
}

func TestSync_FailuresDoNotAbortBatch(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()

	sum, err := svc.Sync(ctx, worker, Batch{Items: []Item{
		item("", KindPatientRegister, registration),
		item("c-1", "patient.delete", `{}`),
		item("c-2", KindPatientRegister, `{"fullName": ""}`),
		item("c-3", KindVisitAdd, `{"patientClientId": "nope", "type": "illness"}`),
		item("c-4", KindVisitAdd, `{"type": "illness"}`),
		item("c-5", KindPatientRegister, `not json`),
		item("c-6", KindPatientRegister, registration),
	}})
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Failed)
	assert.Equal(t, 1, sum.Applied)

	for _, r := range sum.Results[:6] {
		assert.Equal(t, StatusFailed, r.Status)
		assert.NotEmpty(t, r.Error)
	}
	assert.Contains(t, sum.Results[2].Error, "fullName")
	assert.Contains(t, sum.Results[3].Error, "patientClientId")
	assert.Contains(t, sum.Results[5].Error, "data")

	// A failed item releases its claim so the device may send it again.
	prev, err := ledger.Lookup(ctx, worker.ID+":c-2")
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestSync_QueuedAtDefaultsVisitDate(t *testing.T) {
	svc, patients, _ := newTestService()
	ctx := context.Background()
	queued := fixedNow.Add(-48 * time.Hour)

	visit := item("v-1", KindVisitAdd, `{"patientClientId": "c-1", "type": "postnatal"}`)
	visit.QueuedAt = &queued
	sum, err := svc.Sync(ctx, worker, Batch{Items: []Item{item("c-1", KindPatientRegister, registration), visit}})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Applied)

	p, err := patients.GetPatient(ctx, sum.Results[0].Ref)
	require.NoError(t, err)
	require.Len(t, p.Visits, 1)
	assert.True(t, p.Visits[0].Date.Equal(patient.DateOf(queued)))
	assert.True(t, p.Visits[0].RecordedAt.Equal(fixedNow))
}

func TestSync_PendingClaimIsDuplicate(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()

	ok, err := ledger.Claim(ctx, worker.ID+":c-1")
	require.NoError(t, err)
	require.True(t, ok)

	sum, err := svc.Sync(ctx, worker, Batch{Items: []Item{item("c-1", KindPatientRegister, registration)}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Empty(t, sum.Results[0].Ref)
}

func TestSync_Limits(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Sync(ctx, auth.Actor{ID: "x", Role: "guest"}, Batch{})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	big := Batch{Items: make([]Item, MaxBatchItems+1)}
	_, err = svc.Sync(ctx, worker, big)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	sum, err := svc.Sync(ctx, worker, Batch{})
	require.NoError(t, err)
	assert.Empty(t, sum.Results)
}
