package qrcode

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
)

var (
	now        = time.Date(2024, 7, 10, 9, 0, 0, 0, time.UTC)
	worker     = auth.Actor{ID: "asha-1", Role: auth.RoleASHAWorker}
	supervisor = auth.Actor{ID: "sup-1", Role: auth.RoleSupervisor}
)

func setup(t *testing.T) (*Service, *patient.Service, *patient.Patient) {
	t.Helper()
	patients := patient.NewService(patient.NewMemoryRepository())
	patients.SetClock(func() time.Time { return now })
	p, err := patients.RegisterPatient(context.Background(), worker, &patient.Patient{
		FullName:    "Kavita More",
		DateOfBirth: patient.NewDate(1990, 2, 2),
		Gender:      patient.GenderFemale,
		Phone:       "9011122233",
		Address:     patient.Address{FullAddress: "Near temple", District: "Satara", Block: "Wai", Village: "Bavdhan"},
	})
	require.NoError(t, err)

	svc := NewService(patients)
	svc.SetClock(func() time.Time { return now })
	return svc, patients, p
}

func TestScan_Snapshot(t *testing.T) {
	svc, _, p := setup(t)

	res, err := svc.Scan(context.Background(), p.QRCode.Data)
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.Patient.ID)
	assert.False(t, res.Stale)
	require.NotNil(t, res.Patient.Age)
	assert.Equal(t, 34, *res.Patient.Age)
}

func TestScan_BareHealthID(t *testing.T) {
	svc, _, p := setup(t)

	res, err := svc.Scan(context.Background(), "  "+p.HealthID+"\n")
	require.NoError(t, err)
	assert.Equal(t, p.HealthID, res.Patient.HealthID)
	assert.False(t, res.Stale)
}

func TestScan_StaleAfterRegenerate(t *testing.T) {
	svc, patients, p := setup(t)
	ctx := context.Background()
	old := p.QRCode.Data

	edit := *p
	edit.Phone = "9011199999"
	edit.Version = 0
	_, err := patients.UpdatePatient(ctx, worker, p.ID, &edit)
	require.NoError(t, err)

	res, err := svc.Scan(ctx, old)
	require.NoError(t, err)
	assert.False(t, res.Stale, "card is only stale once a new snapshot is issued")

	_, err = patients.RegenerateQR(ctx, worker, p.ID)
	require.NoError(t, err)

	res, err = svc.Scan(ctx, old)
	require.NoError(t, err)
	assert.True(t, res.Stale)
}

func TestScan_RevokedIsNotFound(t *testing.T) {
	svc, patients, p := setup(t)
	ctx := context.Background()

	_, err := patients.RevokeQR(ctx, supervisor, p.ID)
	require.NoError(t, err)

	_, err = svc.Scan(ctx, p.QRCode.Data)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Image(ctx, p.HealthID, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestScan_InvalidPayload(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	for _, payload := range []string{"", "   ", "{not json", `{"name":"x"}`} {
		_, err := svc.Scan(ctx, payload)
		assert.ErrorIs(t, err, apperr.ErrValidation, "payload %q", payload)
	}

	_, err := svc.Scan(ctx, "ASHA-0-ZZZZ")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestImage(t *testing.T) {
	svc, _, p := setup(t)

	raw, err := svc.Image(context.Background(), p.HealthID, 300)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestImage_SizeBounds(t *testing.T) {
	svc, _, p := setup(t)
	_, err := svc.Image(context.Background(), p.HealthID, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Image(context.Background(), p.HealthID, 5000)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestParsePayload(t *testing.T) {
	snap := patient.QRPayload{HealthID: "ASHA-1-AAAA", Name: "A", Phone: "9000000000"}
	raw, _ := json.Marshal(snap)

	id, got, err := parsePayload(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "ASHA-1-AAAA", id)
	assert.Equal(t, "A", got.Name)

	id, got, err = parsePayload("ASHA-2-BBBB")
	require.NoError(t, err)
	assert.Equal(t, "ASHA-2-BBBB", id)
	assert.Nil(t, got)
}
