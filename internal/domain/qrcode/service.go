// Package qrcode resolves scanned patient cards and renders card images.
package qrcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
)

const (
	DefaultImageSize = 256
	minImageSize     = 64
	maxImageSize     = 1024
)

// PatientLookup resolves active patients by health id. *patient.Service
// satisfies it.
type PatientLookup interface {
	GetByHealthID(ctx context.Context, healthID string) (*patient.Patient, error)
}

// ScanResult is the patient behind a scanned card. Stale is set when the
// presented snapshot no longer matches the patient's current card.
type ScanResult struct {
	Patient   patient.View `json:"patient"`
	Stale     bool         `json:"stale"`
	ScannedAt time.Time    `json:"scannedAt"`
}

type Service struct {
	patients PatientLookup
	now      func() time.Time
}

func NewService(patients PatientLookup) *Service {
	return &Service{patients: patients, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// parsePayload accepts a JSON card snapshot or a bare health id.
func parsePayload(raw string) (healthID string, snap *patient.QRPayload, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, apperr.Invalid("payload", "is required")
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil, nil
	}
	var p patient.QRPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", nil, apperr.Invalid("payload", "is not a valid card snapshot")
	}
	if p.HealthID == "" {
		return "", nil, apperr.Invalid("payload.healthId", "is required")
	}
	return p.HealthID, &p, nil
}

// activeCard returns the patient whose card is active. A revoked or missing
// card reads as not found.
func (s *Service) activeCard(ctx context.Context, healthID string) (*patient.Patient, error) {
	p, err := s.patients.GetByHealthID(ctx, healthID)
	if err != nil {
		return nil, err
	}
	if p.QRCode == nil || !p.QRCode.IsActive {
		return nil, &apperr.NotFoundError{Resource: "qr code", Key: healthID}
	}
	return p, nil
}

func (s *Service) Scan(ctx context.Context, payload string) (*ScanResult, error) {
	healthID, snap, err := parsePayload(payload)
	if err != nil {
		return nil, err
	}
	p, err := s.activeCard(ctx, healthID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	res := &ScanResult{Patient: patient.NewView(p, now), ScannedAt: now}
	if snap != nil {
		var current patient.QRPayload
		if err := json.Unmarshal([]byte(p.QRCode.Data), &current); err != nil {
			return nil, fmt.Errorf("decode stored qr payload: %w", err)
		}
		res.Stale = current.Name != snap.Name ||
			current.Phone != snap.Phone ||
			!current.RegistrationDate.Equal(snap.RegistrationDate)
	}
	return res, nil
}

// Image renders the patient's current card snapshot as a size x size PNG.
func (s *Service) Image(ctx context.Context, healthID string, size int) ([]byte, error) {
	switch {
	case size == 0:
		size = DefaultImageSize
	case size < minImageSize || size > maxImageSize:
		return nil, apperr.Invalid("size", "must be between %d and %d", minImageSize, maxImageSize)
	}
	p, err := s.activeCard(ctx, healthID)
	if err != nil {
		return nil, err
	}

	code, err := qr.Encode(p.QRCode.Data, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
