package offline

import (
	"encoding/json"
	"time"

	"github.com/asha/records/internal/domain/patient"
)

const (
	KindPatientRegister = "patient.register"
	KindVisitAdd        = "visit.add"
	KindImmunizationAdd = "immunization.add"
)

const (
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"

	// statusPending marks a claimed client id whose item is still being applied.
	statusPending = "pending"
)

// MaxBatchItems bounds one sync request.
const MaxBatchItems = 500

// Batch is what a device uploads after reconnecting.
type Batch struct {
	DeviceID string `json:"deviceId"`
	Items    []Item `json:"items"`
}

// Item is one queued write. ClientID is generated on the device and makes
// replays idempotent.
type Item struct {
	ClientID string          `json:"clientId"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data"`
	QueuedAt *time.Time      `json:"queuedAt,omitempty"`
}

// Result reports the outcome for one item. Ref is the patient id for a
// registration, the visit id for a visit and the patient id for an
// immunization.
type Result struct {
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
	Ref      string `json:"ref,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary is the response to a sync request.
type Summary struct {
	DeviceID   string   `json:"deviceId"`
	Results    []Result `json:"results"`
	Applied    int      `json:"applied"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
}

// patientRef names the patient a visit or immunization belongs to, either
// by health id or by the client id of its registration.
type patientRef struct {
	HealthID        string `json:"healthId,omitempty"`
	PatientClientID string `json:"patientClientId,omitempty"`
}

type visitData struct {
	patientRef
	patient.Visit
}

type immunizationData struct {
	patientRef
	patient.Immunization
}
