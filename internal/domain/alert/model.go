package alert

import (
	"time"

	"github.com/asha/records/internal/domain/patient"
)

const (
	TypeMaternal    = "maternal-emergency"
	TypeChild       = "child-emergency"
	TypeAccident    = "accident"
	TypeCardiac     = "cardiac"
	TypeRespiratory = "respiratory"
	TypeOther       = "other"
)

var Types = []string{TypeMaternal, TypeChild, TypeAccident, TypeCardiac, TypeRespiratory, TypeOther}

const (
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	StatusSent         = "sent"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Alert is an SOS raised by a field worker.
type Alert struct {
	ID             string       `json:"id" bson:"-"`
	Type           string       `json:"type" bson:"type"`
	Priority       string       `json:"priority" bson:"priority"`
	PatientID      string       `json:"patientId,omitempty" bson:"patientId,omitempty"`
	HealthID       string       `json:"healthId,omitempty" bson:"healthId,omitempty"`
	PatientInfo    *PatientInfo `json:"patientInfo,omitempty" bson:"patientInfo,omitempty"`
	Location       Location     `json:"location" bson:"location"`
	Description    string       `json:"description,omitempty" bson:"description,omitempty"`
	District       string       `json:"district" bson:"district"`
	Block          string       `json:"block" bson:"block"`
	Village        string       `json:"village,omitempty" bson:"village,omitempty"`
	RaisedBy       string       `json:"raisedBy" bson:"raisedBy"`
	Status         string       `json:"status" bson:"status"`
	AcknowledgedBy string       `json:"acknowledgedBy,omitempty" bson:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time   `json:"acknowledgedAt,omitempty" bson:"acknowledgedAt,omitempty"`
	ResolvedBy     string       `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time   `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	Resolution     string       `json:"resolution,omitempty" bson:"resolution,omitempty"`
	CreatedAt      time.Time    `json:"createdAt" bson:"createdAt"`
	Version        int64        `json:"version" bson:"version"`
}

// PatientInfo is what the worker could tell about the patient at the scene.
type PatientInfo struct {
	Name      string `json:"name,omitempty" bson:"name,omitempty"`
	Age       *int   `json:"age,omitempty" bson:"age,omitempty"`
	Gender    string `json:"gender,omitempty" bson:"gender,omitempty"`
	Condition string `json:"condition,omitempty" bson:"condition,omitempty"`
}

type Location struct {
	Coordinates *patient.Coordinates `json:"coordinates" bson:"coordinates"`
	Address     string               `json:"address,omitempty" bson:"address,omitempty"`
}

// Query lists alerts newest first.
type Query struct {
	Status   string
	District string
	Block    string
	RaisedBy string
	Limit    int
	Offset   int
}
