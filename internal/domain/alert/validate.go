package alert

import (
	"strings"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/apperr"
)

var (
	types      = map[string]bool{}
	priorities = map[string]bool{PriorityHigh: true, PriorityCritical: true}
	statuses   = map[string]bool{StatusSent: true, StatusAcknowledged: true, StatusResolved: true}
)

func init() {
	for _, t := range Types {
		types[t] = true
	}
}

// Validate collects every problem with a new alert.
func Validate(a *Alert) error {
	v := &apperr.ValidationError{}
	if !types[a.Type] {
		v.Add("type", "must be one of %s", strings.Join(Types, ", "))
	}
	if !priorities[a.Priority] {
		v.Add("priority", "must be high or critical")
	}
	if c := a.Location.Coordinates; c == nil {
		v.Add("location.coordinates", "is required")
	} else {
		patient.ValidateCoordinates(v, "location.coordinates", *c)
	}
	if strings.TrimSpace(a.District) == "" {
		v.Add("district", "is required")
	}
	if strings.TrimSpace(a.Block) == "" {
		v.Add("block", "is required")
	}
	if a.RaisedBy == "" {
		v.Add("raisedBy", "is required")
	}
	return v.Err()
}
