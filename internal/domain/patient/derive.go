package patient

import (
	"math"
	"time"
)

// Age returns whole years between the date of birth and asOf's calendar
// date in asOf's location, less one if the birthday has not yet occurred
// that year. ok is false when the date of birth is unknown.
func Age(p *Patient, asOf time.Time) (age int, ok bool) {
	if p.DateOfBirth.IsZero() {
		return 0, false
	}
	by, bm, bd := p.DateOfBirth.Date()
	ay, am, ad := asOf.Date()

	age = ay - by
	if am < bm || (am == bm && ad < bd) {
		age--
	}
	return age, true
}

// AgeInMonths counts calendar months without any day-of-month adjustment.
func AgeInMonths(p *Patient, asOf time.Time) (months int, ok bool) {
	if p.DateOfBirth.IsZero() {
		return 0, false
	}
	by, bm, _ := p.DateOfBirth.Date()
	ay, am, _ := asOf.Date()
	return (ay-by)*12 + int(am) - int(bm), true
}

// BMI is weight over height in metres squared, rounded to one decimal.
// ok is false when either measurement is missing.
func BMI(p *Patient) (bmi float64, ok bool) {
	h, w := p.MedicalHistory.Height, p.MedicalHistory.Weight
	if h == nil || w == nil || *h <= 0 {
		return 0, false
	}
	m := *h / 100
	return math.Round(*w/(m*m)*10) / 10, true
}

// IsHighRisk reports a high or critical risk level.
func IsHighRisk(p *Patient) bool {
	return p.RiskAssessment.RiskLevel == RiskHigh || p.RiskAssessment.RiskLevel == RiskCritical
}

// UpcomingVaccines returns immunization records whose next due date is set
// and not after asOf, in record order.
func UpcomingVaccines(p *Patient, asOf time.Time) []Immunization {
	out := []Immunization{}
	for _, im := range p.Immunizations {
		if im.NextDueDate != nil && !im.NextDueDate.After(asOf) {
			out = append(out, im)
		}
	}
	return out
}

// Age bands used by dashboards.
const (
	BandInfant  = "0-5"
	BandChild   = "6-18"
	BandAdult   = "19-45"
	BandMiddle  = "46-60"
	BandElderly = "60+"
)

// AgeBands lists the bands in ascending order.
var AgeBands = []string{BandInfant, BandChild, BandAdult, BandMiddle, BandElderly}

var bandCeilings = []struct {
	max  int
	band string
}{
	{5, BandInfant},
	{18, BandChild},
	{45, BandAdult},
	{60, BandMiddle},
}

// AgeBand returns the first band whose ceiling age does not exceed,
// falling back to 60+.
func AgeBand(age int) string {
	for _, b := range bandCeilings {
		if age <= b.max {
			return b.band
		}
	}
	return BandElderly
}

// View is the response shape: the stored document plus values derived at
// read time. Derived values are never persisted.
type View struct {
	*Patient
	Age              *int           `json:"age"`
	AgeInMonths      *int           `json:"ageInMonths"`
	BMI              *float64       `json:"bmi"`
	IsHighRisk       bool           `json:"isHighRisk"`
	UpcomingVaccines []Immunization `json:"upcomingVaccines"`
}

// NewView computes derived attributes as of asOf.
func NewView(p *Patient, asOf time.Time) View {
	v := View{
		Patient:          p,
		IsHighRisk:       IsHighRisk(p),
		UpcomingVaccines: UpcomingVaccines(p, asOf),
	}
	if age, ok := Age(p, asOf); ok {
		v.Age = &age
	}
	if months, ok := AgeInMonths(p, asOf); ok {
		v.AgeInMonths = &months
	}
	if bmi, ok := BMI(p); ok {
		v.BMI = &bmi
	}
	return v
}

// NewViews maps NewView over ps.
func NewViews(ps []*Patient, asOf time.Time) []View {
	out := make([]View, 0, len(ps))
	for _, p := range ps {
		out = append(out, NewView(p, asOf))
	}
	return out
}
