package patient

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/asha/records/internal/platform/apperr"
)

var (
	phonePattern   = regexp.MustCompile(`^(\+91|91)?[6-9]\d{9}$`)
	aadhaarPattern = regexp.MustCompile(`^\d{12}$`)
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
)

var (
	genders         = set(GenderMale, GenderFemale, GenderOther)
	statuses        = set(StatusActive, StatusInactive, StatusDeceased)
	riskLevels      = set(RiskLow, RiskMedium, RiskHigh, RiskCritical)
	bloodGroups     = set("A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-")
	conditionStates = set("active", "resolved", "chronic")
	severities      = set("mild", "moderate", "severe")
	outcomes        = set("live_birth", "still_birth", "miscarriage", "abortion")
	immStatuses     = set("completed", "due", "overdue", "missed")
	visitTypes      = set(VisitTypes...)
	locationTypes   = set("home", "health_center", "hospital")
	attachmentTypes = set("image", "document", "prescription")
)

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// ValidPhone reports whether s is an Indian mobile number with an optional
// +91 or 91 prefix.
func ValidPhone(s string) bool { return phonePattern.MatchString(s) }

// ValidAadhaar reports whether s is exactly 12 ASCII digits.
func ValidAadhaar(s string) bool { return aadhaarPattern.MatchString(s) }

// ValidPincode reports whether s is exactly 6 ASCII digits.
func ValidPincode(s string) bool { return pincodePattern.MatchString(s) }

func validLatitude(lat float64) bool  { return lat >= -90 && lat <= 90 }
func validLongitude(lng float64) bool { return lng >= -180 && lng <= 180 }

// ValidCoordinates reports whether c lies within latitude and longitude
// bounds, both inclusive.
func ValidCoordinates(c Coordinates) bool {
	return validLatitude(c.Latitude) && validLongitude(c.Longitude)
}

// ValidateCoordinates adds a violation under prefix for each out-of-range
// axis of c.
func ValidateCoordinates(v *apperr.ValidationError, prefix string, c Coordinates) {
	if ValidCoordinates(c) {
		return
	}
	if !validLatitude(c.Latitude) {
		v.Add(prefix+".latitude", "must be between -90 and 90")
	}
	if !validLongitude(c.Longitude) {
		v.Add(prefix+".longitude", "must be between -180 and 180")
	}
}

const dateMessage = "must be a date (YYYY-MM-DD or RFC3339)"

// latestToday is the calendar date at now in the easternmost time zone, so a
// worker's local today is never taken for a future date.
func latestToday(now time.Time) time.Time {
	return DateOf(now.UTC().Add(14 * time.Hour)).Time
}

func checkDate(v *apperr.ValidationError, field string, d *Date) {
	if d != nil && d.Invalid() {
		v.Add(field, dateMessage)
	}
}

// Validate checks every field rule on p and returns all violations at once.
func Validate(p *Patient, now time.Time) error {
	v := &apperr.ValidationError{}

	if strings.TrimSpace(p.FullName) == "" {
		v.Add("fullName", "is required")
	}
	switch {
	case p.DateOfBirth.Invalid():
		v.Add("dateOfBirth", dateMessage)
	case p.DateOfBirth.IsZero():
		v.Add("dateOfBirth", "is required")
	case p.DateOfBirth.After(latestToday(now)):
		v.Add("dateOfBirth", "cannot be in the future")
	}
	if !genders[p.Gender] {
		v.Add("gender", "must be one of male, female, other")
	}
	if p.AadhaarNumber != "" && !ValidAadhaar(p.AadhaarNumber) {
		v.Add("aadhaarNumber", "must be exactly 12 digits")
	}
	if p.Phone == "" {
		v.Add("phone", "is required")
	} else if !ValidPhone(p.Phone) {
		v.Add("phone", "invalid Indian mobile number")
	}
	if p.AlternativePhone != "" && !ValidPhone(p.AlternativePhone) {
		v.Add("alternativePhone", "invalid Indian mobile number")
	}

	validateAddress(v, &p.Address)
	validateMedicalHistory(v, &p.MedicalHistory)

	if p.PregnancyInfo != nil {
		if p.PregnancyInfo.IsPregnant && p.Gender != GenderFemale {
			v.Add("pregnancyInfo.isPregnant", "applies only to female patients")
		}
		checkDate(v, "pregnancyInfo.expectedDeliveryDate", p.PregnancyInfo.ExpectedDeliveryDate)
		for i, prev := range p.PregnancyInfo.PreviousPregnancies {
			checkDate(v, fmt.Sprintf("pregnancyInfo.previousPregnancies[%d].deliveryDate", i), prev.DeliveryDate)
			if !outcomes[prev.Outcome] {
				v.Add(fmt.Sprintf("pregnancyInfo.previousPregnancies[%d].outcome", i),
					"must be one of live_birth, still_birth, miscarriage, abortion")
			}
		}
	}

	for i := range p.Immunizations {
		validateImmunization(v, fmt.Sprintf("immunizationRecords[%d].", i), &p.Immunizations[i])
	}
	if p.RiskAssessment.RiskLevel != "" && !riskLevels[p.RiskAssessment.RiskLevel] {
		v.Add("riskAssessment.riskLevel", "must be one of low, medium, high, critical")
	}
	if p.Status != "" && !statuses[p.Status] {
		v.Add("status", "must be one of active, inactive, deceased")
	}
	if p.RegisteredBy == "" {
		v.Add("registeredBy", "is required")
	}

	return v.Err()
}

func validateAddress(v *apperr.ValidationError, a *Address) {
	if strings.TrimSpace(a.FullAddress) == "" {
		v.Add("address.fullAddress", "is required")
	}
	if a.District == "" {
		v.Add("address.district", "is required")
	}
	if a.Block == "" {
		v.Add("address.block", "is required")
	}
	if a.Village == "" {
		v.Add("address.village", "is required")
	}
	if a.Pincode != "" && !ValidPincode(a.Pincode) {
		v.Add("address.pincode", "must be exactly 6 digits")
	}
	if a.Coordinates != nil {
		ValidateCoordinates(v, "address.coordinates", *a.Coordinates)
	}
}

func validateMedicalHistory(v *apperr.ValidationError, m *MedicalHistory) {
	if m.BloodGroup != "" && !bloodGroups[m.BloodGroup] {
		v.Add("medicalHistory.bloodGroup", "must be a valid ABO/Rh group")
	}
	if m.Height != nil && (*m.Height < 50 || *m.Height > 250) {
		v.Add("medicalHistory.height", "must be between 50 and 250 cm")
	}
	if m.Weight != nil && (*m.Weight < 1 || *m.Weight > 300) {
		v.Add("medicalHistory.weight", "must be between 1 and 300 kg")
	}
	for i, c := range m.ExistingConditions {
		checkDate(v, fmt.Sprintf("medicalHistory.existingConditions[%d].diagnosedDate", i), c.DiagnosedDate)
		if c.Status != "" && !conditionStates[c.Status] {
			v.Add(fmt.Sprintf("medicalHistory.existingConditions[%d].status", i),
				"must be one of active, resolved, chronic")
		}
	}
	for i, med := range m.CurrentMedications {
		checkDate(v, fmt.Sprintf("medicalHistory.currentMedications[%d].prescribedDate", i), med.PrescribedDate)
	}
	for i, a := range m.Allergies {
		if a.Severity != "" && !severities[a.Severity] {
			v.Add(fmt.Sprintf("medicalHistory.allergies[%d].severity", i),
				"must be one of mild, moderate, severe")
		}
	}
}

func validateImmunization(v *apperr.ValidationError, prefix string, im *Immunization) {
	if strings.TrimSpace(im.Vaccine) == "" {
		v.Add(prefix+"vaccine", "is required")
	}
	switch {
	case im.Date.Invalid():
		v.Add(prefix+"date", dateMessage)
	case im.Date.IsZero():
		v.Add(prefix+"date", "is required")
	}
	checkDate(v, prefix+"nextDueDate", im.NextDueDate)
	if im.Status != "" && !immStatuses[im.Status] {
		v.Add(prefix+"status", "must be one of completed, due, overdue, missed")
	}
}

// ValidateImmunization checks a single immunization entry.
func ValidateImmunization(im *Immunization) error {
	v := &apperr.ValidationError{}
	validateImmunization(v, "", im)
	return v.Err()
}

// ValidateVisit checks a visit before it is appended. Date and ASHAWorker
// are expected to be defaulted by the caller.
func ValidateVisit(vis *Visit, now time.Time) error {
	v := &apperr.ValidationError{}
	if !visitTypes[vis.Type] {
		v.Add("type", "must be one of %s", strings.Join(VisitTypes, ", "))
	}
	switch {
	case vis.Date.Invalid():
		v.Add("date", dateMessage)
	case vis.Date.IsZero():
		v.Add("date", "is required")
	case vis.Date.After(latestToday(now)):
		v.Add("date", "cannot be in the future")
	}
	checkDate(v, "findings.nextVisitDate", vis.Findings.NextVisitDate)
	if vis.ASHAWorker == "" {
		v.Add("ashaWorker", "is required")
	}
	if vis.Location.Type != "" && !locationTypes[vis.Location.Type] {
		v.Add("location.type", "must be one of home, health_center, hospital")
	}
	if vis.Location.Coordinates != nil {
		ValidateCoordinates(v, "location.coordinates", *vis.Location.Coordinates)
	}
	for i, a := range vis.Attachments {
		if !attachmentTypes[a.Type] {
			v.Add(fmt.Sprintf("attachments[%d].type", i), "must be one of image, document, prescription")
		}
		if a.Path == "" {
			v.Add(fmt.Sprintf("attachments[%d].path", i), "is required")
		}
	}
	for i, m := range vis.Findings.Medications {
		if strings.TrimSpace(m.Name) == "" {
			v.Add(fmt.Sprintf("findings.medications[%d].name", i), "is required")
		}
	}
	return v.Err()
}

// ValidateRisk checks a risk assessment update.
func ValidateRisk(r *RiskAssessment) error {
	if !riskLevels[r.RiskLevel] {
		return apperr.Invalid("riskLevel", "must be one of low, medium, high, critical")
	}
	return nil
}
