package patient

import (
	"time"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusDeceased = "deceased"
)

const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

const (
	VisitAntenatal    = "antenatal"
	VisitPostnatal    = "postnatal"
	VisitImmunization = "immunization"
	VisitIllness      = "illness"
	VisitFollowUp     = "follow_up"
	VisitHealthCheck  = "health_check"
)

// VisitTypes lists every accepted visit type in display order.
var VisitTypes = []string{
	VisitAntenatal, VisitPostnatal, VisitImmunization,
	VisitIllness, VisitFollowUp, VisitHealthCheck,
}

// Patient is the stored document. Embedded lists are owned by the patient
// and have no identity outside it.
type Patient struct {
	ID               string            `json:"id" bson:"-"`
	HealthID         string            `json:"healthId" bson:"healthId"`
	FullName         string            `json:"fullName" bson:"fullName"`
	DateOfBirth      Date              `json:"dateOfBirth" bson:"dateOfBirth"`
	Gender           string            `json:"gender" bson:"gender"`
	AadhaarNumber    string            `json:"aadhaarNumber,omitempty" bson:"aadhaarNumber,omitempty"`
	Phone            string            `json:"phone" bson:"phone"`
	AlternativePhone string            `json:"alternativePhone,omitempty" bson:"alternativePhone,omitempty"`
	Address          Address           `json:"address" bson:"address"`
	MedicalHistory   MedicalHistory    `json:"medicalHistory" bson:"medicalHistory"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty" bson:"emergencyContact,omitempty"`
	PregnancyInfo    *PregnancyInfo    `json:"pregnancyInfo,omitempty" bson:"pregnancyInfo,omitempty"`
	Immunizations    []Immunization    `json:"immunizationRecords" bson:"immunizationRecords"`
	Visits           []Visit           `json:"visits" bson:"visits"`
	RiskAssessment   RiskAssessment    `json:"riskAssessment" bson:"riskAssessment"`
	QRCode           *QRCode           `json:"qrCode,omitempty" bson:"qrCode,omitempty"`
	Photo            *Photo            `json:"photo,omitempty" bson:"photo,omitempty"`
	Status           string            `json:"status" bson:"status"`
	RegisteredBy     string            `json:"registeredBy" bson:"registeredBy"`
	RegistrationDate time.Time         `json:"registrationDate" bson:"registrationDate"`
	LastModified     time.Time         `json:"lastModified" bson:"lastModified"`
	ModifiedBy       string            `json:"modifiedBy,omitempty" bson:"modifiedBy,omitempty"`
	DeletedAt        *time.Time        `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`
	DeletedBy        string            `json:"deletedBy,omitempty" bson:"deletedBy,omitempty"`
	Version          int64             `json:"version" bson:"version"`
}

// IsDeleted reports whether the record has been soft-deleted.
func (p *Patient) IsDeleted() bool {
	return p.DeletedAt != nil
}

// IsActive reports whether default queries should return the record.
func (p *Patient) IsActive() bool {
	return p.Status == StatusActive && p.DeletedAt == nil
}

type Address struct {
	FullAddress string       `json:"fullAddress" bson:"fullAddress"`
	Coordinates *Coordinates `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
	District    string       `json:"district" bson:"district"`
	Block       string       `json:"block" bson:"block"`
	Village     string       `json:"village" bson:"village"`
	Pincode     string       `json:"pincode,omitempty" bson:"pincode,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

type MedicalHistory struct {
	ExistingConditions []Condition     `json:"existingConditions,omitempty" bson:"existingConditions,omitempty"`
	FamilyHistory      []FamilyHistory `json:"familyHistory,omitempty" bson:"familyHistory,omitempty"`
	CurrentMedications []Medication    `json:"currentMedications,omitempty" bson:"currentMedications,omitempty"`
	Allergies          []Allergy       `json:"allergies,omitempty" bson:"allergies,omitempty"`
	BloodGroup         string          `json:"bloodGroup,omitempty" bson:"bloodGroup,omitempty"`
	// Height in centimetres.
	Height *float64 `json:"height,omitempty" bson:"height,omitempty"`
	// Weight in kilograms.
	Weight *float64 `json:"weight,omitempty" bson:"weight,omitempty"`
}

type Condition struct {
	Condition     string `json:"condition" bson:"condition"`
	DiagnosedDate *Date  `json:"diagnosedDate,omitempty" bson:"diagnosedDate,omitempty"`
	Treatment     string `json:"treatment,omitempty" bson:"treatment,omitempty"`
	Status        string `json:"status,omitempty" bson:"status,omitempty"`
}

type FamilyHistory struct {
	Relation  string `json:"relation" bson:"relation"`
	Condition string `json:"condition" bson:"condition"`
	Notes     string `json:"notes,omitempty" bson:"notes,omitempty"`
}

type Medication struct {
	Name           string `json:"name" bson:"name"`
	Dosage         string `json:"dosage,omitempty" bson:"dosage,omitempty"`
	Frequency      string `json:"frequency,omitempty" bson:"frequency,omitempty"`
	PrescribedDate *Date  `json:"prescribedDate,omitempty" bson:"prescribedDate,omitempty"`
	Doctor         string `json:"doctor,omitempty" bson:"doctor,omitempty"`
}

type Allergy struct {
	Allergen string `json:"allergen" bson:"allergen"`
	Severity string `json:"severity,omitempty" bson:"severity,omitempty"`
	Reaction string `json:"reaction,omitempty" bson:"reaction,omitempty"`
}

type EmergencyContact struct {
	Name     string `json:"name,omitempty" bson:"name,omitempty"`
	Relation string `json:"relation,omitempty" bson:"relation,omitempty"`
	Phone    string `json:"phone,omitempty" bson:"phone,omitempty"`
	Address  string `json:"address,omitempty" bson:"address,omitempty"`
}

type PregnancyInfo struct {
	IsPregnant           bool                `json:"isPregnant" bson:"isPregnant"`
	ExpectedDeliveryDate *Date               `json:"expectedDeliveryDate,omitempty" bson:"expectedDeliveryDate,omitempty"`
	PregnancyNumber      int                 `json:"pregnancyNumber,omitempty" bson:"pregnancyNumber,omitempty"`
	PreviousPregnancies  []PreviousPregnancy `json:"previousPregnancies,omitempty" bson:"previousPregnancies,omitempty"`
	HighRiskFactors      []string            `json:"highRiskFactors,omitempty" bson:"highRiskFactors,omitempty"`
}

type PreviousPregnancy struct {
	DeliveryDate  *Date    `json:"deliveryDate,omitempty" bson:"deliveryDate,omitempty"`
	Outcome       string   `json:"outcome" bson:"outcome"`
	BirthWeight   *float64 `json:"birthWeight,omitempty" bson:"birthWeight,omitempty"`
	Complications string   `json:"complications,omitempty" bson:"complications,omitempty"`
}

type Immunization struct {
	Vaccine        string `json:"vaccine" bson:"vaccine"`
	Date           Date   `json:"date" bson:"date"`
	BatchNumber    string `json:"batchNumber,omitempty" bson:"batchNumber,omitempty"`
	AdministeredBy string `json:"administeredBy,omitempty" bson:"administeredBy,omitempty"`
	Site           string `json:"site,omitempty" bson:"site,omitempty"`
	NextDueDate    *Date  `json:"nextDueDate,omitempty" bson:"nextDueDate,omitempty"`
	Status         string `json:"status" bson:"status"`
}

// Visit is one care encounter. ID is assigned on append so a later
// correcting visit can reference it through Amends.
type Visit struct {
	ID          string        `json:"id" bson:"id"`
	Type        string        `json:"type" bson:"type"`
	Date        Date          `json:"date" bson:"date"`
	ASHAWorker  string        `json:"ashaWorker" bson:"ashaWorker"`
	Location    VisitLocation `json:"location" bson:"location"`
	Findings    Findings      `json:"findings" bson:"findings"`
	Attachments []Attachment  `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Amends      string        `json:"amends,omitempty" bson:"amends,omitempty"`
	RecordedAt  time.Time     `json:"recordedAt" bson:"recordedAt"`
}

type VisitLocation struct {
	Type        string       `json:"type" bson:"type"`
	Coordinates *Coordinates `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
}

type Findings struct {
	VitalSigns      VitalSigns             `json:"vitalSigns" bson:"vitalSigns"`
	Symptoms        []string               `json:"symptoms,omitempty" bson:"symptoms,omitempty"`
	Diagnosis       string                 `json:"diagnosis,omitempty" bson:"diagnosis,omitempty"`
	Treatment       string                 `json:"treatment,omitempty" bson:"treatment,omitempty"`
	Medications     []PrescribedMedication `json:"medications,omitempty" bson:"medications,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty" bson:"recommendations,omitempty"`
	NextVisitDate   *Date                  `json:"nextVisitDate,omitempty" bson:"nextVisitDate,omitempty"`
}

type VitalSigns struct {
	// BloodPressure is free text "systolic/diastolic".
	BloodPressure string   `json:"bloodPressure,omitempty" bson:"bloodPressure,omitempty"`
	Pulse         *int     `json:"pulse,omitempty" bson:"pulse,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty" bson:"temperature,omitempty"`
	Weight        *float64 `json:"weight,omitempty" bson:"weight,omitempty"`
}

type PrescribedMedication struct {
	Name      string `json:"name" bson:"name"`
	Dosage    string `json:"dosage,omitempty" bson:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty" bson:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty" bson:"duration,omitempty"`
}

type Attachment struct {
	Type       string    `json:"type" bson:"type"`
	Filename   string    `json:"filename" bson:"filename"`
	Path       string    `json:"path" bson:"path"`
	UploadedAt time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

type RiskAssessment struct {
	RiskLevel          string     `json:"riskLevel" bson:"riskLevel"`
	RiskFactors        []string   `json:"riskFactors,omitempty" bson:"riskFactors,omitempty"`
	LastAssessmentDate *time.Time `json:"lastAssessmentDate,omitempty" bson:"lastAssessmentDate,omitempty"`
	AssessedBy         string     `json:"assessedBy,omitempty" bson:"assessedBy,omitempty"`
	Notes              string     `json:"notes,omitempty" bson:"notes,omitempty"`
}

// QRCode holds the point-in-time snapshot rendered on the patient card.
// Data does not follow later edits to name or phone.
type QRCode struct {
	Data        string    `json:"data" bson:"data"`
	GeneratedAt time.Time `json:"generatedAt" bson:"generatedAt"`
	IsActive    bool      `json:"isActive" bson:"isActive"`
}

type Photo struct {
	Filename   string    `json:"filename" bson:"filename"`
	Path       string    `json:"path" bson:"path"`
	UploadedAt time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

// QRPayload is the JSON shape encoded in QRCode.Data.
type QRPayload struct {
	HealthID         string    `json:"healthId"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	RegistrationDate time.Time `json:"registrationDate"`
}

// Filter scopes queries and aggregates by location. Empty fields match all.
type Filter struct {
	District string
	Block    string
	Village  string
}

// Query is a paged search over patients.
type Query struct {
	Filter
	// Text matches fullName, healthId, phone and aadhaarNumber, case-insensitive.
	Text string
	// Status defaults to active. "all" disables the status predicate; soft
	// deleted records are still excluded.
	Status       string
	RegisteredBy string
	RiskLevels   []string
	Limit        int
	Offset       int
}
