package analytics

import "github.com/asha/records/internal/domain/patient"

// Rates is the incentive paid per visit type, in INR.
var Rates = map[string]int{
	patient.VisitImmunization: 100,
	patient.VisitAntenatal:    300,
	patient.VisitPostnatal:    250,
	patient.VisitIllness:      50,
	patient.VisitFollowUp:     0,
	patient.VisitHealthCheck:  0,
}

const IncentivePending = "pending"

type Dashboard struct {
	TotalPatients int          `json:"totalPatients"`
	TotalVisits   int          `json:"totalVisits"`
	Immunizations int          `json:"immunizations"`
	ANCVisits     int          `json:"ancVisits"`
	PNCVisits     int          `json:"pncVisits"`
	IllnessVisits int          `json:"illnessVisits"`
	Trends        []DailyTrend `json:"trends"`
}

type DailyTrend struct {
	Date          string `json:"date"`
	Visits        int    `json:"visits"`
	Immunizations int    `json:"immunizations"`
	ANC           int    `json:"anc"`
	Illness       int    `json:"illness"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type HealthTrends struct {
	ImmunizationTrends []MonthCount `json:"immunizationTrends"`
	ANCTrends          []MonthCount `json:"ancTrends"`
}

type BlockCoverage struct {
	Block           string  `json:"block"`
	Patients        int     `json:"patients"`
	VisitedPatients int     `json:"visitedPatients"`
	Visits          int     `json:"visits"`
	Coverage        float64 `json:"coverage"`
}

type Coverage struct {
	TotalCoverage float64         `json:"totalCoverage"`
	ByBlock       []BlockCoverage `json:"byBlock"`
}

// WorkerPerformance summarises one ASHA worker over the reporting period.
// Compliance is nil when none of the worker's follow-ups have fallen due.
type WorkerPerformance struct {
	ASHAWorker   string   `json:"ashaWorker"`
	Visits       int      `json:"visits"`
	Patients     int      `json:"patients"`
	FollowUpsDue int      `json:"followUpsDue"`
	FollowUpsMet int      `json:"followUpsMet"`
	Compliance   *float64 `json:"compliance"`
}

type PerformanceAverages struct {
	Visits     float64 `json:"visits"`
	Patients   float64 `json:"patients"`
	Compliance float64 `json:"compliance"`
}

type Performance struct {
	PeriodDays     int                 `json:"periodDays"`
	ASHAWorkers    []WorkerPerformance `json:"ashaWorkers"`
	AverageMetrics PerformanceAverages `json:"averageMetrics"`
}

type SupervisorDashboard struct {
	District             string  `json:"district,omitempty"`
	TotalASHAWorkers     int     `json:"totalAshaWorkers"`
	TotalPatients        int     `json:"totalPatients"`
	TotalVisits          int     `json:"totalVisits"`
	HighRiskCases        int     `json:"highRiskCases"`
	OverdueImmunizations int     `json:"overdueImmunizations"`
	AverageVisits        float64 `json:"averageVisitsPerWorker"`
}

type Incentive struct {
	ASHAWorker  string         `json:"ashaWorker"`
	Month       string         `json:"month"`
	Visits      map[string]int `json:"visits"`
	Breakdown   map[string]int `json:"breakdown"`
	TotalAmount int            `json:"totalAmount"`
	Status      string         `json:"status"`
}
