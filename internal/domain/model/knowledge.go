package model

import "time"

// KnowledgeKind discriminates the two corpus item shapes. Items of either
// kind share one id namespace.
type KnowledgeKind string

const (
	// KnowledgeKindProcedure is a clinical procedure entry.
	KnowledgeKindProcedure KnowledgeKind = "procedure"
	// KnowledgeKindSelfCare is an at-home routine entry.
	KnowledgeKindSelfCare KnowledgeKind = "self_care"
)

// Valid returns true if the KnowledgeKind is valid.
func (k KnowledgeKind) Valid() bool {
	return k == KnowledgeKindProcedure || k == KnowledgeKindSelfCare
}

// ProcedureDetails holds procedure-specific structured fields.
type ProcedureDetails struct {
	DowntimeDays  int    `json:"downtime_days"  db:"downtime_days"`
	ClinicalGrade string `json:"clinical_grade" db:"clinical_grade"`
	Anesthesia    bool   `json:"anesthesia"     db:"anesthesia"`
}

// SelfCareDetails holds self-care-specific structured fields.
type SelfCareDetails struct {
	FrequencyPerWeek int    `json:"frequency_per_week" db:"frequency_per_week"`
	ProductType      string `json:"product_type"       db:"product_type"`
	Steps            string `json:"steps"              db:"steps"`
}

// KnowledgeItem is a tagged-variant view over the two corpus tables. The
// shared fields are always populated; exactly one of Procedure/SelfCare is
// set, matching Kind.
type KnowledgeItem struct {
	ID            string            `json:"id"             db:"id"`
	Kind          KnowledgeKind     `json:"kind"           db:"kind"`
	DisplayName   string            `json:"display_name"   db:"display_name"`
	Category      string            `json:"category"       db:"category"`
	CostLowCents  int64             `json:"cost_low_cents" db:"cost_low_cents"`
	CostHighCents int64             `json:"cost_high_cents" db:"cost_high_cents"`
	Duration      string            `json:"duration"       db:"duration"`
	SideEffects   string            `json:"side_effects"   db:"side_effects"`
	Procedure     *ProcedureDetails `json:"procedure,omitempty"`
	SelfCare      *SelfCareDetails  `json:"self_care,omitempty"`
	CreatedAt     time.Time         `json:"created_at"     db:"created_at"`
}

// ImprovementArea is one free-text label with its per-label observation,
// produced by the upstream analysis step.
type ImprovementArea struct {
	Label       string `json:"label"`
	Observation string `json:"observation"`
}

// MatchResult is one ranked knowledge item attached to a report.
// (report, item) pairs are unique.
type MatchResult struct {
	ID           string        `json:"id"            db:"id"`
	ReportID     string        `json:"report_id"     db:"report_id"`
	ItemID       string        `json:"item_id"       db:"item_id"`
	Kind         KnowledgeKind `json:"kind"          db:"kind"`
	Score        float64       `json:"score"         db:"score"`
	Rationale    string        `json:"rationale"     db:"rationale"`
	DisplayOrder int           `json:"display_order" db:"display_order"`
}
