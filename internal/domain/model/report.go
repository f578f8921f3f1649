package model

import "time"

// Report is the assembled result for one job. Exactly one report exists per
// job, created once and immutable thereafter; it disappears from reads only
// through the job's soft-delete cascade.
type Report struct {
	ID               string        `json:"id"                db:"id"`
	JobID            string        `json:"job_id"            db:"job_id"`
	AnalysisSummary  string        `json:"analysis_summary"  db:"analysis_summary"`
	ImprovementAreas []string      `json:"improvement_areas" db:"improvement_areas"`
	Matches          []MatchResult `json:"matches"`
	CreatedAt        time.Time     `json:"created_at"        db:"created_at"`
}
