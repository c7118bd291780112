package models

import "time"

// SummaryStatusSuccess is reported whenever a summary is returned
const SummaryStatusSuccess = "success"

// DiscoverySummary is the per-run report handed back to the caller
type DiscoverySummary struct {
	UserID              string    `json:"user_id"`
	RunID               string    `json:"run_id"`
	Status              string    `json:"status"`
	StartedAt           time.Time `json:"started_at"`
	Phase1Nodes         int       `json:"phase1_nodes"`
	Phase1Relationships int       `json:"phase1_relationships"`
	Phase2Nodes         int       `json:"phase2_nodes"`
	Phase2Relationships int       `json:"phase2_relationships"`
	Phase3Edges         int       `json:"phase3_edges"`
	ElapsedSeconds      float64   `json:"elapsed_seconds"`
	Errors              []string  `json:"errors"`
}
