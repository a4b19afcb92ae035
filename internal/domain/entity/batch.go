package entity

import "time"

// BatchReport aggregates the outcome of one batch import job
type BatchReport struct {
	JobID      string      `json:"job_id"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Errors     []ItemError `json:"errors"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// ItemError records why one batch item failed
type ItemError struct {
	ItemID string `json:"item_id"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason"`
}

// Total returns the number of processed items
func (r *BatchReport) Total() int {
	return r.Succeeded + r.Failed
}

// FailedIDs returns the ids of failed items in report order, for resubmission
func (r *BatchReport) FailedIDs() []string {
	ids := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		ids = append(ids, e.ItemID)
	}
	return ids
}
