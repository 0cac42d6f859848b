package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Result is the outcome of a crawl: every identifier fetched successfully, in
// the order it completed, and every identifier that failed with its reason.
type Result struct {
	Downloaded []string
	Errors     map[string]error
}

type resultJSON struct {
	Downloaded []string          `json:"downloaded"`
	Errors     map[string]string `json:"errors"`
}

// MarshalJSON renders failure reasons as strings.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Downloaded: r.Downloaded,
		Errors:     make(map[string]string, len(r.Errors)),
	}
	if out.Downloaded == nil {
		out.Downloaded = []string{}
	}
	for id, err := range r.Errors {
		out.Errors[id] = err.Error()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return b, nil
}

// UnmarshalJSON restores a Result; failure reasons come back as opaque errors.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	r.Downloaded = in.Downloaded
	r.Errors = make(map[string]error, len(in.Errors))
	for id, msg := range in.Errors {
		r.Errors[id] = errors.New(msg)
	}
	return nil
}

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// RunParameters are the arguments of one Crawl call.
type RunParameters struct {
	Seed     string   `json:"url"`
	Depth    int      `json:"depth"`
	Excludes []string `json:"excludes,omitempty"`
}

// Run is one tracked invocation of Engine.Crawl.
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters RunParameters `json:"parameters"`
	Result     *Result       `json:"result,omitempty"`
}

// RunSummary is the notification published when a run finishes.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	Seed       string    `json:"url"`
	Depth      int       `json:"depth"`
	Downloaded int       `json:"downloaded"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Summarize builds the completion notification for a finished run.
func (r Run) Summarize() RunSummary {
	s := RunSummary{
		RunID:  r.ID,
		Status: r.Status,
		Seed:   r.Parameters.Seed,
		Depth:  r.Parameters.Depth,
	}
	if r.Result != nil {
		s.Downloaded = len(r.Result.Downloaded)
		s.Failed = len(r.Result.Errors)
	}
	if r.Finished != nil {
		s.FinishedAt = *r.Finished
	}
	return s
}

// Outcome is one identifier of a Result with how it ended.
type Outcome struct {
	ID     string
	Failed bool
	Reason string
}

// Outcomes flattens r: downloads in completion order, then failures sorted
// by identifier.
func (r Result) Outcomes() []Outcome {
	out := make([]Outcome, 0, len(r.Downloaded)+len(r.Errors))
	for _, id := range r.Downloaded {
		out = append(out, Outcome{ID: id})
	}
	failed := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		out = append(out, Outcome{ID: id, Failed: true, Reason: r.Errors[id].Error()})
	}
	return out
}
