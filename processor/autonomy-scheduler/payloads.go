package autonomyscheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semgate/scheduler"
)

// TickReportSubject receives tick reports.
const TickReportSubject = "autonomy.tick.report"

// TickReportType is the message type for tick reports.
var TickReportType = message.Type{
	Domain:   "autonomy",
	Category: "tick",
	Version:  "v1",
}

// TickReport is the audit record of one scheduler tick.
type TickReport struct {
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`
	Executions int                `json:"executions"`
	Actions    []scheduler.Action `json:"actions,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}

// NewTickReport converts a tick result into a report.
func NewTickReport(res scheduler.TickResult) *TickReport {
	r := &TickReport{
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
		Executions: res.Executions,
		Actions:    res.Actions,
	}
	for _, e := range res.Errors {
		r.Errors = append(r.Errors, e.Error())
	}
	return r
}

// Schema returns the message type for this payload.
func (r *TickReport) Schema() message.Type {
	return TickReportType
}

// Validate validates the report.
func (r *TickReport) Validate() error {
	if r.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	return nil
}

// MarshalJSON marshals the report to JSON.
func (r *TickReport) MarshalJSON() ([]byte, error) {
	type Alias TickReport
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the report from JSON.
func (r *TickReport) UnmarshalJSON(data []byte) error {
	type Alias TickReport
	return json.Unmarshal(data, (*Alias)(r))
}
