package harness

// Trace event types.
const (
	EventMessage = "message"
	EventUnit    = "unit"
)

// TraceEvent records one processed message or one of its units.
type TraceEvent struct {
	Type    string `json:"type"` // "message" or "unit"
	Partner string `json:"partner,omitempty"`
	DN      string `json:"dn,omitempty"`
	Seq     int64  `json:"seq"`

	// Message events.
	BatchID string `json:"batch_id,omitempty"`
	Cursor  int64  `json:"cursor,omitempty"`
	Stale   bool   `json:"stale,omitempty"`
	Error   string `json:"error,omitempty"`
	Cause   string `json:"cause,omitempty"`

	// Unit events.
	USN          int64  `json:"usn,omitempty"`
	Received     string `json:"received,omitempty"`
	Op           string `json:"op,omitempty"`
	Reclassified bool   `json:"reclassified,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	Missing      bool   `json:"missing,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains message and unit events in processing order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Units returns the unit events of the trace in order.
func (r *Result) Units() []TraceEvent {
	var units []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventUnit {
			units = append(units, ev)
		}
	}
	return units
}
