package harness

import (
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/orchestrator"
)

// TraceEvent is one entry of a scenario trace. Kind selects which of the
// other fields are set:
//   - "step": Runtime, Action, Role, Code
//   - "transition": Runtime, TransactionID, From, To, Seq
//   - "notification": Runtime, Level, Instance, Message
//   - "container": Runtime, Instance, State
type TraceEvent struct {
	Kind          string `json:"kind"`
	Runtime       string `json:"runtime"`
	Action        string `json:"action,omitempty"`
	Role          string `json:"role,omitempty"`
	Code          string `json:"code,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	Seq           int64  `json:"seq,omitempty"`
	Level         string `json:"level,omitempty"`
	Instance      string `json:"instance,omitempty"`
	Message       string `json:"message,omitempty"`
	State         string `json:"state,omitempty"`
}

// Trace event kinds.
const (
	KindStep         = "step"
	KindTransition   = "transition"
	KindNotification = "notification"
	KindContainer    = "container"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Report is the orchestrator's account of the migration.
	Report orchestrator.Report `json:"report"`

	// Trace holds the protocol steps followed by the transitions,
	// notifications and final containers of every runtime.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Requests counts the protocol requests all runtimes' engines accepted.
	Requests int64 `json:"requests"`

	// Transactions holds the journaled transactions per runtime id.
	Transactions map[string][]ir.Transaction `json:"transactions,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Trace:        []TraceEvent{},
		Errors:       []string{},
		Transactions: make(map[string][]ir.Transaction),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the trace events of one kind in trace order.
func (r *Result) Events(kind string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
