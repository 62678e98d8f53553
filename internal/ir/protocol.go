package ir

import "fmt"

// StatusCode is the result code of a migration protocol response.
type StatusCode int

const (
	AllComponentsReady         StatusCode = 800
	AllComponentsExecutable    StatusCode = 801
	NotAllComponentsReady      StatusCode = 802
	NotAllComponentsExecutable StatusCode = 803
	MigrationCancelledByUser   StatusCode = 804
	NoComponentExecutable      StatusCode = 810

	// Codes below are local: they answer COMMIT/CANCEL requests and
	// rejected requests where none of the protocol codes applies.
	Committed     StatusCode = 820
	Cancelled     StatusCode = 821
	ProtocolError StatusCode = 830
)

var statusNames = map[StatusCode]string{
	AllComponentsReady:         "ALL_COMPONENTS_READY",
	AllComponentsExecutable:    "ALL_COMPONENTS_EXECUTABLE",
	NotAllComponentsReady:      "NOTALL_COMPONENTS_READY",
	NotAllComponentsExecutable: "NOTALL_COMPONENTS_EXECUTABLE",
	MigrationCancelledByUser:   "MIGRATION_CANCELLED_BYUSER",
	NoComponentExecutable:      "NO_COMPONENT_EXECUTABLE",
	Committed:                  "COMMITTED",
	Cancelled:                  "CANCELLED",
	ProtocolError:              "PROTOCOL_ERROR",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int(c))
}

// Ready reports whether the code is a positive PREPARE vote.
func (c StatusCode) Ready() bool {
	return c == AllComponentsReady || c == AllComponentsExecutable
}

// Role selects which side of a migration a runtime plays for one request.
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSource || r == RoleTarget
}

// ComponentFailure names one component that did not reach the expected
// state, with the reason.
type ComponentFailure struct {
	Item   ComponentItem `json:"item"`
	Reason string        `json:"reason"`
}

// PrepareRequest is the PREP_MIGRATE action.
type PrepareRequest struct {
	TransactionID string    `json:"transaction_id"`
	SessionID     string    `json:"session_id,omitempty"`
	Role          Role      `json:"role"`
	Migration     Migration `json:"migration"`
	// States carries the source's prepare output to the target role.
	States []MigratedState `json:"states,omitempty"`
}

// PrepareResponse answers PREP_MIGRATE.
type PrepareResponse struct {
	TransactionID string             `json:"transaction_id"`
	Code          StatusCode         `json:"code"`
	ExecMap       map[string]bool    `json:"execmap,omitempty"`
	States        []MigratedState    `json:"states,omitempty"`
	Failed        []ComponentFailure `json:"failed,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// CommitRequest is the CMIT_MIGRATE action.
type CommitRequest struct {
	TransactionID string `json:"transaction_id"`
	MigrationID   string `json:"migration_id"`
	Role          Role   `json:"role"`
	// Downstream carries the source's drained downstream events to the target.
	Downstream []MigratedEvents `json:"downstream,omitempty"`
}

// CommitResponse answers CMIT_MIGRATE. Downstream is set by the source role.
type CommitResponse struct {
	TransactionID string             `json:"transaction_id"`
	Code          StatusCode         `json:"code"`
	Downstream    []MigratedEvents   `json:"downstream,omitempty"`
	Failed        []ComponentFailure `json:"failed,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// CancelRequest undoes a prepared transaction on one runtime.
type CancelRequest struct {
	TransactionID string `json:"transaction_id"`
	Role          Role   `json:"role"`
	ByUser        bool   `json:"by_user,omitempty"`
}

// CancelResponse answers a cancel request.
type CancelResponse struct {
	TransactionID string             `json:"transaction_id"`
	Code          StatusCode         `json:"code"`
	Failed        []ComponentFailure `json:"failed,omitempty"`
	Error         string             `json:"error,omitempty"`
}
