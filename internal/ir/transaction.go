package ir

// TxState is the coordinator-side state of one migration transaction.
type TxState string

const (
	TxPending    TxState = "PENDING"
	TxPreparing  TxState = "PREPARING"
	TxReady      TxState = "READY"
	TxNotReady   TxState = "NOT_READY"
	TxCommitting TxState = "COMMITTING"
	TxDone       TxState = "DONE"
	TxCancelling TxState = "CANCELLING"
	TxCancelled  TxState = "CANCELLED"
	TxFailed     TxState = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s TxState) Terminal() bool {
	return s == TxDone || s == TxCancelled || s == TxFailed
}

// Transaction is one runtime's record of its part in a migration.
type Transaction struct {
	ID          string          `json:"id"`
	MigrationID string          `json:"migration_id"`
	Role        Role            `json:"role"`
	State       TxState         `json:"state"`
	Code        StatusCode      `json:"code,omitempty"`
	Items       []ComponentItem `json:"items"`
	Seq         int64           `json:"seq"`
	Error       string          `json:"error,omitempty"`
}

// Transition is one recorded state change of a transaction.
type Transition struct {
	TransactionID string  `json:"transaction_id"`
	From          TxState `json:"from"`
	To            TxState `json:"to"`
	Seq           int64   `json:"seq"`
	Detail        string  `json:"detail,omitempty"`
}

// NotificationLevel grades user-visible notifications.
type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelError NotificationLevel = "error"
	// LevelIntervention marks a component left BLOCKED after a failed
	// cancel; nothing recovers it automatically.
	LevelIntervention NotificationLevel = "intervention"
)

// Notification is a user-visible runtime message.
type Notification struct {
	Seq           int64             `json:"seq"`
	Level         NotificationLevel `json:"level"`
	TransactionID string            `json:"transaction_id,omitempty"`
	InstanceID    string            `json:"instance_id,omitempty"`
	Message       string            `json:"message"`
}
