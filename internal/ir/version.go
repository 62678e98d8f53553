package ir

// Version constants for the wire model and the runtime.
const (
	// ProtocolVersion is the migration protocol message version.
	ProtocolVersion = "1"

	// RuntimeVersion is the mashup runtime version.
	RuntimeVersion = "0.1.0"
)
