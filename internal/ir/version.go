package ir

// Version constants for the trace format and engine.
const (
	// TraceVersion is the schema version of exported traces.
	TraceVersion = "1"

	// EngineVersion is the classwatch engine version.
	EngineVersion = "0.1.0"
)
