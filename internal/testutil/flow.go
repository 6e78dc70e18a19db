package testutil

// DefaultFlowToken is used when a scenario names no flow.
const DefaultFlowToken = "test-flow"

// FixedFlowGenerator generates the same flow token every time, so every
// invocation of a scenario lands in one flow and its trace is reproducible.
//
// Implements engine.TokenGenerator. Stateless and safe for concurrent use.
type FixedFlowGenerator struct {
	token string
}

// NewFixedFlowGenerator creates a generator for token. An empty token means
// DefaultFlowToken.
func NewFixedFlowGenerator(token string) *FixedFlowGenerator {
	if token == "" {
		token = DefaultFlowToken
	}
	return &FixedFlowGenerator{token: token}
}

// Generate returns the fixed flow token.
func (g *FixedFlowGenerator) Generate() string {
	return g.token
}
