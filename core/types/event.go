package types

// Event captures a structured state change with string attributes so it
// can be consumed by RPC listeners and off-chain indexers alike.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
