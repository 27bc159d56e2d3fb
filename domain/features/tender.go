package features

// Tender is one entity's observed feature vector and, when known, its current risk score.
// A nil Score means the caller wants it computed with the configured scorer.
type Tender struct {
	ID       string   `json:"tender_id"`
	Features Vector   `json:"features"`
	Score    *float64 `json:"score,omitempty"`
}
