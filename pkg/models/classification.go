package models

// Classification is the model's verdict for one inbound email.
type Classification struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// GenResult is the outcome of a generation call. Fallback distinguishes
// "the model produced this" from "the model failed, here is the safety net".
type GenResult struct {
	Text           string `json:"text"`
	Fallback       bool   `json:"fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Ok reports whether the text came from the model rather than the safety net.
func (r GenResult) Ok() bool {
	return !r.Fallback
}
