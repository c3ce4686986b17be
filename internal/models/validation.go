package models

// Suggestion is the machine-readable half of a validation verdict.
type Suggestion struct {
	FallbackAction FallbackAction `json:"fallback_action"`
	Hint           string         `json:"hint,omitempty"`
}

// StructuralValidationOutcome is the RAG validator's verdict on one payload.
type StructuralValidationOutcome struct {
	Status     StructuralStatus `json:"status"`
	Reason     string           `json:"reason"`
	Suggestion Suggestion       `json:"suggestion"`
}

func (o StructuralValidationOutcome) Valid() bool { return o.Status == StructuralValid }

// CheckResult is the result of one hallucination rule.
type CheckResult struct {
	Rule      string    `json:"rule"`
	CheckType CheckType `json:"checkType"`
	Severity  Severity  `json:"severity"`
	Passed    bool      `json:"passed"`
	Skipped   bool      `json:"skipped,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Fixed     bool      `json:"fixed,omitempty"`
}

// ModelVerdict is one ensemble member's answer.
type ModelVerdict struct {
	Name       string   `json:"name"`
	Model      string   `json:"model"`
	Confidence float64  `json:"confidence"`
	Weight     float64  `json:"weight"`
	Assessment string   `json:"assessment,omitempty"`
	Issues     []string `json:"issues,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// EnsembleDetail describes the cross-validation run.
type EnsembleDetail struct {
	Ran              bool           `json:"ran"`
	Reasons          []string       `json:"reasons,omitempty"`
	Models           []ModelVerdict `json:"models,omitempty"`
	Confidence       float64        `json:"confidence"`
	Threshold        float64        `json:"threshold"`
	CouldNotValidate bool           `json:"couldNotValidate,omitempty"`
}

// ConfidenceAdjustment is one applied confidence rule.
type ConfidenceAdjustment struct {
	Factor string     `json:"factor"`
	Type   FactorType `json:"type"`
	Delta  float64    `json:"delta"`
}

// SemanticValidationOutcome is the hallucination validator's verdict.
type SemanticValidationOutcome struct {
	Valid       bool                   `json:"valid"`
	Checks      []CheckResult          `json:"checks"`
	Ensemble    EnsembleDetail         `json:"ensemble"`
	Adjustments []ConfidenceAdjustment `json:"adjustments,omitempty"`
	Confidence  float64                `json:"confidence"`
	Response    string                 `json:"response"`
	Rewritten   bool                   `json:"rewritten,omitempty"`
}
