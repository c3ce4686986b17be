package classifyintent

import "query-orchestrator/internal/models"

type Input struct {
	Query string `json:"query"`
}

type Output struct {
	Classification models.IntentClassification `json:"classification"`
	HasMultiple    bool                        `json:"hasMultiple"`
	Parts          []string                    `json:"parts"`
	Strategy       models.ExecutionStrategy    `json:"strategy"`
	Chain          string                      `json:"chain,omitempty"`
	Routing        models.RoutingDecision      `json:"routing"`
}
