package main

import (
	"strings"

	"github.com/spf13/cobra"

	"query-orchestrator/internal/intent"
	"query-orchestrator/internal/models"
	"query-orchestrator/internal/multiintent"
	"query-orchestrator/internal/routing"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <query>",
	Short: "Classify a query and show its routing decision",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		log := newLogger()

		svc := loadService(cmd.Context(), log)
		store := intent.NewStore(svc, log)
		resolver := routing.NewResolver(svc, nil, log)
		refresh(cmd.Context(), store, resolver)

		c := intent.NewClassifier(store).Classify(text)
		return printJSON(struct {
			Classification models.IntentClassification `json:"classification"`
			Routing        models.RoutingDecision      `json:"routing"`
			Providers      []string                    `json:"providers"`
		}{c, resolver.Resolve(c.Category), resolver.Providers(c.Category)})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <query>",
	Short: "Split a query into intents and match chain rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		log := newLogger()

		svc := loadService(cmd.Context(), log)
		analyzer := multiintent.NewAnalyzer(svc, nil, log)
		store := intent.NewStore(svc, log)
		refresh(cmd.Context(), analyzer, store)

		result := analyzer.Analyze(text)
		classifier := intent.NewClassifier(store)
		parts := make([]models.IntentClassification, 0, len(result.Parts))
		for _, p := range result.Parts {
			parts = append(parts, classifier.Classify(p))
		}
		return printJSON(struct {
			multiintent.Result
			Classifications []models.IntentClassification `json:"classifications"`
		}{result, parts})
	},
}
