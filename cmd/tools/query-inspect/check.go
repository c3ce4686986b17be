package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"query-orchestrator/internal/configsvc"
	"query-orchestrator/internal/models"
	"query-orchestrator/internal/ragvalidation"
)

type keyStatus struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config <file>",
	Short: "Decode every configuration key in an orchestration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		file := configsvc.NewFileSource(args[0], log)
		present, err := file.Keys()
		if err != nil {
			return err
		}
		svc := configsvc.NewService(configsvc.Options{Sources: []configsvc.Source{file}}, log)

		statuses := checkKeys(cmd.Context(), svc, present)
		if err := printJSON(statuses); err != nil {
			return err
		}
		for _, s := range statuses {
			if s.Status == "invalid" || s.Status == "unknown" {
				return fmt.Errorf("%s: %s", s.Key, s.Status)
			}
		}
		return nil
	},
}

// checkKeys runs each typed getter so that decoding and value checks match the running service.
func checkKeys(ctx context.Context, svc *configsvc.Service, present []string) []keyStatus {
	getters := map[string]func(context.Context) error{
		configsvc.KeyIntentPatterns:     func(ctx context.Context) error { _, err := svc.IntentPatterns(ctx); return err },
		configsvc.KeyRoutingTable:       func(ctx context.Context) error { _, err := svc.RoutingTable(ctx); return err },
		configsvc.KeyProviderPriorities: func(ctx context.Context) error { _, err := svc.ProviderPriorities(ctx); return err },
		configsvc.KeyHallucinationRules: func(ctx context.Context) error { _, err := svc.HallucinationRules(ctx); return err },
		configsvc.KeyValidationModels:   func(ctx context.Context) error { _, err := svc.ValidationModels(ctx); return err },
		configsvc.KeyConfidenceRules:    func(ctx context.Context) error { _, err := svc.ConfidenceRules(ctx); return err },
		configsvc.KeyChainRules:         func(ctx context.Context) error { _, err := svc.ChainRules(ctx); return err },
		configsvc.KeyMultiIntent:        func(ctx context.Context) error { _, err := svc.MultiIntent(ctx); return err },
		configsvc.KeyBackends:           func(ctx context.Context) error { _, err := svc.Backends(ctx); return err },
		configsvc.KeyFeatureFlags:       func(ctx context.Context) error { _, err := svc.FeatureFlags(ctx); return err },
		configsvc.KeyCategoryThresholds: func(ctx context.Context) error { _, err := svc.CategoryThresholds(ctx); return err },
	}

	out := make([]keyStatus, 0, len(getters))
	for _, key := range configsvc.AllKeys {
		st := keyStatus{Key: key, Status: "loaded"}
		if err := getters[key](ctx); err != nil {
			if errors.Is(err, configsvc.ErrNotFound) {
				st.Status = "default"
			} else {
				st.Status = "invalid"
				st.Error = err.Error()
			}
		}
		out = append(out, st)
	}
	sort.Strings(present)
	for _, key := range present {
		if _, ok := getters[key]; !ok {
			out = append(out, keyStatus{Key: key, Status: "unknown"})
		}
	}
	return out
}

var (
	payloadKind  string
	payloadQuery string
)

var checkPayloadCmd = &cobra.Command{
	Use:   "check-payload <json-file>",
	Short: "Run structural validation on a recorded service payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseServiceKind(payloadKind)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		v, err := ragvalidation.NewValidator(newLogger())
		if err != nil {
			return err
		}
		return printJSON(v.ValidateRaw(raw, payloadQuery, kind))
	},
}

func init() {
	checkPayloadCmd.Flags().StringVar(&payloadKind, "kind", "", "service kind: weather, sports or airports")
	checkPayloadCmd.Flags().StringVar(&payloadQuery, "query", "", "query the payload answers")
	checkPayloadCmd.MarkFlagRequired("kind")
}
