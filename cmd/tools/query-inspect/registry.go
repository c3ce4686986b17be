package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ci "query-orchestrator/internal/workers/ai-conversation/classify-intent"
	oq "query-orchestrator/internal/workers/ai-conversation/orchestrate-query"
	qsd "query-orchestrator/internal/workers/ai-conversation/query-service-data"
	ws "query-orchestrator/internal/workers/ai-conversation/web-search"
	"query-orchestrator/pkg/registry"
)

var registryPath string

var servedTaskTypes = []string{oq.TaskType, ci.TaskType, ws.TaskType, qsd.TaskType}

var checkRegistryCmd = &cobra.Command{
	Use:   "check-registry",
	Short: "Validate the activity registry against the job types this service serves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.LoadRegistry(registryPath)
		if err != nil {
			return err
		}
		if err := reg.Validate(servedTaskTypes); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registry validation passed. Found %d activities.\n", len(reg.Activities))
		return nil
	},
}

var checkJobCmd = &cobra.Command{
	Use:   "check-job <task-type> <variables.json>",
	Short: "Validate job variables against an activity's input schema",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.LoadRegistry(registryPath)
		if err != nil {
			return err
		}
		activity, ok := reg.Find(args[0])
		if !ok {
			return fmt.Errorf("task type %s is not registered", args[0])
		}
		vars, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		problems, err := activity.CheckVariables(vars)
		if err != nil {
			return err
		}
		if err := printJSON(map[string]interface{}{"taskType": args[0], "valid": len(problems) == 0, "problems": problems}); err != nil {
			return err
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d schema violations", len(problems))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{checkRegistryCmd, checkJobCmd} {
		c.Flags().StringVar(&registryPath, "registry", "configs/activity-registry.json", "path to the activity registry")
		rootCmd.AddCommand(c)
	}
}
