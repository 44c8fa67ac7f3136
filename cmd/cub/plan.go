package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cub/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect planning pipeline state",
}

var planStatusCmd = &cobra.Command{
	Use:   "status <plan-dir>",
	Short: "Show stage status for an existing plan directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanStatus,
}

func init() {
	planCmd.AddCommand(planStatusCmd)
}

func runPlanStatus(cmd *cobra.Command, args []string) error {
	ctx, err := plan.LoadContext(projectDir, args[0])
	if err != nil {
		return err
	}
	for _, stage := range plan.Stages {
		fmt.Printf("%s\t%s\n", stage, ctx.Plan.Stages[stage])
	}
	return nil
}
