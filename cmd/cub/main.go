// Command cub is a thin wiring surface over the orchestrator packages.
// Flag parsing and interactive presentation are out of scope; this
// binary exists to give the task/ledger/plan building blocks a runnable
// front door, not to be a full CLI product.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "cub",
	Short: "Autonomous coding-agent orchestrator control plane",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", ".", "project root containing .cub state")
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(planCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
