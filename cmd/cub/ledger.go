package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"cub/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the session ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Print one task's ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize cost and token totals across completed tasks",
	RunE:  runLedgerStats,
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd)
}

func ledgerStore() *ledger.Store {
	return ledger.New(filepath.Join(projectDir, ".cub", "ledger"))
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	entry, err := ledgerStore().GetTask(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s  attempts=%d  verification=%s\n", entry.ID, entry.Title, len(entry.Attempts), entry.Verification.Status)
	return nil
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	stats, err := ledgerStore().GetStats(ledger.ListFilters{})
	if err != nil {
		return err
	}
	fmt.Printf("tasks=%d total_cost_usd=%.2f total_tokens=%d\n", stats.TotalTasks, stats.TotalCostUSD, stats.TotalTokens)
	return nil
}
