package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cub/internal/taskservice"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and drive the task backend",
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks whose dependencies are closed",
	RunE:  runTaskReady,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <id> <session-id>",
	Short: "Claim a task for a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskClaim,
}

var taskCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClose,
}

func init() {
	taskCmd.AddCommand(taskReadyCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskCloseCmd)
}

func runTaskReady(cmd *cobra.Command, args []string) error {
	svc, err := taskservice.GetTaskService(projectDir)
	if err != nil {
		return err
	}
	ready, err := svc.Ready()
	if err != nil {
		return err
	}
	for _, t := range ready {
		fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Priority, t.Status, t.Title)
	}
	return nil
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	svc, err := taskservice.GetTaskService(projectDir)
	if err != nil {
		return err
	}
	t, err := svc.Claim(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("claimed %s for %s\n", t.ID, t.Assignee)
	return nil
}

func runTaskClose(cmd *cobra.Command, args []string) error {
	svc, err := taskservice.GetTaskService(projectDir)
	if err != nil {
		return err
	}
	t, err := svc.Close(args[0], nil)
	if err != nil {
		return err
	}
	fmt.Printf("closed %s (status=%s)\n", t.ID, t.Status)
	return nil
}
