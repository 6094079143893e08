package main

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/wayne-enterprises/wayne-console/internal/app"
	"github.com/wayne-enterprises/wayne-console/jobs"
)

var (
	reportDays int

	enqueueCmd = &cobra.Command{
		Use:       "enqueue [backup|security-report]",
		Short:     "Queue an admin task for the worker",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"backup", "security-report"},
		RunE:      runEnqueue,
	}
)

func init() {
	enqueueCmd.Flags().IntVar(&reportDays, "days", 30, "security report period in days")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var info *asynq.TaskInfo
	switch args[0] {
	case "backup":
		info, err = client.EnqueueBackup(cmd.Context(), "manual")
	case "security-report":
		info, err = client.EnqueueSecurityReport(cmd.Context(), reportDays)
	default:
		return fmt.Errorf("enqueue: unsupported task %q", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return nil
}
