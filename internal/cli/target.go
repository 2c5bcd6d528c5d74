package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTargetCmd создаёт группу команд для управления targets.
func NewTargetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Manage schedules and sensors",
	}

	cmd.AddCommand(
		newTargetListCmd(clientFn, outputFn),
		newTargetCreateCmd(clientFn, outputFn),
		newTargetShowCmd(clientFn, outputFn),
		newTargetEnableCmd(clientFn, outputFn),
		newTargetDisableCmd(clientFn, outputFn),
	)

	return cmd
}

func targetHeaders() []string {
	return []string{"ID", "NAME", "KIND", "JOB", "SCHEDULE", "ENABLED", "NEXT_DUE"}
}

func targetRow(t TargetResponse) []string {
	schedule := t.CronExpr
	if schedule == "" {
		schedule = fmt.Sprintf("every %ds", t.IntervalSec)
	}
	return []string{t.ID, t.Name, t.Kind, t.JobName, schedule, strconv.FormatBool(t.Enabled), t.NextDueAt}
}

func newTargetListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			targets, err := client.ListTargets(kind)
			if err != nil {
				return err
			}

			rows := make([][]string, len(targets))
			for i, t := range targets {
				rows[i] = targetRow(t)
			}

			out.Print(targetHeaders(), rows, targets)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (SCHEDULE, SENSOR)")

	return cmd
}

func newTargetCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateTargetRequest

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a schedule or sensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req.Name = args[0]

			target, err := client.CreateTarget(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Target created: %s", target.ID))
			out.Print(targetHeaders(), [][]string{targetRow(*target)}, target)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Kind, "kind", "SCHEDULE", "Target kind (SCHEDULE, SENSOR)")
	cmd.Flags().StringVar(&req.JobName, "job", "", "Job to launch on evaluation")
	cmd.Flags().StringVar(&req.CronExpr, "cron", "", "Cron expression (schedules only)")
	cmd.Flags().IntVar(&req.IntervalSec, "interval", 0, "Evaluation interval in seconds")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "Timezone for cron calculations (default UTC)")
	cmd.Flags().BoolVar(&req.Enabled, "enabled", true, "Enable the target immediately")
	cmd.MarkFlagRequired("job")

	return cmd
}

func newTargetShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show target details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			target, err := client.GetTarget(args[0])
			if err != nil {
				return err
			}

			out.Print(targetHeaders(), [][]string{targetRow(*target)}, target)
			return nil
		},
	}
}

func newTargetEnableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "enable ID",
		Short: "Enable a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			target, err := client.EnableTarget(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Target enabled: %s", target.ID))
			return nil
		},
	}
}

func newTargetDisableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "disable ID",
		Short: "Disable a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			target, err := client.DisableTarget(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Target disabled: %s", target.ID))
			return nil
		},
	}
}
