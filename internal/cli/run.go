package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunSubmitCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunTerminateCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "JOB", "STATUS", "PRIORITY", "SUBMITTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.JobName, r.Status, strconv.Itoa(r.Priority), r.SubmittedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (QUEUED, STARTING, STARTED, SUCCESS, FAILURE, CANCELING, CANCELED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tags []string
	var priority int

	cmd := &cobra.Command{
		Use:   "submit JOB_NAME",
		Short: "Submit a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitRunRequest{
				JobName:  args[0],
				Priority: priority,
			}

			for _, kv := range tags {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid tag format %q, expected KEY=VALUE", kv)
				}
				req.Tags = append(req.Tags, Tag{Key: parts[0], Value: parts[1]})
			}

			run, err := client.SubmitRun(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run submitted: %s", run.ID))
			out.Print(
				[]string{"ID", "JOB", "STATUS", "PRIORITY", "SUBMITTED"},
				[][]string{{run.ID, run.JobName, run.Status, strconv.Itoa(run.Priority), run.SubmittedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Run tags as KEY=VALUE (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Queue priority (higher dequeues first)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "JOB", "STATUS", "ERROR", "SUBMITTED", "FINISHED"},
				[][]string{{run.ID, run.JobName, run.Status, run.Error, run.SubmittedAt, run.FinishedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancellation requested: %s (%s)", run.ID, run.Status))
			return nil
		},
	}
}

func newRunTerminateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "terminate ID...",
		Short: "Terminate runs in a batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := TerminateRunsRequest{
				Runs:  make(map[string]bool, len(args)),
				Force: force,
			}
			for _, id := range args {
				// Без force считаем, что backend умеет останавливать
				// run безопасно
				req.Runs[id] = !force
			}

			result, err := client.TerminateRuns(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Terminated %d/%d runs", result.Completed-len(result.Errors), result.Total))
			for id, msg := range result.Errors {
				out.Error(fmt.Sprintf("%s: %s", id, msg))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force immediate termination without cleanup")

	return cmd
}
