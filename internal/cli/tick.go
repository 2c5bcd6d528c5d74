package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewTickCmd создаёт группу команд для просмотра ticks.
func NewTickCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Inspect evaluation history",
	}

	cmd.AddCommand(newTickListCmd(clientFn, outputFn))

	return cmd
}

func newTickListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var targetID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			ticks, err := client.ListTicks(ListTicksOpts{
				TargetID: targetID,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TARGET_ID", "KIND", "STATUS", "RUNS", "STARTED"}
			rows := make([][]string, len(ticks))
			for i, t := range ticks {
				rows[i] = []string{t.ID, t.TargetID, t.Kind, t.Status, strconv.Itoa(len(t.RunIDs)), t.StartedAt}
			}

			out.Print(headers, rows, ticks)
			return nil
		},
	}

	cmd.Flags().StringVar(&targetID, "target-id", "", "Filter by target ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (STARTED, SKIPPED, SUCCESS, FAILURE)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}
