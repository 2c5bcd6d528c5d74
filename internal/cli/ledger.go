package cli

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewLedgerCmd создаёт команду просмотра Concurrency Ledger.
func NewLedgerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Show concurrency ledger occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			snapshot, err := client.GetLedger()
			if err != nil {
				return err
			}

			headers := []string{"LIMIT_KEY", "IN_FLIGHT", "LIMIT"}
			rows := [][]string{
				{"(global)", strconv.Itoa(snapshot.Global), formatLimit(snapshot.GlobalLimit)},
			}

			keys := make([]string, 0, len(snapshot.Limits))
			for key := range snapshot.Limits {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				rows = append(rows, []string{
					key,
					strconv.Itoa(snapshot.Counts[key]),
					formatLimit(snapshot.Limits[key]),
				})
			}

			out.Print(headers, rows, snapshot)
			return nil
		},
	}
}

func formatLimit(limit int) string {
	if limit < 0 {
		return "unlimited"
	}
	return strconv.Itoa(limit)
}
