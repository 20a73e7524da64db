package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDLQCmd создаёт группу команд для работы с dead letter queue.
func NewDLQCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and redrive failed steps",
	}

	cmd.AddCommand(
		newDLQListCmd(clientFn, outputFn),
		newDLQRedriveCmd(clientFn, outputFn),
	)

	return cmd
}

func newDLQListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListDeadLettersOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			items, err := client.ListDeadLetters(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "RUN_ID", "NODE", "ATTEMPTS", "RETRYABLE", "REASON", "FAILED", "REDRIVEN"}
			rows := make([][]string, len(items))
			for i, d := range items {
				rows[i] = []string{
					d.ID, d.Job.RunID, d.Job.NodeID, strconv.Itoa(d.Attempts),
					strconv.FormatBool(d.Retryable), d.Reason, d.FailedAt, d.RedrivenAt,
				}
			}

			out.Print(headers, rows, items)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Filter by run ID")
	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "Only entries not yet redriven")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newDLQRedriveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "redrive ID",
		Short: "Send a failed step back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.Redrive(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step %s of run %s re-enqueued", res.NodeID, res.RunID))
			return nil
		},
	}
}
