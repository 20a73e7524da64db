package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage workflow runs",
	}

	cmd.AddCommand(
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var inputJSON string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "start WORKSPACE WORKFLOW",
		Short: "Start a workflow run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInputs(inputs, inputJSON)
			if err != nil {
				return err
			}

			res, err := client.Orchestrate(OrchestrateRequest{
				WorkspaceSlug:  args[0],
				WorkflowName:   args[1],
				Input:          input,
				Trigger:        "manual",
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}

			if res.Existing {
				out.Success(fmt.Sprintf("Run already exists: %s", res.RunID))
			} else {
				out.Success(fmt.Sprintf("Run started: %s", res.RunID))
			}
			out.Print(
				[]string{"RUN_ID", "STATUS", "STEPS_ENQUEUED"},
				[][]string{{res.RunID, res.Status, strconv.Itoa(res.Steps)}},
				res,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&inputJSON, "input-json", "", "Input as a JSON object")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Reuse the run created with the same key")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(run)
				return nil
			}

			s := run.Summary
			out.Fields([][2]string{
				{"ID", run.ID},
				{"Workflow", run.WorkflowID},
				{"Version", strconv.Itoa(run.Version)},
				{"Status", run.Status},
				{"Trigger", run.Trigger},
				{"Error", run.Error},
				{"Started", run.StartedAt},
				{"Completed", run.CompletedAt},
				{"Steps", fmt.Sprintf("%d total, %d succeeded, %d failed, %d running, %d blocked",
					s.Total, s.Succeeded, s.Failed, s.Running+s.Enqueued, s.Blocked)},
			})

			if len(run.Steps) == 0 {
				return nil
			}

			rows := make([][]string, len(run.Steps))
			for i, st := range run.Steps {
				status := st.Status
				if st.Exhausted {
					status += " (exhausted)"
				}
				rows[i] = []string{st.NodeID, status, strconv.Itoa(st.Attempts), st.LastError, st.UpdatedAt}
			}
			out.Table([]string{"NODE", "STATUS", "ATTEMPTS", "LAST_ERROR", "UPDATED"}, rows)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

// parseInputs собирает input из JSON-объекта и пар KEY=VALUE.
// Пары перекрывают ключи из JSON.
func parseInputs(kvs []string, rawJSON string) (map[string]any, error) {
	var input map[string]any

	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &input); err != nil {
			return nil, fmt.Errorf("invalid --input-json: %w", err)
		}
	}

	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		if input == nil {
			input = make(map[string]any)
		}
		input[parts[0]] = parts[1]
	}

	return input, nil
}
