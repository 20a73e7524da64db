package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conductor/internal/engine"
)

// NewWorkspaceCmd создаёт группу команд для управления workspaces.
func NewWorkspaceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
	}

	cmd.AddCommand(newWorkspaceCreateCmd(clientFn, outputFn))

	return cmd
}

func newWorkspaceCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create SLUG",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			ws, err := client.CreateWorkspace(args[0], name)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workspace created: %s", ws.Slug))
			out.Print(
				[]string{"ID", "SLUG", "NAME", "CREATED"},
				[][]string{{ws.ID, ws.Slug, ws.Name, ws.CreatedAt}},
				ws,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to slug)")

	return cmd
}

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows and their versions",
	}

	cmd.AddCommand(
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowPublishCmd(clientFn, outputFn),
		newWorkflowToggleCmd(clientFn, outputFn, true),
		newWorkflowToggleCmd(clientFn, outputFn, false),
	)

	return cmd
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "create WORKSPACE NAME",
		Short: "Create a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.CreateWorkflow(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s/%s", args[0], wf.Name))
			out.Print(
				[]string{"ID", "NAME", "ACTIVE", "CREATED"},
				[][]string{{wf.ID, wf.Name, strconv.FormatBool(wf.IsActive), wf.CreatedAt}},
				wf,
			)
			return nil
		},
	}
}

func newWorkflowPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "publish WORKSPACE NAME",
		Short: "Publish a new workflow version from a JSON or YAML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read workflow file: %w", err)
			}

			// Проверяем DAG локально, до отправки на сервер
			def, err := engine.ParseDefinition(data)
			if err != nil {
				return fmt.Errorf("invalid workflow file: %w", err)
			}

			version, err := client.PublishVersion(args[0], args[1], PublishRequest{
				Dag:         def.Dag(),
				RetryPolicy: def.RetryPolicy,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d published for %s/%s", version.Version, args[0], args[1]))
			out.Print(
				[]string{"WORKFLOW_ID", "VERSION", "NODES", "EDGES", "CREATED"},
				[][]string{{
					version.WorkflowID, strconv.Itoa(version.Version),
					strconv.Itoa(version.Nodes), strconv.Itoa(version.Edges), version.CreatedAt,
				}},
				version,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow definition (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// newWorkflowToggleCmd создаёт enable или disable.
func newWorkflowToggleCmd(clientFn func() *Client, outputFn func() *Output, active bool) *cobra.Command {
	use, short, verb := "disable WORKSPACE NAME", "Disable a workflow", "disabled"
	if active {
		use, short, verb = "enable WORKSPACE NAME", "Enable a workflow", "enabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.SetWorkflowActive(args[0], args[1], active); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow %s: %s/%s", verb, args[0], args[1]))
			return nil
		},
	}
}
