package taskctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/taskworker/internal/dispatcher"
)

// newPublishCommand constructs the `publish` subcommand.
func newPublishCommand(factory ClientFactory) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish TASK [ARGS_JSON]",
		Short: "Publish a task invocation",
		Long: `Publish a task with positional arguments given as a JSON array.

Examples:
  taskctl publish add '[2, 3]'
  taskctl publish record_events '["main", ["signup", "login"]]' --countdown 10s
  taskctl publish multiply '[4, 5]' --wait`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			taskID, _ := cmd.Flags().GetString("task-id")
			countdown, _ := cmd.Flags().GetDuration("countdown")
			expires, _ := cmd.Flags().GetDuration("expires")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			wait, _ := cmd.Flags().GetBool("wait")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			raw := json.RawMessage("[]")
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
			}

			var opts []dispatcher.PublishOption
			if queue != "" {
				opts = append(opts, dispatcher.WithQueue(queue))
			}
			if taskID != "" {
				opts = append(opts, dispatcher.WithTaskID(taskID))
			}
			if countdown > 0 {
				opts = append(opts, dispatcher.WithCountdown(countdown))
			}
			if expires > 0 {
				opts = append(opts, dispatcher.WithExpires(expires))
			}
			if maxRetries >= 0 {
				opts = append(opts, dispatcher.WithMaxRetries(maxRetries))
			}

			return withClient(cmd, factory, func(client *dispatcher.Client) error {
				res, err := client.PublishRaw(cmd.Context(), args[0], raw, opts...)
				if err != nil {
					return err
				}
				if !wait {
					return printJSON(cmd.OutOrStdout(), map[string]string{
						"task_id": res.ID,
						"task":    args[0],
					})
				}
				return waitAndPrint(cmd, res, timeout)
			})
		},
	}
	publishCmd.Flags().StringP("queue", "q", "", "Override the registered queue")
	publishCmd.Flags().String("task-id", "", "Invocation id (default: generated uuid)")
	publishCmd.Flags().Duration("countdown", 0, "Delay before the task may run")
	publishCmd.Flags().Duration("expires", 0, "Revoke the task if it has not started within this duration")
	publishCmd.Flags().Int("max-retries", -1, "Override the registered retry budget")
	publishCmd.Flags().Bool("wait", false, "Wait for the result")
	publishCmd.Flags().Duration("timeout", 30*time.Second, "How long --wait polls")
	return publishCmd
}

// newResultCommand constructs the `result` subcommand.
func newResultCommand(factory ClientFactory) *cobra.Command {
	resultCmd := &cobra.Command{
		Use:   "result TASK_ID",
		Short: "Show the stored result of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			return withClient(cmd, factory, func(client *dispatcher.Client) error {
				res := client.AsyncResult(args[0])
				if wait {
					return waitAndPrint(cmd, res, timeout)
				}
				info, err := res.Info(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
	resultCmd.Flags().Bool("wait", false, "Poll until the task finishes")
	resultCmd.Flags().Duration("timeout", 30*time.Second, "How long --wait polls")
	return resultCmd
}

// newTasksCommand constructs the `tasks` subcommand.
func newTasksCommand(factory ClientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List registered tasks and their queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, factory, func(client *dispatcher.Client) error {
				reg := client.Registry()
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "NAME\tQUEUE\tMAX_RETRIES")
				for _, name := range reg.Names() {
					def, err := reg.Lookup(name)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", def.Name, def.Queue, def.MaxRetries)
				}
				return tw.Flush()
			})
		},
	}
}

// waitAndPrint polls res and prints the final result. Failed and revoked
// tasks print their result and return the error.
func waitAndPrint(cmd *cobra.Command, res *dispatcher.AsyncResult, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	info, err := res.Get(ctx, dispatcher.DefaultPollInterval)
	if info != nil {
		if perr := printJSON(cmd.OutOrStdout(), info); perr != nil {
			return perr
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("task %s not finished after %s", res.ID, timeout)
	}
	return err
}
