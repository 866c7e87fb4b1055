// Package taskctl contains the Cobra commands of the taskctl producer CLI.
package taskctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/taskworker/internal/bootstrap"
	"github.com/cuongbtq/taskworker/internal/config"
	"github.com/cuongbtq/taskworker/internal/dispatcher"
	"github.com/cuongbtq/taskworker/shared/logger"
)

// ClientFactory opens a dispatcher client from the config file at path
type ClientFactory func(ctx context.Context, path string) (*dispatcher.Client, error)

// NewRoot constructs the taskctl root command. A nil factory opens the
// broker and backend named in the config file.
func NewRoot(factory ClientFactory) *cobra.Command {
	if factory == nil {
		factory = OpenClient
	}

	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Publish tasks and inspect their results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "configs/worker-service/config.yaml", "Path to configuration file")

	root.AddCommand(
		newPublishCommand(factory),
		newResultCommand(factory),
		newTasksCommand(factory),
	)
	return root
}

// OpenClient loads the config at path and initializes a dispatcher client
func OpenClient(ctx context.Context, path string) (*dispatcher.Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logger.NewDiscard()
	registry, _, err := bootstrap.NewRegistry(cfg, nil, log)
	if err != nil {
		return nil, err
	}
	return dispatcher.Initialize(ctx, bootstrap.DispatcherConfig(&cfg.Broker), registry, log)
}

func withClient(cmd *cobra.Command, factory ClientFactory, fn func(*dispatcher.Client) error) error {
	path, _ := cmd.Flags().GetString("config")
	client, err := factory(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
