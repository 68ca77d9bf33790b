package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/lambdactl/internal/filter"
	"github.com/yairfalse/lambdactl/internal/journal"
	"github.com/yairfalse/lambdactl/internal/lambda"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

func newInstancesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"instance", "i"},
		Short:   "Manage instances",
	}
	cmd.AddCommand(
		newInstancesListCmd(a),
		newLongRunningCmd(a),
		newWatchCmd(a),
		newLaunchCmd(a),
		newShutdownCmd(a),
	)
	return cmd
}

func newInstancesListCmd(a *app) *cobra.Command {
	var (
		asJSON      bool
		statuses    []string
		tags        []string
		excludeTags []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		Example: `  lambdactl instances list                       # All instances
  lambdactl instances list --status active       # Only active instances
  lambdactl instances list --tag team=research   # Instances tagged team=research
  lambdactl instances list --exclude-tag env=ci  # Skip instances tagged env=ci
  lambdactl instances list --json                # Raw provider records`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			includeTags, err := filter.ParseTags(tags)
			if err != nil {
				return err
			}
			exclude, err := filter.ParseTags(excludeTags)
			if err != nil {
				return err
			}
			if err := a.setup(cmd, nil); err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			all, err := client.ListInstances(cmd.Context())
			if err != nil {
				return err
			}
			instances := filter.New(statuses, includeTags, exclude).Apply(all)

			if asJSON {
				return writeJSON(a.stdout, instances)
			}
			return a.printInstances(instances)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().StringArrayVar(&statuses, "status", nil, "Only show instances with this status (repeatable)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Only show instances with this tag, as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&excludeTags, "exclude-tag", nil, "Hide instances with this tag, as key=value (repeatable)")
	return cmd
}

func (a *app) printInstances(instances []instance.Instance) error {
	if len(instances) == 0 {
		fmt.Fprintln(a.stdout, "No instances found.")
		return nil
	}

	w := newTable(a.stdout)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tIP\tSTARTED-AT")
	for _, inst := range instances {
		started, _ := inst.Tag(a.cfg.LongRunning.TagKey)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			inst.ID, orDash(inst.Name), orDash(inst.Status), orDash(inst.IP), orDash(started))
	}
	return w.Flush()
}

func newLaunchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "launch FILE",
		Short: "Launch instances from a JSON request file",
		Long: `Launch instances from a JSON request file ("-" reads stdin).

The request must name region_name, instance_type_name and ssh_key_names.
A started-at tag with the current UTC time is added unless the request
already carries one, so later long-running checks know the start time.`,
		Example: `  lambdactl instances launch launch.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd, nil); err != nil {
				return err
			}

			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			payload, err := lambda.PrepareLaunch(raw, a.cfg.LongRunning.TagKey, a.clock())
			if err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			result, err := client.Launch(cmd.Context(), payload)
			if err != nil {
				a.record(journal.KindLaunch, nil, payload, err)
				return err
			}

			ids := instanceIDs(result)
			a.record(journal.KindLaunch, ids, payload, nil)
			a.logger.Info().Strs("instance_ids", ids).Msg("launch requested")
			return writeJSON(a.stdout, result)
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read launch file: %w", err)
	}
	return data, nil
}

func newShutdownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "shutdown ID",
		Aliases: []string{"terminate"},
		Short:   "Terminate an instance",
		Example: `  lambdactl instances shutdown 0920582c7ff041399e34823a0be62549`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("instance id is required")
			}
			if err := a.setup(cmd, nil); err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			result, err := client.Terminate(cmd.Context(), id)
			a.record(journal.KindTerminate, []string{id}, nil, err)
			if err != nil {
				return err
			}

			a.logger.Info().Str("instance_id", id).Msg("termination requested")
			return writeJSON(a.stdout, result)
		},
	}
}

// instanceIDs pulls instance_ids out of a launch response. Anything else
// yields no IDs.
func instanceIDs(result json.RawMessage) []string {
	var body struct {
		InstanceIDs []json.RawMessage `json:"instance_ids"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil
	}

	var ids []string
	for _, raw := range body.InstanceIDs {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
