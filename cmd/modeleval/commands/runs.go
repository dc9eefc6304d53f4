package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"kubegems.io/modeleval/pkg/metrics"
	"kubegems.io/modeleval/pkg/tracking"
)

func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "inspect runs of a local tracking store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [tracking-dir]",
		Short: "list runs, most recent first",
		Example: `
  modeleval runs list
  modeleval runs list /data/mlruns
		`,
		Args: cobra.MaximumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return nil, cobra.ShellCompDirectiveFilterDirs
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := BaseContext()
			defer cancel()

			dir := tracking.DefaultTrackingURI
			if len(args) == 1 {
				dir = args[0]
			}
			show, err := ListRuns(ctx, dir)
			if err != nil {
				return err
			}
			show.Render(cmd.OutOrStdout())
			return nil
		},
	})
	return cmd
}

func ListRuns(ctx context.Context, dir string) (*ShowList, error) {
	store, err := tracking.NewFileStore(ctx, dir)
	if err != nil {
		return nil, err
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	show := &ShowList{
		Header: []any{"Run", "Name", "Experiment", "Status", "Started", metrics.NameRMSE, metrics.NameMAE, metrics.NameR2},
	}
	for _, run := range runs {
		row := []any{
			run.Info.RunID,
			run.Info.RunName,
			run.Info.ExperimentID,
			run.Info.Status,
			time.UnixMilli(run.Info.StartTime).Format(time.RFC3339),
		}
		for _, name := range []string{metrics.NameRMSE, metrics.NameMAE, metrics.NameR2} {
			val, ok := run.Metrics[name]
			row = append(row, optional(val, ok))
		}
		show.Items = append(show.Items, row)
	}
	return show, nil
}
