package commands

import (
	"github.com/spf13/cobra"
	"kubegems.io/modeleval/pkg/metrics"
)

func NewMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "inspect metrics files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <file>",
		Short: "show a metrics file written by evaluate",
		Example: `
  modeleval metrics show artifacts/model_evaluation/metrics.json
		`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return []string{"json"}, cobra.ShellCompDirectiveFilterFileExt
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := metrics.Load(args[0])
			if err != nil {
				return err
			}
			MetricsList(result.Map()).Render(cmd.OutOrStdout())
			return nil
		},
	})
	return cmd
}
