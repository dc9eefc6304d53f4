package commands

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"kubegems.io/modeleval/pkg/version"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "modeleval",
		Short:         "evaluate trained models and track the results",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(NewEvaluateCmd())
	cmd.AddCommand(NewMetricsCmd())
	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewVersionCmd())
	cmd.AddCommand(NewCompletionCmd())
	return cmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Get().String())
		},
	}
}

// BaseContext is cancelled on interrupt. DEBUG=1 enables logging.
func BaseContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	if os.Getenv("DEBUG") == "1" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		stdr.SetVerbosity(1)
		ctx = logr.NewContext(ctx, stdr.NewWithOptions(log.Default(), stdr.Options{LogCaller: stdr.Error}))
	}
	return ctx, cancel
}

type ShowList struct {
	Header []any
	Items  [][]any
}

func (s ShowList) Render(out io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row(s.Header))
	for _, item := range s.Items {
		t.AppendRow(table.Row(item))
	}
	t.Render()
}
