package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lakeplane/internal/domain"
	"lakeplane/internal/tools"
	lakeplanesdk "lakeplane/sdk/go"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func datasetsCmd() *cobra.Command {
	var layer string
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets, optionally for one layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]any{}
			if layer != "" {
				in["layer"] = layer
			}
			return runTool(cmd.Context(), tools.ToolListDatasets, in, func(out tools.DatasetList) {
				tw := newTable()
				tw.AppendHeader(table.Row{"Layer", "Database", "Name", "Type"})
				for _, d := range out.Datasets {
					tw.AppendRow(table.Row{d.Layer, d.Database, d.Name, d.TableType})
				}
				tw.AppendFooter(table.Row{"", "", "Count", out.Count})
				tw.Render()
			})
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "layer to list (bronze, silver, gold)")
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <dataset>",
		Short: "Show a dataset's columns and partitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd.Context(), tools.ToolGetDatasetSchema, map[string]any{"dataset": args[0]}, func(out tools.DatasetSchema) {
				fmt.Printf("%s.%s (%s, layer %s)\n", out.Database, out.Table, out.TableType, out.Layer)
				tw := newTable()
				tw.AppendHeader(table.Row{"Column", "Type", "Partition"})
				for _, c := range out.Columns {
					tw.AppendRow(table.Row{c.Name, c.Type, ""})
				}
				for _, c := range out.Partitions {
					tw.AppendRow(table.Row{c.Name, c.Type, "yes"})
				}
				tw.Render()
			})
		},
	}
}

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status <dataset>",
		Short: "Show recent job runs and freshness of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]any{"dataset": args[0], "limit": limit}
			return runTool(cmd.Context(), tools.ToolGetPipelineStatus, in, func(out tools.PipelineStatus) {
				if st := out.CurrentStatus; st != nil {
					fmt.Printf("%s: health=%s last_success=%s records=%s freshness_minutes=%s\n",
						out.Dataset, deref(st.Health), deref(st.LastSuccessTime), num(st.LastRecordCount), num(st.FreshnessMinutes))
				} else {
					fmt.Printf("%s: no status snapshot\n", out.Dataset)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Job", "Type", "Status", "Start", "End", "Records", "Error"})
				for _, r := range out.RecentRuns {
					tw.AppendRow(table.Row{r.JobName, r.JobType, r.Status, deref(r.StartTime), deref(r.EndTime), num(r.RecordsProcessed), deref(r.ErrorMessage)})
				}
				tw.Render()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", tools.DefaultStatusLimit, "number of runs")
	return cmd
}

func flowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flow <dataset>",
		Short: "Explain the data flow a dataset belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd.Context(), tools.ToolExplainDataFlow, map[string]any{"dataset": args[0]}, func(out tools.FlowExplanation) {
				f := out.Flow
				fmt.Printf("flow %s: %s from %s via %s\n", out.EventKey, f.Source.Type, f.Source.Producer, f.Source.Transport)
				fmt.Printf("ingestion: %s (%s, schema enforced: %t)\n", f.Ingestion.Job, f.Ingestion.Mode, f.Ingestion.SchemaEnforced)
				tw := newTable()
				tw.AppendHeader(table.Row{"Layer", "Table", "Characteristics"})
				for _, l := range f.Layers {
					tw.AppendRow(table.Row{l.Layer, l.Table, strings.Join(l.Characteristics, ", ")})
				}
				tw.Render()
				fmt.Printf("replay: %s (source of truth %s, max late data %dh)\n",
					f.ReplayStrategy.ReplayPath, f.ReplayStrategy.SourceOfTruth, f.ReplayStrategy.MaxLateDataHours)
			})
		},
	}
}

func replayCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "replay <dataset>",
		Short: "Propose a dry-run replay plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]any{"dataset": args[0], "start_date": start, "end_date": end}
			return runTool(cmd.Context(), tools.ToolProposeReplayPlan, in, func(out domain.ReplayPlan) {
				fmt.Printf("replay %s (flow %s) %s..%s, %d day(s)\n", out.Dataset, out.Flow, out.Window.StartDate, out.Window.EndDate, out.Window.Days)
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Layer", "Job", "Replayable"})
				for i, s := range out.ReplayPath {
					tw.AppendRow(table.Row{i + 1, s.Layer, s.Job, s.Replayable})
				}
				tw.Render()
				fmt.Printf("safety checks: %s\n", strings.Join(out.SafetyChecks, ", "))
				fmt.Printf("requires approval: %t, execution disabled: %t\n", out.RequiresApproval, out.ExecutionDisabled)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := listTools(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(descs)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Name", "Parameters", "Description"})
			for _, d := range descs {
				var params []string
				for _, p := range d.Params {
					name := p.Name
					if !p.Required {
						name += "?"
					}
					params = append(params, name)
				}
				tw.AppendRow(table.Row{d.Name, strings.Join(params, ", "), d.Description})
			}
			tw.Render()
			return nil
		},
	}
}

func listTools(ctx context.Context) ([]tools.Descriptor, error) {
	if base := viper.GetString("server"); base != "" {
		client := lakeplanesdk.New(base)
		client.BearerToken = viper.GetString("token")
		remote, err := client.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]tools.Descriptor, 0, len(remote))
		for _, t := range remote {
			d := tools.Descriptor{Name: t.Name, Description: t.Description}
			for _, p := range t.Params {
				d.Params = append(d.Params, tools.Param{Name: p.Name, Type: p.Type, Description: p.Description, Required: p.Required})
			}
			out = append(out, d)
		}
		return out, nil
	}
	// Descriptors are static; no platform clients are needed to list them.
	return tools.New(tools.Deps{}).Descriptors(), nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func num(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}
