package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"playbooks/internal/app"
	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/flow"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage a playbook's workflows"}
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowUpdateCmd())
	wf.AddCommand(deleteCmd("Delete a workflow with its activities", func(ctx context.Context, e *engine.Engine, id string) error {
		return e.Workflows.Delete(ctx, id)
	}))
	wf.AddCommand(duplicateCmd("Copy a workflow with its activities and artifacts", func(ctx context.Context, e *engine.Engine, id, name string) (any, error) {
		return e.Workflows.Duplicate(ctx, id, name)
	}))
	return wf
}

func workflowRows(w domain.Workflow) []table.Row {
	return []table.Row{{"ID", w.ID}, {"Playbook", w.PlaybookID}, {"Order", w.Order}, {"Name", w.Name}, {"Description", w.Description}}
}

func workflowCreateCmd() *cobra.Command {
	var playbookID string
	var f validate.WorkflowFields
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				w, err := st.Engine.Workflows.Create(ctx, playbookID, f)
				if err != nil {
					return err
				}
				return printOne(cmd, w, workflowRows(w)...)
			})
		},
	}
	cmd.Flags().StringVar(&playbookID, "playbook", "", "playbook id")
	cmd.Flags().StringVar(&f.Name, "name", "", "workflow name")
	cmd.Flags().StringVar(&f.Description, "description", "", "workflow description")
	cmd.Flags().IntVar(&f.Order, "order", 0, "position (0 appends)")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var playbookID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				ws, err := st.Engine.Workflows.List(ctx, playbookID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(ws))
				for _, w := range ws {
					rows = append(rows, table.Row{w.Order, w.ID, w.Name})
				}
				return printTable(cmd, ws, table.Row{"Order", "ID", "Name"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&playbookID, "playbook", "", "playbook id")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

func workflowUpdateCmd() *cobra.Command {
	var f validate.WorkflowFields
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				cur, err := st.Engine.Workflows.Get(ctx, args[0])
				if err != nil {
					return err
				}
				in := validate.WorkflowFields{Name: cur.Name, Description: cur.Description, Order: cur.Order}
				if cmd.Flags().Changed("name") {
					in.Name = f.Name
				}
				if cmd.Flags().Changed("description") {
					in.Description = f.Description
				}
				if cmd.Flags().Changed("order") {
					in.Order = f.Order
				}
				w, err := st.Engine.Workflows.Update(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printOne(cmd, w, workflowRows(w)...)
			})
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "workflow name")
	cmd.Flags().StringVar(&f.Description, "description", "", "workflow description")
	cmd.Flags().IntVar(&f.Order, "order", 0, "position")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Manage a workflow's activities"}
	act.AddCommand(activityCreateCmd())
	act.AddCommand(activityListCmd())
	act.AddCommand(activityUpdateCmd())
	act.AddCommand(deleteCmd("Delete an activity with the artifacts it produces", func(ctx context.Context, e *engine.Engine, id string) error {
		return e.Activities.Delete(ctx, id)
	}))
	act.AddCommand(duplicateCmd("Copy an activity's guidance and phase", func(ctx context.Context, e *engine.Engine, id, name string) (any, error) {
		return e.Activities.Duplicate(ctx, id, name)
	}))
	act.AddCommand(activityInputsCmd())
	return act
}

func activityRows(a domain.Activity) []table.Row {
	return []table.Row{
		{"ID", a.ID},
		{"Workflow", a.WorkflowID},
		{"Order", a.Order},
		{"Name", a.Name},
		{"Phase", a.Phase},
		{"Predecessor", deref(a.PredecessorID)},
		{"Successor", deref(a.SuccessorID)},
	}
}

func bindActivityFlags(cmd *cobra.Command, in *engine.ActivityInput) {
	cmd.Flags().StringVar(&in.Name, "name", "", "activity name")
	cmd.Flags().StringVar(&in.Guidance, "guidance", "", "markdown guidance")
	cmd.Flags().StringVar(&in.Phase, "phase", "", "phase label")
	cmd.Flags().IntVar(&in.Order, "order", 0, "position (0 appends)")
	cmd.Flags().StringVar(&in.PredecessorID, "predecessor", "", "activity that comes before")
	cmd.Flags().StringVar(&in.SuccessorID, "successor", "", "activity that comes after")
}

func activityCreateCmd() *cobra.Command {
	var workflowID string
	var in engine.ActivityInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				a, err := st.Engine.Activities.Create(ctx, workflowID, in)
				if err != nil {
					return err
				}
				return printOne(cmd, a, activityRows(a)...)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	bindActivityFlags(cmd, &in)
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func activityListCmd() *cobra.Command {
	var workflowID, playbookID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities of a workflow or a whole playbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				var (
					as  []domain.Activity
					err error
				)
				switch {
				case playbookID != "":
					as, err = st.Engine.Activities.ListByPlaybook(ctx, playbookID)
				case workflowID != "":
					as, err = st.Engine.Activities.List(ctx, workflowID)
				default:
					return fmt.Errorf("--workflow or --playbook required")
				}
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(as))
				for _, a := range as {
					rows = append(rows, table.Row{a.Order, a.ID, a.Name, a.Phase, a.WorkflowID})
				}
				return printTable(cmd, as, table.Row{"Order", "ID", "Name", "Phase", "Workflow"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&playbookID, "playbook", "", "playbook id")
	return cmd
}

func activityUpdateCmd() *cobra.Command {
	var in engine.ActivityInput
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an activity",
		Long:  "Update an activity. Unset flags keep their stored values; pass --predecessor= or --successor= to clear a link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				cur, err := st.Engine.Activities.Get(ctx, args[0])
				if err != nil {
					return err
				}
				next := engine.ActivityInput{
					ActivityFields: validate.ActivityFields{Name: cur.Name, Guidance: cur.Guidance, Phase: cur.Phase, Order: cur.Order},
					PredecessorID:  deref(cur.PredecessorID),
					SuccessorID:    deref(cur.SuccessorID),
				}
				changed := cmd.Flags().Changed
				if changed("name") {
					next.Name = in.Name
				}
				if changed("guidance") {
					next.Guidance = in.Guidance
				}
				if changed("phase") {
					next.Phase = in.Phase
				}
				if changed("order") {
					next.Order = in.Order
				}
				if changed("predecessor") {
					next.PredecessorID = in.PredecessorID
				}
				if changed("successor") {
					next.SuccessorID = in.SuccessorID
				}
				a, err := st.Engine.Activities.Update(ctx, args[0], next)
				if err != nil {
					return err
				}
				return printOne(cmd, a, activityRows(a)...)
			})
		},
	}
	bindActivityFlags(cmd, &in)
	return cmd
}

func activityInputsCmd() *cobra.Command {
	var add, copyFrom []string
	var required, available bool
	cmd := &cobra.Command{
		Use:   "inputs <activity-id>",
		Short: "List, add or copy the artifacts an activity consumes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				x := st.Engine.Artifacts
				switch {
				case len(add) > 0:
					res, err := x.BulkAddInputs(ctx, args[0], add, required)
					if err != nil {
						return err
					}
					printWarnings(cmd, res.Warnings)
				case len(copyFrom) > 0:
					for _, src := range copyFrom {
						res, err := x.CopyInputs(ctx, args[0], src)
						if err != nil {
							return err
						}
						printWarnings(cmd, res.Warnings)
						fmt.Fprintf(cmd.ErrOrStderr(), "copied %d, skipped %d from %s\n", len(res.Copied), res.Skipped, src)
					}
				case available:
					xs, err := x.AvailableInputs(ctx, args[0])
					if err != nil {
						return err
					}
					return printArtifacts(cmd, xs)
				}
				ins, err := x.ListInputs(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(ins))
				for _, in := range ins {
					rows = append(rows, table.Row{in.ID, in.ArtifactID, in.IsRequired})
				}
				return printTable(cmd, ins, table.Row{"Input", "Artifact", "Required"}, rows)
			})
		},
	}
	cmd.Flags().StringSliceVar(&add, "add", nil, "artifact ids to link as inputs")
	cmd.Flags().BoolVar(&required, "required", false, "mark added inputs required")
	cmd.Flags().StringSliceVar(&copyFrom, "copy-from", nil, "copy inputs from these activities")
	cmd.Flags().BoolVar(&available, "available", false, "list artifacts that could still be consumed")
	return cmd
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Manage artifacts and who consumes them"}
	art.AddCommand(artifactCreateCmd())
	art.AddCommand(artifactListCmd())
	art.AddCommand(artifactUpdateCmd())
	art.AddCommand(deleteCmd("Delete an artifact and its input links", func(ctx context.Context, e *engine.Engine, id string) error {
		return e.Artifacts.Delete(ctx, id)
	}))
	art.AddCommand(duplicateCmd("Copy an artifact under the same producer", func(ctx context.Context, e *engine.Engine, id, name string) (any, error) {
		return e.Artifacts.Duplicate(ctx, id, name)
	}))
	art.AddCommand(artifactConsumeCmd())
	art.AddCommand(artifactUnconsumeCmd())
	art.AddCommand(artifactTemplateCmd())
	return art
}

func artifactRows(x domain.Artifact) []table.Row {
	return []table.Row{
		{"ID", x.ID},
		{"Name", x.Name},
		{"Type", x.Type},
		{"Produced by", x.ProducedByID},
		{"Required", x.IsRequired},
		{"Template", x.TemplateFile},
	}
}

func printArtifacts(cmd *cobra.Command, xs []domain.Artifact) error {
	rows := make([]table.Row, 0, len(xs))
	for _, x := range xs {
		rows = append(rows, table.Row{x.ID, x.Name, x.Type, x.ProducedByID, x.IsRequired})
	}
	return printTable(cmd, xs, table.Row{"ID", "Name", "Type", "Produced by", "Required"}, rows)
}

func bindArtifactFlags(cmd *cobra.Command, f *validate.ArtifactFields, typ *string) {
	cmd.Flags().StringVar(&f.Name, "name", "", "artifact name")
	cmd.Flags().StringVar(&f.Description, "description", "", "artifact description")
	cmd.Flags().StringVar(typ, "type", "", "Document (default), Template, Code, Diagram, Data or Other")
	cmd.Flags().BoolVar(&f.IsRequired, "required", false, "required deliverable")
}

func artifactCreateCmd() *cobra.Command {
	var producer, typ string
	var f validate.ArtifactFields
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Declare an artifact produced by an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				f.Type = domain.ArtifactType(typ)
				x, err := st.Engine.Artifacts.Create(ctx, producer, f)
				if err != nil {
					return err
				}
				return printOne(cmd, x, artifactRows(x)...)
			})
		},
	}
	cmd.Flags().StringVar(&producer, "produced-by", "", "producing activity id")
	bindArtifactFlags(cmd, &f, &typ)
	_ = cmd.MarkFlagRequired("produced-by")
	return cmd
}

func artifactListCmd() *cobra.Command {
	var f repo.ArtifactFilters
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a playbook's artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				f.Type = domain.ArtifactType(typ)
				xs, err := st.Engine.Artifacts.List(ctx, f)
				if err != nil {
					return err
				}
				return printArtifacts(cmd, xs)
			})
		},
	}
	cmd.Flags().StringVar(&f.PlaybookID, "playbook", "", "playbook id")
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&f.ProducedByID, "produced-by", "", "producer filter")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

func artifactUpdateCmd() *cobra.Command {
	var producer, typ string
	var f validate.ArtifactFields
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an artifact or move it to another producer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				cur, err := st.Engine.Artifacts.Get(ctx, args[0])
				if err != nil {
					return err
				}
				u := engine.ArtifactUpdate{
					ArtifactFields: validate.ArtifactFields{Name: cur.Name, Description: cur.Description, Type: cur.Type, IsRequired: cur.IsRequired},
					ProducedByID:   producer,
				}
				changed := cmd.Flags().Changed
				if changed("name") {
					u.Name = f.Name
				}
				if changed("description") {
					u.Description = f.Description
				}
				if changed("type") {
					u.Type = domain.ArtifactType(typ)
				}
				if changed("required") {
					u.IsRequired = f.IsRequired
				}
				x, err := st.Engine.Artifacts.Update(ctx, args[0], u)
				if err != nil {
					return err
				}
				return printOne(cmd, x, artifactRows(x)...)
			})
		},
	}
	cmd.Flags().StringVar(&producer, "produced-by", "", "move to this producing activity")
	bindArtifactFlags(cmd, &f, &typ)
	return cmd
}

func artifactConsumeCmd() *cobra.Command {
	var activityID string
	var required bool
	cmd := &cobra.Command{
		Use:   "consume <artifact-id>",
		Short: "Make an activity consume an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				res, err := st.Engine.Artifacts.AddConsumer(ctx, args[0], activityID, required)
				if err != nil {
					return err
				}
				printWarnings(cmd, res.Warnings)
				return printOne(cmd, res, table.Row{"Input", res.Input.ID}, table.Row{"Required", res.Input.IsRequired})
			})
		},
	}
	cmd.Flags().StringVar(&activityID, "activity", "", "consuming activity id")
	cmd.Flags().BoolVar(&required, "required", false, "the consumer cannot start without it")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func artifactUnconsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unconsume <input-id>",
		Short: "Remove one input link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if err := st.Engine.Artifacts.RemoveConsumer(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func artifactTemplateCmd() *cobra.Command {
	var attach, out string
	cmd := &cobra.Command{
		Use:   "template <artifact-id>",
		Short: "Attach or download an artifact's template file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if attach != "" {
					f, err := os.Open(attach)
					if err != nil {
						return err
					}
					defer f.Close()
					x, err := st.Engine.Artifacts.AttachTemplate(ctx, args[0], filepath.Base(attach), f)
					if err != nil {
						return err
					}
					return printOne(cmd, x, artifactRows(x)...)
				}
				rc, x, err := st.Engine.Artifacts.OpenTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				defer rc.Close()
				var w io.Writer = cmd.OutOrStdout()
				if out != "" {
					if info, err := os.Stat(out); err == nil && info.IsDir() {
						out = filepath.Join(out, x.TemplateFile)
					}
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				_, err = io.Copy(w, rc)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&attach, "attach", "", "file to upload as the template")
	cmd.Flags().StringVarP(&out, "output", "o", "", "file or directory to download to (stdout when empty)")
	return cmd
}

func flowCmd() *cobra.Command {
	fl := &cobra.Command{Use: "flow", Short: "Inspect how artifacts flow between activities"}
	fl.AddCommand(flowGraphCmd())
	fl.AddCommand(flowChainCmd())
	fl.AddCommand(flowCheckCmd())
	return fl
}

func flowGraphCmd() *cobra.Command {
	var playbookID, format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the flow graph (dot or svg), or list its edges with --format table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if format == "table" {
					data, err := st.Engine.Artifacts.GenerateFlowData(ctx, playbookID)
					if err != nil {
						return err
					}
					labels := make(map[string]string, len(data.Nodes))
					for _, n := range data.Nodes {
						labels[n.ID] = n.Label
					}
					rows := make([]table.Row, 0, len(data.Edges))
					for _, e := range data.Edges {
						rows = append(rows, table.Row{labels[e.From], e.Type, labels[e.To], e.Required})
					}
					return printTable(cmd, data, table.Row{"From", "Edge", "To", "Required"}, rows)
				}
				out, err := st.Engine.Artifacts.RenderFlow(ctx, playbookID, flow.Format(format))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&playbookID, "playbook", "", "playbook id")
	cmd.Flags().StringVar(&format, "format", string(flow.FormatDOT), "dot, svg or table")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

func flowChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain <artifact-id>",
		Short: "Show an artifact's producer and consumers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				c, err := st.Engine.Artifacts.FlowChain(ctx, args[0])
				if err != nil {
					return err
				}
				rows := []table.Row{}
				if c.Producer != nil {
					rows = append(rows, table.Row{"produces", c.Producer.Name, c.Producer.ID, ""})
				}
				for _, con := range c.Consumers {
					rows = append(rows, table.Row{"consumes", con.Activity.Name, con.Activity.ID, con.Required})
				}
				return printTable(cmd, c, table.Row{"Role", "Activity", "ID", "Required"}, rows)
			})
		},
	}
}

func flowCheckCmd() *cobra.Command {
	var activityID string
	cmd := &cobra.Command{
		Use:   "check <artifact-id>",
		Short: "Check whether an activity may consume an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				res, err := st.Engine.Artifacts.ValidateFlow(ctx, args[0], activityID)
				if err != nil {
					return err
				}
				printWarnings(cmd, res.Warnings)
				if err := res.Err(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&activityID, "activity", "", "consuming activity id")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func deleteCmd(short string, del func(context.Context, *engine.Engine, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if err := del(ctx, st.Engine, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func duplicateCmd(short string, dup func(context.Context, *engine.Engine, string, string) (any, error)) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "duplicate <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				v, err := dup(ctx, st.Engine, args[0], name)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the copy")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
