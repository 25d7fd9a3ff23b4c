package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playbooks/internal/app"
	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/validate"
)

func playbookCmd() *cobra.Command {
	pb := &cobra.Command{Use: "playbook", Short: "Manage playbooks"}
	pb.AddCommand(playbookCreateCmd())
	pb.AddCommand(playbookListCmd())
	pb.AddCommand(playbookShowCmd())
	pb.AddCommand(playbookUpdateCmd())
	pb.AddCommand(playbookDeleteCmd())
	pb.AddCommand(playbookDuplicateCmd())
	pb.AddCommand(playbookTreeCmd())
	pb.AddCommand(playbookTransitionCmd("release", "Release a draft and snapshot it as the next major version"))
	pb.AddCommand(playbookTransitionCmd("publish", "Publish a draft as active and snapshot it"))
	pb.AddCommand(playbookToggleCmd())
	pb.AddCommand(playbookArchiveCmd())
	pb.AddCommand(playbookVersionsCmd())
	pb.AddCommand(playbookExportCmd())
	pb.AddCommand(playbookImportCmd())
	return pb
}

type playbookFlags struct {
	name, description, category, visibility string
	tags                                    []string
}

func (f *playbookFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "playbook name")
	cmd.Flags().StringVar(&f.description, "description", "", "playbook description")
	cmd.Flags().StringVar(&f.category, "category", "", "product, development, research, design, management or other")
	cmd.Flags().StringVar(&f.visibility, "visibility", "", "private (default), family or local_only")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag (repeatable or comma separated)")
}

func (f *playbookFlags) fields() validate.PlaybookFields {
	return validate.PlaybookFields{
		Name:        f.name,
		Description: f.description,
		Category:    domain.Category(f.category),
		Tags:        f.tags,
		Visibility:  domain.Visibility(f.visibility),
	}
}

// merge fills unset flags from the stored playbook so updates can change one field at a time.
func (f *playbookFlags) merge(cmd *cobra.Command, p domain.Playbook) validate.PlaybookFields {
	out := validate.PlaybookFields{
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Tags:        p.Tags,
		Visibility:  p.Visibility,
	}
	if cmd.Flags().Changed("name") {
		out.Name = f.name
	}
	if cmd.Flags().Changed("description") {
		out.Description = f.description
	}
	if cmd.Flags().Changed("category") {
		out.Category = domain.Category(f.category)
	}
	if cmd.Flags().Changed("tag") {
		out.Tags = f.tags
	}
	if cmd.Flags().Changed("visibility") {
		out.Visibility = domain.Visibility(f.visibility)
	}
	return out
}

func playbookCreateCmd() *cobra.Command {
	var f playbookFlags
	var workflows []string
	var status string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a playbook",
		Long:  "Create a draft playbook. With --workflow or --status the wizard path is used: workflows are created and the status applied in one step.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if len(workflows) == 0 && status == "" {
					p, err := st.Engine.Playbooks.Create(ctx, f.fields())
					if err != nil {
						return err
					}
					return printOne(cmd, p, playbookRows(p)...)
				}
				in := engine.WizardInput{Step1: f.fields()}
				for _, w := range workflows {
					name, desc, _ := strings.Cut(w, ":")
					in.Step2 = append(in.Step2, validate.WorkflowFields{Name: name, Description: desc})
				}
				if status != "" {
					in.Step3 = &validate.PublishFields{Status: domain.Status(status)}
				}
				res, err := st.Engine.Playbooks.CreateFromWizard(ctx, in)
				if err != nil {
					return err
				}
				return printOne(cmd, res, playbookRows(res.Playbook)...)
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringArrayVar(&workflows, "workflow", nil, `workflow as "name:description" (repeatable)`)
	cmd.Flags().StringVar(&status, "status", "", "initial status: draft, active or released")
	return cmd
}

func playbookListCmd() *cobra.Command {
	var opts engine.ListOptions
	var status, category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your playbooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				opts.Status = domain.Status(status)
				opts.Category = domain.Category(category)
				page, err := st.Engine.Playbooks.List(ctx, opts)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(page.Items))
				for _, p := range page.Items {
					rows = append(rows, table.Row{p.ID, p.Name, p.Category, p.Status, p.Version.String(), p.UpdatedAt})
				}
				if err := printTable(cmd, page, table.Row{"ID", "Name", "Category", "Status", "Version", "Updated"}, rows); err != nil {
					return err
				}
				if page.NextCursor != "" && !viper.GetBool("json") {
					fmt.Fprintf(cmd.OutOrStdout(), "more: --cursor %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "search name and description")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after a previous page")
	return cmd
}

func playbookShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				p, err := st.Engine.Playbooks.View(ctx, args[0])
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
}

func playbookUpdateCmd() *cobra.Command {
	var f playbookFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update playbook metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				cur, err := st.Engine.Playbooks.Get(ctx, args[0])
				if err != nil {
					return err
				}
				p, err := st.Engine.Playbooks.Update(ctx, args[0], f.merge(cmd, cur))
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func playbookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a playbook and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if err := st.Engine.Playbooks.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func playbookDuplicateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Deep-copy a playbook into a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				p, err := st.Engine.Playbooks.Duplicate(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the copy")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func playbookTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <id>",
		Short: "Show workflows, activities and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				g, err := st.Engine.Playbooks.Tree(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), g)
				}
				printGraph(cmd, g)
				return nil
			})
		},
	}
}

func printGraph(cmd *cobra.Command, g domain.Graph) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s [%s %s]\n", g.Playbook.Name, g.Playbook.Status, g.Playbook.Version)
	acts := map[string][]domain.Activity{}
	for _, a := range g.Activities {
		acts[a.WorkflowID] = append(acts[a.WorkflowID], a)
	}
	produced := map[string][]domain.Artifact{}
	for _, x := range g.Artifacts {
		produced[x.ProducedByID] = append(produced[x.ProducedByID], x)
	}
	for i, wf := range g.Workflows {
		wfConn, wfPrefix := branch(i == len(g.Workflows)-1, "")
		fmt.Fprintf(w, "%s%d. %s\n", wfConn, wf.Order, wf.Name)
		for j, a := range acts[wf.ID] {
			aConn, aPrefix := branch(j == len(acts[wf.ID])-1, wfPrefix)
			fmt.Fprintf(w, "%s%s%s\n", aConn, a.Name, phaseSuffix(a.Phase))
			for k, x := range produced[a.ID] {
				xConn, _ := branch(k == len(produced[a.ID])-1, aPrefix)
				fmt.Fprintf(w, "%s-> %s (%s)\n", xConn, x.Name, x.Type)
			}
		}
	}
}

func branch(last bool, prefix string) (string, string) {
	if last {
		return prefix + "└── ", prefix + "    "
	}
	return prefix + "├── ", prefix + "│   "
}

func phaseSuffix(phase string) string {
	if phase == "" {
		return ""
	}
	return " [" + phase + "]"
}

func playbookTransitionCmd(use, short string) *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				transition := st.Engine.Playbooks.Release
				if use == "publish" {
					transition = st.Engine.Playbooks.Publish
				}
				p, err := transition(ctx, args[0], summary)
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
	cmd.Flags().StringVarP(&summary, "message", "m", "", "change summary stored with the snapshot")
	return cmd
}

func playbookToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-status <id>",
		Short: "Switch between active and disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				p, err := st.Engine.Playbooks.ToggleStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
}

func playbookArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				p, err := st.Engine.Playbooks.Archive(ctx, args[0])
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
}

func playbookVersionsCmd() *cobra.Command {
	var number int
	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: "List version snapshots, or show one with --number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				if number > 0 {
					v, err := st.Engine.Playbooks.GetVersion(ctx, args[0], number)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), v)
				}
				vs, err := st.Engine.Playbooks.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(vs))
				for _, v := range vs {
					rows = append(rows, table.Row{v.VersionNumber, v.SnapshotData.Version, v.ChangeSummary, v.CreatedAt})
				}
				return printTable(cmd, vs, table.Row{"#", "Version", "Summary", "Created"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&number, "number", 0, "snapshot number to show in full")
	return cmd
}

func playbookExportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a playbook's export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				data, name, err := st.Engine.Playbooks.ExportBytes(ctx, args[0], format)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if info, err := os.Stat(out); err == nil && info.IsDir() {
					out = filepath.Join(out, name)
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or yaml")
	cmd.Flags().StringVarP(&out, "output", "o", "", "file or directory to write (stdout when empty)")
	return cmd
}

func playbookImportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an export document as a read-only playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = "json"
				if ext := strings.ToLower(filepath.Ext(args[0])); ext == ".yml" || ext == ".yaml" {
					format = "yaml"
				}
			}
			doc, err := engine.ParseExport(data, format)
			if err != nil {
				return err
			}
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				p, err := st.Engine.Playbooks.Import(ctx, doc)
				if err != nil {
					return err
				}
				return printOne(cmd, p, playbookRows(p)...)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (guessed from the extension when empty)")
	return cmd
}
