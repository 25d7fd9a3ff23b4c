package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playbooks/internal/app"
	"playbooks/internal/config"
	"playbooks/internal/db"
	"playbooks/internal/domain"
	"playbooks/internal/logger"
	"playbooks/internal/reqctx"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pb",
		Short: "Playbooks CLI",
		Long: `pb authors playbooks: reusable methodologies made of workflows, activities and the artifacts that flow between them.
Core concepts:
- Playbook: the top-level methodology. Drafts are editable; releasing snapshots a version and freezes it.
- Workflow: an ordered stage of a playbook.
- Activity: a step inside a workflow, optionally linked to a predecessor and successor.
- Artifact: something an activity produces. Other activities consume it as an input.
- Flow: the producer -> consumer graph of artifacts; 'pb flow graph' renders it.
- Workspace: the directory holding .playbooks/ (database and template files) and playbooks.yml.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := db.EnsureWorkspace(viper.GetString("workspace"))
			return err
		},
	}
	addPersistentFlags(root)
	root.AddCommand(playbookCmd())
	root.AddCommand(workflowCmd())
	root.AddCommand(activityCmd())
	root.AddCommand(artifactCmd())
	root.AddCommand(flowCmd())
	root.AddCommand(dashboardCmd())
	root.AddCommand(logCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLAYBOOKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("user", app.LocalUsername, "username to act as")
	root.PersistentFlags().String("log-format", "", "log to stderr: console or json (off when empty)")
	_ = viper.BindPFlag("workspace", root.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", root.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("log-format", root.PersistentFlags().Lookup("log-format"))
}

func newLogger() (*logger.Logger, error) {
	mode := viper.GetString("log-format")
	if mode == "" {
		return logger.Nop(), nil
	}
	return logger.New(mode)
}

// withStack opens the workspace and runs fn as the --user account inside one request context.
func withStack(cmd *cobra.Command, fn func(context.Context, *app.Stack) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	ctx, end := reqctx.Begin(cmd.Context(), "")
	defer end()
	st, err := app.Open(ctx, workspace, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx, _, err = st.AsUser(ctx, viper.GetString("user"))
	if err != nil {
		return err
	}
	return fn(ctx, st)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOne prints v as JSON, or as a two-column field table.
func printOne(cmd *cobra.Command, v any, rows ...table.Row) error {
	if viper.GetBool("json") || len(rows) == 0 {
		return printJSON(cmd.OutOrStdout(), v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func printTable(cmd *cobra.Command, v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(cmd.OutOrStdout(), v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func printWarnings(cmd *cobra.Command, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func playbookRows(p domain.Playbook) []table.Row {
	return []table.Row{
		{"ID", p.ID},
		{"Name", p.Name},
		{"Description", p.Description},
		{"Category", p.Category},
		{"Tags", strings.Join(p.Tags, ", ")},
		{"Visibility", p.Visibility},
		{"Status", p.Status},
		{"Version", p.Version.String()},
		{"Source", p.Source},
		{"Updated", p.UpdatedAt},
	}
}
