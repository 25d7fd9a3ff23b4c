package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"playbooks/internal/app"
	"playbooks/internal/config"
	"playbooks/internal/domain"
	"playbooks/internal/mcp"
	"playbooks/internal/reqctx"
	"playbooks/internal/repo"
	"playbooks/internal/server"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Playbook counts by status and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				o, err := st.Engine.Dashboard.Overview(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), o)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Playbooks: %d\n", o.Total)
				for _, s := range domain.Statuses {
					fmt.Fprintf(w, "  %s: %d\n", s, o.Counts[s])
				}
				fmt.Fprintln(w, "Recent:")
				for _, p := range o.Playbooks {
					fmt.Fprintf(w, "  %s  %s [%s %s]\n", p.ID, p.Name, p.Status, p.Version)
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit feed",
		Long:  "Everything you did to your playbooks: creations, edits, releases, deletions and views.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var action string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(ctx context.Context, st *app.Stack) error {
				f.ActionType = domain.ActionType(action)
				evs, err := st.Engine.Dashboard.Feed(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(evs))
				for _, ev := range evs {
					rows = append(rows, table.Row{ev.ID, ev.Timestamp, ev.ActionType, ev.PlaybookID, ev.Description})
				}
				return printTable(cmd, evs, table.Row{"ID", "Time", "Action", "Playbook", "Description"}, rows)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&action, "type", "", "action type filter")
	cmd.Flags().StringVar(&f.PlaybookID, "playbook", "", "playbook filter")
	cmd.Flags().Int64Var(&f.Cursor, "before", 0, "only events with a smaller id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration (playbooks.yml)"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate playbooks.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default playbooks.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server (JSON API under /api/v1 and form pages)",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if viper.GetString("log-format") == "" {
				viper.Set("log-format", "console")
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			secret := os.Getenv(cfg.Auth.JWTSecretEnv)
			if secret == "" {
				return fmt.Errorf("%s is required to sign session tokens", cfg.Auth.JWTSecretEnv)
			}
			st, err := app.Open(cmd.Context(), workspace, cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()
			handler, err := server.New(server.Config{
				Engine:   st.Engine,
				Sessions: st.Sessions,
				Log:      log,
				Auth: server.AuthConfig{
					JWTSecret: secret,
					DevLogin:  cfg.Auth.DevLogin,
					TokenTTL:  cfg.Auth.TokenTTL.Duration,
				},
				SessionTTL:  cfg.Session.Expiry.Duration,
				RememberTTL: cfg.Session.RememberMe.Duration,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving playbooks", "addr", addr, "openapi", "/openapi.json", "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			if n := reqctx.Open(); n > 0 {
				log.Warn("requests still open at shutdown", "count", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve playbook tools over stdio (Model Context Protocol)",
		Long:  "Serve playbook tools over stdio. Every call acts as the --user account; logs go to stderr.",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			st, err := app.Open(cmd.Context(), workspace, cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()
			_, u, err := st.AsUser(cmd.Context(), viper.GetString("user"))
			if err != nil {
				return err
			}
			return mcp.NewServer(st.Engine, u, version, log).Run(cmd.Context())
		},
	}
}
