package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/template"
)

var rootCmd = &cobra.Command{
	Use:   "tk",
	Short: "Taskline CLI",
	Long: `Taskline is an embedded, dependency-aware issue tracker.
Issues carry per-type workflows; blocks-type dependencies drive the ready
queue; every change lands in an append-only event log with undo.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(closeCmd())
	rootCmd.AddCommand(reopenCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(blockedCmd())
	rootCmd.AddCommand(pathCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(commentsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(compactCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(configCmd())
}

func actor() string { return viper.GetString("actor") }

func createCmd() *cobra.Command {
	var opts engine.CreateOptions
	var priority int
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Title = args[0]
				opts.Actor = actor()
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				issue, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "explicit issue id")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "issue type (task, bug, feature, epic, chore)")
	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "description")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "freeform notes")
	cmd.Flags().IntVarP(&priority, "priority", "p", 2, "priority 0 (highest) to 4")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent issue id")
	cmd.Flags().StringVarP(&opts.Assignee, "assignee", "a", "", "assignee")
	cmd.Flags().StringSliceVar(&opts.Labels, "label", nil, "labels")
	cmd.Flags().StringSliceVar(&opts.DependsOn, "depends-on", nil, "blocker issue ids")
	cmd.Flags().StringToStringVar(&opts.Fields, "field", nil, "workflow fields (key=value)")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue with its derived attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	var f repo.IssueFilter
	var priority int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cmd.Flags().Changed("priority") {
					f.Priority = &priority
				}
				issues, err := e.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				renderIssueTable(issues)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&f.Status, "status", "s", "", "status filter")
	cmd.Flags().StringVarP(&f.Type, "type", "t", "", "type filter")
	cmd.Flags().StringVarP(&f.Assignee, "assignee", "a", "", "assignee filter")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "priority filter")
	cmd.Flags().StringVar(&f.Label, "label", "", "label filter")
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent issue id")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func updateCmd() *cobra.Command {
	var title, description, notes, status, assignee, parent string
	var priority int
	var fields map[string]string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update issue fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateOptions{Actor: actor(), Fields: fields}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("notes") {
					opts.Notes = &notes
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("assignee") {
					opts.Assignee = &assignee
				}
				if cmd.Flags().Changed("parent") {
					opts.ParentID = &parent
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				issue, err := e.Update(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	cmd.Flags().StringVarP(&status, "status", "s", "", "new status")
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "new assignee")
	cmd.Flags().StringVar(&parent, "parent", "", "new parent (empty to clear)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 2, "new priority")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "workflow fields (key=value, empty value deletes)")
	return cmd
}

func closeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "close <id>...",
		Short: "Close one or more issues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(args) == 1 {
					issue, err := e.Close(ctx, args[0], reason, actor())
					if err != nil {
						return err
					}
					return printJSONOrTable(issue)
				}
				res := e.BatchClose(ctx, args, reason, actor())
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "close reason")
	return cmd
}

func reopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.Reopen(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full text search over titles and descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issues, err := e.Search(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				renderIssueTable(issues)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an unassigned issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.Claim(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	return cmd
}

func releaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claim you hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.Release(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	return cmd
}

func nextCmd() *cobra.Command {
	var f repo.IssueFilter
	var priority int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the highest-priority ready issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cmd.Flags().Changed("priority") {
					f.Priority = &priority
				}
				issue, ok, err := e.ClaimNext(ctx, actor(), f)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no ready issues")
					return nil
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVarP(&f.Type, "type", "t", "", "type filter")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "priority filter")
	cmd.Flags().StringVar(&f.Label, "label", "", "label filter")
	return cmd
}

func depCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Manage dependencies"}
	add := &cobra.Command{
		Use:   "add <id> <depends-on>",
		Short: "Record that an issue is blocked by another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Graph.AddDependency(ctx, args[0], args[1], actor()); err != nil {
					return err
				}
				fmt.Printf("%s now depends on %s\n", args[0], args[1])
				return nil
			})
		},
	}
	remove := &cobra.Command{
		Use:   "remove <id> <depends-on>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				removed, err := e.Graph.RemoveDependency(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				if removed {
					fmt.Printf("removed dependency %s -> %s\n", args[0], args[1])
				} else {
					fmt.Println("no such dependency")
				}
				return nil
			})
		},
	}
	dep.AddCommand(add)
	dep.AddCommand(remove)
	return dep
}

func readyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List issues ready to work on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issues, err := e.Graph.Ready(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				renderIssueTable(issues)
				return nil
			})
		},
	}
	return cmd
}

func blockedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "List issues waiting on blockers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				blocked, err := e.Graph.Blocked(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(blocked)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Blocked By"})
				for _, b := range blocked {
					tw.AppendRow(table.Row{b.ID, b.Title, b.Priority, strings.Join(b.BlockedBy, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func pathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show the critical path through open work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				path, err := e.Graph.CriticalPath(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(path)
				}
				if len(path) == 0 {
					fmt.Println("no dependency chains")
					return nil
				}
				for i, issue := range path {
					fmt.Printf("%d. %s  %s [%s]\n", i+1, issue.ID, issue.Title, issue.Status)
				}
				return nil
			})
		},
	}
	return cmd
}

func labelCmd() *cobra.Command {
	label := &cobra.Command{Use: "label", Short: "Manage labels"}
	add := &cobra.Command{
		Use:   "add <id> <label>",
		Short: "Attach a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddLabel(ctx, args[0], args[1], actor())
			})
		},
	}
	remove := &cobra.Command{
		Use:   "remove <id> <label>",
		Short: "Detach a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveLabel(ctx, args[0], args[1], actor())
			})
		},
	}
	label.AddCommand(add)
	label.AddCommand(remove)
	return label
}

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Comment(ctx, args[0], actor(), args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func commentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments <id>",
		Short: "List an issue's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comments, err := e.Comments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(comments)
				}
				for _, c := range comments {
					fmt.Printf("[%s] %s: %s\n", c.CreatedAt, c.Author, c.Text)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show an issue's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evs, err := e.Log(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Actor", "Old", "New", "At"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.EventType, ev.Actor, deref(ev.OldValue), deref(ev.NewValue), ev.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func undoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <id>",
		Short: "Undo the last reversible change to an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.UndoLast(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events across all issues since a timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since == "" {
				return fmt.Errorf("--since required (RFC3339 timestamp)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evs, err := e.EventsSince(ctx, since)
				if err != nil {
					return err
				}
				return printJSONOrTable(evs)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "lower bound timestamp")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Check an issue against its workflow template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.ValidateIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the store as JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w := os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return e.ExportAll(ctx, w)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSONL export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				res, err := e.ImportAll(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func archiveCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive issues closed before a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if before == "" {
				return fmt.Errorf("--before required (RFC3339 timestamp)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.ArchiveClosed(ctx, before, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"archived": ids})
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "archive issues closed at or before this time")
	return cmd
}

func compactCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "compact <id>",
		Short: "Trim an archived issue's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				removed, err := e.CompactEvents(ctx, args[0], keep, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"removed": removed})
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "events to retain")
	return cmd
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Inspect workflow templates"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered issue types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Registry.Types())
			})
		},
	}
	show := &cobra.Command{
		Use:   "show <type>",
		Short: "Show a type's workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, ok := e.Registry.Get(args[0])
				if !ok {
					return fmt.Errorf("no template for type %s", args[0])
				}
				return printJSONOrTable(t)
			})
		},
	}
	transitions := &cobra.Command{
		Use:   "transitions <id>",
		Short: "Show where an issue can move next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				trs, err := e.ValidTransitionsFor(ctx, args[0])
				if err != nil {
					return err
				}
				if trs == nil {
					fmt.Println("type is unregistered, any state is accepted")
					return nil
				}
				return printJSONOrTable(trs)
			})
		},
	}
	tpl.AddCommand(list)
	tpl.AddCommand(show)
	tpl.AddCommand(transitions)
	return tpl
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.SetConfig(ctx, args[0], args[1])
			})
		},
	}
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Repo.GetConfig(ctx, args[0])
				if err == repo.ErrNotFound {
					return fmt.Errorf("config key %s not set", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			})
		},
	}
	cfg.AddCommand(set)
	cfg.AddCommand(get)
	return cfg
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	registry, err := loadRegistry(workspace)
	if err != nil {
		return err
	}
	e, err := engine.New(conn, registry)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

// loadRegistry layers the built-in pack under any workspace overrides in
// .taskline/templates.
func loadRegistry(workspace string) (*template.Registry, error) {
	sources := []template.Source{template.BuiltinSource()}
	extra, err := template.LoadDir(filepath.Join(workspace, ".taskline", "templates"))
	if err != nil {
		return nil, err
	}
	sources = append(sources, extra...)
	registry := template.NewRegistry()
	if err := registry.Load(sources, nil); err != nil {
		return nil, err
	}
	return registry, nil
}

func renderIssueTable(issues []domain.Issue) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "P", "Assignee"})
	for _, i := range issues {
		tw.AppendRow(table.Row{i.ID, i.Title, i.Type, i.Status, i.Priority, i.Assignee})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
