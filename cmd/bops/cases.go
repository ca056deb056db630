package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/repo"
	"bops/internal/tasklist"
)

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "case", Short: "Manage cases"}
	cmd.AddCommand(caseCreateCmd())
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseAssignCmd())
	cmd.AddCommand(caseArchiveCmd())
	cmd.AddCommand(caseEventCmd())
	cmd.AddCommand(caseEventsCmd())
	return cmd
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	var caseType, received string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			opts.ActorID = actorID
			opts.CaseType = domain.CaseType(caseType)
			if received != "" {
				at, err := time.Parse(time.DateOnly, received)
				if err != nil {
					return fmt.Errorf("--received must be YYYY-MM-DD: %w", err)
				}
				opts.ReceivedAt = at
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.TenantID = e.Config.Tenant.ID
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&caseType, "type", string(domain.CaseTypePlanningApplication), "planning_application, pre_application or enforcement")
	f.StringVar(&opts.ApplicationType, "application-type", "", "application type from the tenant config")
	f.StringVar(&opts.Reference, "reference", "", "reference (generated when empty)")
	f.StringVar(&opts.Description, "description", "", "description of the proposal")
	f.StringVar(&opts.ApplicantName, "applicant-name", "", "applicant name")
	f.StringVar(&opts.ApplicantEmail, "applicant-email", "", "applicant email")
	f.StringVar(&opts.ApplicantPhone, "applicant-phone", "", "applicant phone")
	f.StringVar(&opts.AgentEmail, "agent-email", "", "agent email")
	f.StringVar(&opts.OwnershipCertificate, "ownership-certificate", "", "ownership certificate type")
	f.StringVar(&received, "received", "", "date received (YYYY-MM-DD, defaults to now)")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.TenantID = e.Config.Tenant.ID
				cases, err := e.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				rows := make([]table.Row, 0, len(cases))
				for _, c := range cases {
					rows = append(rows, table.Row{c.Reference, c.CaseType, c.ApplicationType, c.Stage, optionalString(c.AssignedUserID), c.ReceivedAt})
				}
				printTable(table.Row{"Reference", "Type", "Application", "Stage", "Officer", "Received"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CaseType, "type", "", "case type filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.AssignedUserID, "officer", "", "assigned officer filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "archived", false, "include archived cases")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum number of cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case>",
		Short: "Show a case by id or reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <case> <user-id>",
		Short: "Assign a case officer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				c, err = e.AssignCase(ctx, c.ID, args[1], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseArchiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <case>",
		Short: "Archive a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				c, err = e.ArchiveCase(ctx, c.ID, reason, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "archive reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func caseEventCmd() *cobra.Command {
	var comment string
	var version int
	cmd := &cobra.Command{
		Use:   "event <case> <event>",
		Short: "Fire a workflow event (validate, invalidate, submit, request_correction, determine, withdraw, return, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				c, err = e.Transition(ctx, engine.TransitionOptions{
					CaseID:          c.ID,
					Event:           domain.Event(args[1]),
					ActorID:         actorID,
					ExpectedVersion: version,
					Comment:         comment,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s is now %s\n", c.Reference, c.Stage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment for the audit log")
	cmd.Flags().IntVar(&version, "version", 0, "expected lock version")
	return cmd
}

func caseEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <case>",
		Short: "List the events the case accepts in its current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				events, err := e.AvailableEvents(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				for _, ev := range events {
					fmt.Println(ev)
				}
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Show and mark case tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskMarkCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "list <case>",
		Short: "Show the task list of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				tasks, err := e.TaskList(ctx, c.ID)
				if err != nil {
					return err
				}
				if section != "" {
					filtered := tasks[:0]
					for _, t := range tasks {
						if t.Section == tasklist.Section(section) {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "validation, assessment, review or investigation")
	return cmd
}

func taskMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <case> <slug> <status>",
		Short: "Mark a task not_started, in_progress or completed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				tasks, err := e.MarkTask(ctx, engine.MarkOptions{
					CaseID:  c.ID,
					Slug:    args[1],
					Status:  tasklist.Status(args[2]),
					ActorID: actorID,
				})
				if err != nil {
					return err
				}
				printTasks(tasks)
				return nil
			})
		},
	}
}

func printTasks(tasks []tasklist.Task) {
	if viper.GetBool("json") {
		_ = printJSON(tasks)
		return
	}
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		mandatory := ""
		if t.Mandatory {
			mandatory = "yes"
		}
		rows = append(rows, table.Row{t.Section, t.Slug, t.Title, t.Status, mandatory})
	}
	printTable(table.Row{"Section", "Slug", "Task", "Status", "Mandatory"}, rows)
}

func documentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "document", Short: "Manage case documents"}
	cmd.AddCommand(documentAttachCmd())
	cmd.AddCommand(documentListCmd())
	cmd.AddCommand(documentArchiveCmd())
	return cmd
}

func documentAttachCmd() *cobra.Command {
	var file, name, contentType string
	var tags []string
	cmd := &cobra.Command{
		Use:   "attach <case>",
		Short: "Attach a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			opts := engine.DocumentOptions{Name: name, ContentType: contentType, Tags: tags, ActorID: actorID}
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				opts.Content = f
				if opts.Name == "" {
					opts.Name = filepath.Base(file)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				opts.CaseID = c.ID
				d, err := e.AttachDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to store")
	cmd.Flags().StringVar(&name, "name", "", "document name (defaults to the file name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "document tag (repeatable)")
	return cmd
}

func documentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case>",
		Short: "List documents of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				docs, err := e.ListDocuments(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				rows := make([]table.Row, 0, len(docs))
				for _, d := range docs {
					rows = append(rows, table.Row{d.ID, d.Name, d.Tags, d.Active, d.CreatedAt})
				}
				printTable(table.Row{"ID", "Name", "Tags", "Active", "Created"}, rows)
				return nil
			})
		},
	}
}

func documentArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <case> <document-id>",
		Short: "Archive a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				d, err := e.ArchiveDocument(ctx, c.ID, args[1], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Read the audit log"}
	cmd.AddCommand(auditListCmd())
	return cmd
}

func auditListCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "list <case>",
		Short: "List audit entries of a case, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				f.CaseID = c.ID
				audits, err := e.ListAudits(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(audits)
				}
				rows := make([]table.Row, 0, len(audits))
				for _, a := range audits {
					rows = append(rows, table.Row{a.ID, a.CreatedAt, a.ActorID, a.ActivityType, a.Comment})
				}
				printTable(table.Row{"ID", "At", "Actor", "Activity", "Comment"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ActivityType, "type", "", "activity type filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	cmd.Flags().Int64Var(&f.AfterID, "after", 0, "only entries after this id")
	cmd.Flags().IntVar(&f.Limit, "n", 50, "number of entries")
	return cmd
}
