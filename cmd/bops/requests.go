package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/repo"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Manage validation and change requests"}
	cmd.AddCommand(requestCreateCmd())
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestShowCmd())
	cmd.AddCommand(requestSendCmd())
	cmd.AddCommand(requestRespondCmd())
	cmd.AddCommand(requestCancelCmd())
	return cmd
}

func requestCreateCmd() *cobra.Command {
	var category, reason, proposed, target string
	var send bool
	cmd := &cobra.Command{
		Use:   "create <case>",
		Short: "Draft a request, optionally sending it at once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			raw, err := jsonFlag("proposed", proposed)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err := e.CreateRequest(ctx, engine.RequestCreateOptions{
					CaseID:   c.ID,
					Category: domain.RequestCategory(category),
					Reason:   reason,
					Proposed: raw,
					TargetID: target,
					ActorID:  actorID,
					SendNow:  send,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "request category")
	cmd.Flags().StringVar(&reason, "reason", "", "why the change is needed")
	cmd.Flags().StringVar(&proposed, "proposed", "", "proposed value as JSON")
	cmd.Flags().StringVar(&target, "target", "", "document or item the request is about")
	cmd.Flags().BoolVar(&send, "send", false, "send immediately")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list <case>",
		Short: "List requests of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				f.CaseID = c.ID
				items, err := e.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, v := range items {
					rows = append(rows, table.Row{v.ID, v.Category, v.Sequence, v.State, optionalString(v.Deadline), optionalString(v.SupersededBy)})
				}
				printTable(table.Row{"ID", "Category", "Seq", "State", "Deadline", "Superseded by"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := findRequest(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func requestSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <request-id>",
		Short: "Send a pending request to the applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := findRequest(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err = e.SendRequest(ctx, v.ID, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func requestRespondCmd() *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "respond <request-id>",
		Short: "Record the applicant's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			raw, err := jsonFlag("response", response)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := findRequest(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err = e.RespondRequest(ctx, engine.RequestRespondOptions{RequestID: v.ID, Response: raw, ActorID: actorID})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", `response as JSON, e.g. {"approved":true}`)
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func requestCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a pending or open request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := findRequest(ctx, e, args[0])
				if err != nil {
					return err
				}
				v, err = e.CancelRequest(ctx, engine.RequestCancelOptions{RequestID: v.ID, Reason: reason, ActorID: actorID})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancel reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func findRequest(ctx context.Context, e engine.Engine, id string) (domain.ValidationRequest, error) {
	v, err := e.GetRequest(ctx, id)
	if err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("request %s: %w", id, err)
	}
	if _, err := findCase(ctx, e, v.CaseID); err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("request %s: %w", id, repo.ErrNotFound)
	}
	return v, nil
}

func jsonFlag(name, value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("--%s must be valid JSON", name)
	}
	return json.RawMessage(value), nil
}
