package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/repo"
)

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage conditions, considerations, terms and informatives"}
	cmd.AddCommand(itemAddCmd())
	cmd.AddCommand(itemListCmd())
	cmd.AddCommand(itemMoveCmd())
	cmd.AddCommand(itemEditCmd())
	cmd.AddCommand(itemRemoveCmd())
	return cmd
}

func itemAddCmd() *cobra.Command {
	var kind, title, text string
	var position int
	cmd := &cobra.Command{
		Use:   "add <case>",
		Short: "Add an item at a position (appends by default)",
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
				it, err := e.AddItem(ctx, engine.ItemOptions{
					CaseID:   c.ID,
					Kind:     domain.ItemKind(kind),
					Title:    title,
					Text:     text,
					Position: position,
					ActorID:  actorID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "condition, consideration, term or informative")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&text, "text", "", "text")
	cmd.Flags().IntVar(&position, "position", 0, "1-based position")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case> <kind>",
		Short: "List items of one kind in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				items, err := e.ListItems(ctx, c.ID, domain.ItemKind(args[1]))
				if err != nil {
					return err
				}
				printItems(items)
				return nil
			})
		},
	}
}

func itemMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <item-id> <position>",
		Short: "Move an item to a 1-based position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			var to int
			if _, err := fmt.Sscanf(args[1], "%d", &to); err != nil {
				return fmt.Errorf("position must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := findItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				items, err := e.MoveItem(ctx, it.ID, to, actorID)
				if err != nil {
					return err
				}
				printItems(items)
				return nil
			})
		},
	}
}

func itemEditCmd() *cobra.Command {
	var title, text string
	cmd := &cobra.Command{
		Use:   "edit <item-id>",
		Short: "Change an item's wording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := findItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				it, err = e.EditItem(ctx, engine.EditItemOptions{ItemID: it.ID, Title: title, Text: text, ActorID: actorID})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&text, "text", "", "new text")
	return cmd
}

func itemRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove an item and close the gap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := findItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				items, err := e.RemoveItem(ctx, it.ID, actorID)
				if err != nil {
					return err
				}
				printItems(items)
				return nil
			})
		},
	}
}

func findItem(ctx context.Context, e engine.Engine, id string) (domain.OrderedItem, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return domain.OrderedItem{}, fmt.Errorf("item %s: %w", id, err)
	}
	if _, err := findCase(ctx, e, it.CaseID); err != nil {
		return domain.OrderedItem{}, fmt.Errorf("item %s: %w", id, repo.ErrNotFound)
	}
	return it, nil
}

func printItems(items []domain.OrderedItem) {
	if viper.GetBool("json") {
		_ = printJSON(items)
		return
	}
	rows := make([]table.Row, 0, len(items))
	for _, it := range items {
		edited := ""
		if it.ReviewerEdited {
			edited = "reviewer"
		}
		rows = append(rows, table.Row{it.Position, it.ID, it.Title, edited})
	}
	printTable(table.Row{"#", "ID", "Title", "Edited"}, rows)
}

func recommendationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "recommendation", Aliases: []string{"rec"}, Short: "Recommendation and review"}
	cmd.AddCommand(recommendationSaveCmd())
	cmd.AddCommand(recommendationShowCmd())
	cmd.AddCommand(recommendationSubmitCmd())
	cmd.AddCommand(reviewCmd())
	return cmd
}

func recommendationSaveCmd() *cobra.Command {
	var decision, comment string
	var draft bool
	cmd := &cobra.Command{
		Use:   "save <case>",
		Short: "Save the officer's recommendation",
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
				rec, err := e.SaveRecommendation(ctx, engine.RecommendationOptions{
					CaseID:   c.ID,
					Decision: decision,
					Comment:  comment,
					Draft:    draft,
					ActorID:  actorID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "granted or refused")
	cmd.Flags().StringVar(&comment, "comment", "", "officer's summary")
	cmd.Flags().BoolVar(&draft, "draft", false, "keep the recommendation in progress")
	return cmd
}

func recommendationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case>",
		Short: "Show the recommendation and whether the decision can be published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				rec, err := e.GetRecommendation(ctx, c.ID)
				if err != nil {
					return err
				}
				eligible, err := e.EligibleForPublish(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"recommendation": rec, "eligible_for_publish": eligible})
			})
		},
	}
}

func recommendationSubmitCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "submit <case>",
		Short: "Submit the recommendation for review",
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
				c, err = e.SubmitRecommendation(ctx, c.ID, actorID, version)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "expected lock version")
	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Reviewer actions"}
	cmd.AddCommand(reviewStepCmd("start", "Start reviewing the recommendation", func(ctx context.Context, e engine.Engine, caseID, actorID string) (domain.Recommendation, error) {
		return e.StartReview(ctx, caseID, actorID)
	}))
	cmd.AddCommand(reviewChallengeCmd())
	cmd.AddCommand(reviewStepCmd("complete", "Complete the review", func(ctx context.Context, e engine.Engine, caseID, actorID string) (domain.Recommendation, error) {
		return e.CompleteReview(ctx, caseID, actorID)
	}))
	return cmd
}

func reviewStepCmd(use, short string, step func(context.Context, engine.Engine, string, string) (domain.Recommendation, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <case>",
		Short: short,
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
				rec, err := step(ctx, e, c.ID, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func reviewChallengeCmd() *cobra.Command {
	var agree, challenge bool
	var comment string
	cmd := &cobra.Command{
		Use:   "challenge <case>",
		Short: "Record whether the reviewer agrees with the recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agree == challenge {
				return fmt.Errorf("pass exactly one of --agree or --challenge")
			}
			actorID, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := findCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				rec, err := e.RecordChallenge(ctx, engine.ChallengeOptions{
					CaseID:     c.ID,
					Challenged: challenge,
					Comment:    comment,
					ActorID:    actorID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().BoolVar(&agree, "agree", false, "agree with the recommendation")
	cmd.Flags().BoolVar(&challenge, "challenge", false, "challenge the recommendation")
	cmd.Flags().StringVar(&comment, "comment", "", "reviewer comment")
	return cmd
}
