package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bops/internal/domain"
	"bops/internal/engine"
)

type ItemPath struct {
	ItemID string `path:"item_id"`
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/items/{kind}",
		Summary:     "Ordered items of one kind",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CasePath
		Kind string `path:"kind" enum:"condition,consideration,term,informative"`
	}) (*ItemsOutput, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		items, err := e.ListItems(ctx, c.ID, domain.ItemKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		return &ItemsOutput{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-item",
		Method:        http.MethodPost,
		Path:          "/cases/{case}/items",
		Summary:       "Add a condition, consideration, term or informative",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body CreateItemRequest `json:"body"`
	}) (*ItemOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		it, err := e.AddItem(ctx, engine.ItemOptions{
			CaseID:   c.ID,
			Kind:     domain.ItemKind(input.Body.Kind),
			Title:    input.Body.Title,
			Text:     input.Body.Text,
			Position: input.Body.Position,
			ActorID:  p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &ItemOutput{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-item",
		Method:      http.MethodPatch,
		Path:        "/items/{item_id}",
		Summary:     "Change an item's wording",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ItemPath
		Body EditItemRequest `json:"body"`
	}) (*ItemOutput, error) {
		it, p, err := itemFor(ctx, e, input.ItemID)
		if err != nil {
			return nil, err
		}
		out, err := e.EditItem(ctx, engine.EditItemOptions{ItemID: it.ID, Title: input.Body.Title, Text: input.Body.Text, ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &ItemOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/move",
		Summary:     "Move an item to a new position",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ItemPath
		Body MoveItemRequest `json:"body"`
	}) (*ItemsOutput, error) {
		it, p, err := itemFor(ctx, e, input.ItemID)
		if err != nil {
			return nil, err
		}
		items, err := e.MoveItem(ctx, it.ID, input.Body.Position, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ItemsOutput{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-item",
		Method:      http.MethodDelete,
		Path:        "/items/{item_id}",
		Summary:     "Remove an item and close the gap",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *ItemPath) (*ItemsOutput, error) {
		it, p, err := itemFor(ctx, e, input.ItemID)
		if err != nil {
			return nil, err
		}
		items, err := e.RemoveItem(ctx, it.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ItemsOutput{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "flag-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/reviewer-edited",
		Summary:     "Flag an item as edited by the reviewer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *ItemPath) (*ItemOutput, error) {
		it, p, err := itemFor(ctx, e, input.ItemID)
		if err != nil {
			return nil, err
		}
		out, err := e.MarkReviewerEdited(ctx, it.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ItemOutput{Body: out}, nil
	})
}

func registerReview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-recommendation",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/recommendation",
		Summary:     "Current recommendation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*RecommendationOutput, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		rec, err := e.GetRecommendation(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &RecommendationOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-recommendation",
		Method:      http.MethodPut,
		Path:        "/cases/{case}/recommendation",
		Summary:     "Save the officer's recommendation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body RecommendationRequest `json:"body"`
	}) (*RecommendationOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		rec, err := e.SaveRecommendation(ctx, engine.RecommendationOptions{
			CaseID: c.ID, Decision: input.Body.Decision, Comment: input.Body.Comment, Draft: input.Body.Draft, ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &RecommendationOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-recommendation",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/recommendation/submit",
		Summary:     "Submit the recommendation for review",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body *VersionRequest `json:"body,omitempty" required:"false"`
	}) (*CaseOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		version := 0
		if input.Body != nil {
			version = input.Body.ExpectedVersion
		}
		out, err := e.SubmitRecommendation(ctx, c.ID, p.ActorID, version)
		if err != nil {
			return nil, handleError(err)
		}
		return &CaseOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-review",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/review/start",
		Summary:     "Reviewer picks up the recommendation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *CasePath) (*RecommendationOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		rec, err := e.StartReview(ctx, c.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &RecommendationOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-challenge",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/review/challenge",
		Summary:     "Agree with or challenge the recommendation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body ChallengeRequest `json:"body"`
	}) (*RecommendationOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		rec, err := e.RecordChallenge(ctx, engine.ChallengeOptions{CaseID: c.ID, Challenged: input.Body.Challenged, Comment: input.Body.Comment, ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &RecommendationOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-review",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/review/complete",
		Summary:     "Complete the review",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *CasePath) (*RecommendationOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		rec, err := e.CompleteReview(ctx, c.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &RecommendationOutput{Body: rec}, nil
	})
}
