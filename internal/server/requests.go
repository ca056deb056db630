package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/repo"
)

type RequestPath struct {
	RequestID string `path:"request_id"`
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/cases/{case}/requests",
		Summary:       "Raise a validation or change request",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body CreateRequestRequest `json:"body"`
	}) (*RequestOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		proposed, err := rawJSON("proposed", input.Body.Proposed)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		v, err := e.CreateRequest(ctx, engine.RequestCreateOptions{
			CaseID:   c.ID,
			Category: domain.RequestCategory(input.Body.Category),
			Reason:   input.Body.Reason,
			Proposed: proposed,
			TargetID: input.Body.TargetID,
			ActorID:  p.ActorID,
			SendNow:  input.Body.Send,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &RequestOutput{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/requests",
		Summary:     "Validation requests of a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CasePath
		Category string `query:"category"`
		State    string `query:"state"`
	}) (*struct {
		Body []domain.ValidationRequest `json:"body"`
	}, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		items, err := e.ListRequests(ctx, repo.RequestFilters{CaseID: c.ID, Category: input.Category, State: input.State})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ValidationRequest `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get a validation request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *RequestPath) (*RequestOutput, error) {
		v, _, err := requestFor(ctx, e, input.RequestID)
		if err != nil {
			return nil, err
		}
		return &RequestOutput{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/send",
		Summary:     "Send a pending request to the applicant",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *RequestPath) (*RequestOutput, error) {
		v, p, err := requestFor(ctx, e, input.RequestID)
		if err != nil {
			return nil, err
		}
		out, err := e.SendRequest(ctx, v.ID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &RequestOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/response",
		Summary:     "Record the applicant's response",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body RespondRequestRequest `json:"body"`
	}) (*RequestOutput, error) {
		v, p, err := requestFor(ctx, e, input.RequestID)
		if err != nil {
			return nil, err
		}
		raw, err := rawJSON("response", input.Body.Response)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		out, err := e.RespondRequest(ctx, engine.RequestRespondOptions{RequestID: v.ID, Response: raw, ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &RequestOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/cancel",
		Summary:     "Cancel a request",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body CancelRequestRequest `json:"body"`
	}) (*RequestOutput, error) {
		v, p, err := requestFor(ctx, e, input.RequestID)
		if err != nil {
			return nil, err
		}
		out, err := e.CancelRequest(ctx, engine.RequestCancelOptions{RequestID: v.ID, Reason: input.Body.Reason, ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &RequestOutput{Body: out}, nil
	})
}
