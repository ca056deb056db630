package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/repo"
	"bops/internal/tasklist"
)

type CasePath struct {
	Case string `path:"case" doc:"case id or reference"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Register a submitted case",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*CaseOutput, error) {
		p, err := principalFromRequest(ctx)
		if err != nil {
			return nil, err
		}
		b := input.Body
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			TenantID:             p.TenantID,
			Reference:            b.Reference,
			CaseType:             domain.CaseType(b.CaseType),
			ApplicationType:      b.ApplicationType,
			Description:          b.Description,
			ApplicantName:        b.ApplicantName,
			ApplicantEmail:       b.ApplicantEmail,
			ApplicantPhone:       b.ApplicantPhone,
			AgentEmail:           b.AgentEmail,
			OwnershipCertificate: b.OwnershipCertificate,
			ActorID:              p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if b.AssignedUserID != "" {
			if c, err = e.AssignCase(ctx, c.ID, b.AssignedUserID, p.ActorID); err != nil {
				return nil, handleError(err)
			}
		}
		return &CaseOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, input *struct {
		CaseType string `query:"case_type"`
		Stage    string `query:"stage"`
		Assigned string `query:"assigned_user_id"`
		Archived bool   `query:"include_archived"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		p, err := principalFromRequest(ctx)
		if err != nil {
			return nil, err
		}
		cases, err := e.ListCases(ctx, repo.CaseFilters{
			TenantID:        p.TenantID,
			CaseType:        input.CaseType,
			Stage:           input.Stage,
			AssignedUserID:  input.Assigned,
			IncludeArchived: input.Archived,
			Limit:           input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: nonNil(cases)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case}",
		Summary:     "Get a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*CaseOutput, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		return &CaseOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/assign",
		Summary:     "Assign a case to an officer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body struct {
			UserID string `json:"user_id"`
		} `json:"body"`
	}) (*CaseOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		out, err := e.AssignCase(ctx, c.ID, input.Body.UserID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &CaseOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/archive",
		Summary:     "Archive a case",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body struct {
			Reason string `json:"reason"`
		} `json:"body"`
	}) (*CaseOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		out, err := e.ArchiveCase(ctx, c.ID, input.Body.Reason, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &CaseOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/events",
		Summary:     "Events the case accepts in its current stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		events, err := e.AvailableEvents(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: nonNil(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/events",
		Summary:     "Fire a stage event",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body TransitionRequest `json:"body"`
	}) (*CaseOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		out, err := e.Transition(ctx, engine.TransitionOptions{
			CaseID:          c.ID,
			Event:           domain.Event(input.Body.Event),
			ActorID:         p.ActorID,
			ExpectedVersion: input.Body.ExpectedVersion,
			Comment:         input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &CaseOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audits",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/audits",
		Summary:     "Audit trail of a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CasePath
		Activity string `query:"activity_type"`
		AfterID  int64  `query:"after_id"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Audit `json:"body"`
	}, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		audits, err := e.ListAudits(ctx, repo.AuditFilters{CaseID: c.ID, ActivityType: input.Activity, AfterID: input.AfterID, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Audit `json:"body"`
		}{Body: nonNil(audits)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/notifications",
		Summary:     "Notifications queued for a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		jobs, err := e.Outbox.ListForCase(ctx, e.DB, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]NotificationResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, notificationResponse(j))
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-list",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/tasks",
		Summary:     "Derived task list",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CasePath
		Section string `query:"section" doc:"validation, assessment, review or investigation"`
	}) (*TasksOutput, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		tasks, err := e.TaskList(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Section != "" {
			filtered := tasks[:0]
			for _, t := range tasks {
				if string(t.Section) == input.Section {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}
		return &TasksOutput{Body: nonNil(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-task",
		Method:      http.MethodPut,
		Path:        "/cases/{case}/tasks/{slug}",
		Summary:     "Record the officer's progress on a task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Slug string          `path:"slug"`
		Body MarkTaskRequest `json:"body"`
	}) (*TasksOutput, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		tasks, err := e.MarkTask(ctx, engine.MarkOptions{CaseID: c.ID, Slug: input.Slug, Status: tasklist.Status(input.Body.Status), ActorID: p.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &TasksOutput{Body: nonNil(tasks)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/cases/{case}/documents",
		Summary:     "Documents attached to a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *CasePath) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		c, _, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		docs, err := e.ListDocuments(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: nonNil(docs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-document",
		Method:        http.MethodPost,
		Path:          "/cases/{case}/documents",
		Summary:       "Attach a document",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		Body AttachDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		opts := engine.DocumentOptions{
			CaseID:      c.ID,
			Name:        input.Body.Name,
			ContentType: input.Body.ContentType,
			Tags:        input.Body.Tags,
			ActorID:     p.ActorID,
		}
		if len(input.Body.Content) > 0 {
			opts.Content = bytes.NewReader(input.Body.Content)
		}
		d, err := e.AttachDocument(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-document",
		Method:      http.MethodPost,
		Path:        "/cases/{case}/documents/{document_id}/archive",
		Summary:     "Archive a document",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		CasePath
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		c, p, err := caseFor(ctx, e, input.Case)
		if err != nil {
			return nil, err
		}
		d, err := e.ArchiveDocument(ctx, c.ID, input.DocumentID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})
}
