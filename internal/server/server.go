package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/engine/auth"
	"bops/internal/metrics"
	"bops/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"event determine is not allowed from stage in_assessment"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the case API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are client errors, not workflow ones.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("BOPS API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerUsers(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerReview(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		forbidden  auth.ForbiddenError
		transition engine.InvalidTransitionError
		pre        engine.PreconditionNotMetError
		dup        engine.DuplicateOpenRequestError
		conflict   engine.ConcurrentModificationError
		closed     engine.AlreadyClosedError
		contact    engine.MissingContactError
		side       engine.SideEffectError
	)
	switch {
	case errors.As(err, &forbidden):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": forbidden.Role})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &transition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": transition.From, "event": transition.Event})
	case errors.As(err, &dup):
		return newAPIError(http.StatusConflict, "duplicate_open_request", err.Error(), map[string]any{"category": dup.Category})
	case errors.As(err, &conflict):
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), nil)
	case errors.As(err, &closed):
		return newAPIError(http.StatusConflict, "already_closed", err.Error(), map[string]any{"state": closed.State})
	case errors.Is(err, engine.ErrCaseArchived):
		return newAPIError(http.StatusConflict, "case_archived", err.Error(), nil)
	case errors.As(err, &pre):
		return newAPIError(http.StatusUnprocessableEntity, "precondition_not_met", err.Error(), map[string]any{"slug": pre.Slug})
	case errors.As(err, &contact):
		return newAPIError(http.StatusUnprocessableEntity, "missing_contact", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidPayload):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.As(err, &side):
		return newAPIError(http.StatusInternalServerError, "side_effect_failed", "side effect failed", map[string]any{"effect": side.Effect})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// caseFor resolves a case id or reference within the caller's tenant.
func caseFor(ctx context.Context, e engine.Engine, idOrReference string) (domain.Case, Principal, error) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return domain.Case{}, Principal{}, err
	}
	c, err := e.FindCase(ctx, p.TenantID, idOrReference)
	if err != nil {
		return domain.Case{}, p, handleError(err)
	}
	if c.TenantID != p.TenantID {
		return domain.Case{}, p, handleError(fmt.Errorf("case %s: %w", idOrReference, repo.ErrNotFound))
	}
	return c, p, nil
}

// requestFor loads a validation request and checks it belongs to the caller's tenant.
func requestFor(ctx context.Context, e engine.Engine, id string) (domain.ValidationRequest, Principal, error) {
	v, err := e.GetRequest(ctx, id)
	if err != nil {
		return domain.ValidationRequest{}, Principal{}, handleError(err)
	}
	_, p, err := caseFor(ctx, e, v.CaseID)
	return v, p, err
}

func itemFor(ctx context.Context, e engine.Engine, id string) (domain.OrderedItem, Principal, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return domain.OrderedItem{}, Principal{}, handleError(err)
	}
	_, p, err := caseFor(ctx, e, it.CaseID)
	return it, p, err
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>BOPS API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*UserOutput, error) {
		p, err := principalFromRequest(ctx)
		if err != nil {
			return nil, err
		}
		u, err := e.Repo.GetUser(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &UserOutput{Body: u}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for a user",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signToken(cfg.JWTSecret, actor, cfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a user in the caller's tenant",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*UserOutput, error) {
		p, err := principalFromRequest(ctx)
		if err != nil {
			return nil, err
		}
		if !auth.HasRole(p.Actor(), auth.RoleAdministrator) {
			return nil, handleError(auth.ForbiddenError{ActorID: p.ActorID, Role: auth.RoleAdministrator})
		}
		u, err := e.CreateUser(ctx, engine.UserOptions{
			ID: input.Body.ID, TenantID: p.TenantID, Name: input.Body.Name, Email: input.Body.Email, Role: input.Body.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &UserOutput{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users of the caller's tenant",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		p, err := principalFromRequest(ctx)
		if err != nil {
			return nil, err
		}
		users, err := e.Repo.ListUsers(ctx, p.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNil(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-role",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/role",
		Summary:     "Change a user's role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Body   struct {
			Role string `json:"role" enum:"assessor,reviewer,administrator"`
		} `json:"body"`
	}) (*UserOutput, error) {
		p, err := principalFromRequest(ctx)
		if err != nil {
			return nil, err
		}
		u, err := e.SetUserRole(ctx, input.UserID, input.Body.Role, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &UserOutput{Body: u}, nil
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
