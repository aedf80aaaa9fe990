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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/engine"
	"blueprintcourt/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"voting_closed"`
	Message string         `json:"message" example:"voting closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Blueprint Court API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
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
	hcfg := huma.DefaultConfig("Blueprint Court API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerMilestones(group, cfg.Engine)
	registerDisputes(group, cfg.Engine)
	registerAccounts(group, cfg.Engine)
	registerSweep(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case errors.Is(err, engine.ErrNotEligible):
		return newAPIError(http.StatusForbidden, "not_eligible", msg, nil)
	case errors.Is(err, engine.ErrAlreadyDisputed):
		return newAPIError(http.StatusConflict, "already_disputed", msg, nil)
	case errors.Is(err, engine.ErrAlreadyReported):
		return newAPIError(http.StatusConflict, "already_reported", msg, nil)
	case errors.Is(err, engine.ErrVotingClosed):
		return newAPIError(http.StatusConflict, "voting_closed", msg, nil)
	case errors.Is(err, engine.ErrInvalidState):
		return newAPIError(http.StatusConflict, "invalid_state", msg, nil)
	case errors.Is(err, engine.ErrInsufficientStake):
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_stake", msg, nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Blueprint Court API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		creator := input.Body.CreatorID
		if creator == "" {
			creator = actorID
		}
		p, err := e.CreateProject(ctx, engine.ProjectOptions{
			ID:        input.Body.ID,
			Title:     input.Body.Title,
			CreatorID: creator,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-milestone",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/milestones",
		Summary:       "Create milestone",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      CreateMilestoneRequest `json:"body"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMilestone(ctx, engine.MilestoneOptions{
			ID:         input.Body.ID,
			ProjectID:  input.ProjectID,
			Title:      input.Body.Title,
			TargetDate: input.Body.TargetDate,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: milestoneResponse(m, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/milestones",
		Summary:     "List milestones",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []MilestoneResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMilestones(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]MilestoneResponse, 0, len(items))
		for _, m := range items {
			out = append(out, milestoneResponse(m, nil))
		}
		return &struct {
			Body []MilestoneResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMilestones(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-milestone",
		Method:      http.MethodGet,
		Path:        "/milestones/{milestone_id}",
		Summary:     "Get milestone",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MilestoneID string `path:"milestone_id"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		m, err := e.Repo.GetMilestone(ctx, input.MilestoneID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: milestoneResponse(m, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-result",
		Method:      http.MethodPost,
		Path:        "/milestones/{milestone_id}/report",
		Summary:     "Report milestone result",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		MilestoneID string              `path:"milestone_id"`
		Body        ReportResultRequest `json:"body"`
	}) (*struct {
		Body MilestoneResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ReportResult(ctx, engine.ReportOptions{
			MilestoneID:  input.MilestoneID,
			ReporterID:   actorID,
			Outcome:      input.Body.Outcome,
			EvidenceURL:  input.Body.EvidenceURL,
			EvidenceNote: input.Body.EvidenceNote,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MilestoneResponse `json:"body"`
		}{Body: milestoneResponse(m, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "open-dispute",
		Method:        http.MethodPost,
		Path:          "/milestones/{milestone_id}/disputes",
		Summary:       "Open dispute",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		MilestoneID string             `path:"milestone_id"`
		Body        OpenDisputeRequest `json:"body"`
	}) (*struct {
		Body DisputeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.OpenDispute(ctx, engine.OpenOptions{
			MilestoneID:  input.MilestoneID,
			ChallengerID: actorID,
			Reason:       input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeResponse `json:"body"`
		}{Body: disputeResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invest",
		Method:      http.MethodPost,
		Path:        "/milestones/{milestone_id}/investments",
		Summary:     "Record market investment",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		MilestoneID string        `path:"milestone_id"`
		Body        InvestRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		investor := input.Body.InvestorID
		if investor == "" {
			investor = actorID
		}
		if err := e.Invest(ctx, input.MilestoneID, investor, input.Body.AmountCents, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDisputes(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-active-disputes",
		Method:      http.MethodGet,
		Path:        "/disputes",
		Summary:     "List active disputes by tier",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Tier string `query:"tier" enum:"expert,dao"`
	}) (*struct {
		Body ActiveDisputesResponse `json:"body"`
	}, error) {
		active, err := e.ListActiveDisputes(ctx, input.Tier)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveDisputesResponse `json:"body"`
		}{Body: activeDisputesResponse(active)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dispute",
		Method:      http.MethodGet,
		Path:        "/disputes/{dispute_id}",
		Summary:     "Get dispute detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DisputeID string `path:"dispute_id"`
	}) (*struct {
		Body DisputeDetailResponse `json:"body"`
	}, error) {
		detail, err := e.GetDisputeDetail(ctx, input.DisputeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeDetailResponse `json:"body"`
		}{Body: detailResponse(detail)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dispute-timer",
		Method:      http.MethodGet,
		Path:        "/disputes/{dispute_id}/timer",
		Summary:     "Get dispute countdown",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DisputeID string `path:"dispute_id"`
	}) (*struct {
		Body clockTimerBody `json:"body"`
	}, error) {
		tr, err := e.GetDisputeTimer(ctx, input.DisputeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body clockTimerBody `json:"body"`
		}{Body: clockTimerBody{Hours: tr.Hours, Minutes: tr.Minutes, Seconds: tr.Seconds, IsExpired: tr.IsExpired}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cast-vote",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/votes",
		Summary:     "Cast or replace a ballot",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		DisputeID string          `path:"dispute_id"`
		Body      CastVoteRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CastVote(ctx, input.DisputeID, actorID, input.Body.Choice); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type clockTimerBody struct {
	Hours     int  `json:"hours"`
	Minutes   int  `json:"minutes"`
	Seconds   int  `json:"seconds"`
	IsExpired bool `json:"is_expired"`
}

func registerAccounts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "deposit",
		Method:      http.MethodPost,
		Path:        "/accounts/deposit",
		Summary:     "Credit governance tokens",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body DepositRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		holder := input.Body.HolderID
		if holder == "" {
			holder = actorID
		}
		if err := e.Deposit(ctx, holder, input.Body.Amount, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{holder_id}",
		Summary:     "Get token account",
	}, func(ctx context.Context, input *struct {
		HolderID string `path:"holder_id"`
	}) (*struct {
		Body domain.TokenAccount `json:"body"`
	}, error) {
		acc, err := e.Ledger.Account(ctx, input.HolderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TokenAccount `json:"body"`
		}{Body: acc}, nil
	})
}

func registerSweep(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Finalize expired phases",
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Sweep(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, EventResponse{
				ID: ev.ID, TS: ev.TS, Type: ev.Type, ProjectID: ev.ProjectID,
				EntityKind: ev.EntityKind, EntityID: ev.EntityID, ActorID: ev.ActorID, Payload: ev.Payload,
			})
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAPIKeys(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		plaintext := uuid.New().String()
		key := domain.APIKey{
			ID:        uuid.New().String(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(plaintext),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, CreatedAt: key.CreatedAt, Key: plaintext}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Revoke API key",
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
