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
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"playbooks/internal/engine"
	"playbooks/internal/logger"
	"playbooks/internal/reqctx"
	"playbooks/internal/session"
	"playbooks/internal/validate"
)

const apiBase = "/api/v1"

// Config for the HTTP handler.
type Config struct {
	Engine   *engine.Engine
	Sessions session.Store
	Auth     AuthConfig
	Log      *logger.Logger
	// SessionTTL bounds wizard state; RememberTTL applies when the login form asks to be remembered.
	SessionTTL  time.Duration
	RememberTTL time.Duration
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_error"`
	Message string         `json:"message" example:"validation failed: name: A playbook with this name already exists."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the JSON API error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type server struct {
	cfg Config
	log *logger.Logger
}

// New returns an HTTP handler exposing the JSON API under /api/v1 and the form surface.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 14 * 24 * time.Hour
	}
	if cfg.RememberTTL < cfg.SessionTTL {
		cfg.RememberTTL = 30 * 24 * time.Hour
	}
	s := &server{cfg: cfg, log: cfg.Log}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(s.requestID, s.accessLog, s.recoverer)
	router.Use(newAuthMiddleware(cfg.Auth, cfg.Engine))

	hcfg := huma.DefaultConfig("Playbooks API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, apiBase)

	registerDocs(router)
	registerHealth(group)
	registerPlaybooks(group, cfg.Engine)
	registerStructure(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerUsers(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api)
	s.registerForms(router)

	return router, nil
}

// requestID opens the request context and echoes its id on every response.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, end := reqctx.Begin(r.Context(), r.Header.Get("X-Request-ID"))
		defer end()
		w.Header().Set("X-Request-ID", reqctx.RequestID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.For(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.For(r.Context()).Error("panic serving request", "path", r.URL.Path, "panic", fmt.Sprint(v))
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "", "internal error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
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

// statusFor maps a service failure onto the JSON API status.
func statusFor(code engine.Code) int {
	switch code {
	case engine.CodeNotFound:
		return http.StatusNotFound
	case engine.CodePermissionDenied, engine.CodeReleasedImmutable:
		return http.StatusForbidden
	case engine.CodeValidation:
		return http.StatusUnprocessableEntity
	case engine.CodeInvalidTransition:
		return http.StatusConflict
	case engine.CodeUnauthenticated:
		return http.StatusUnauthorized
	case engine.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	code := engine.CodeOf(err)
	status := statusFor(code)
	var ve *validate.Error
	if errors.As(err, &ve) {
		return newAPIError(status, string(code), err.Error(), map[string]any{"fields": ve.Result.Messages()})
	}
	if status == http.StatusInternalServerError {
		return newAPIError(status, "internal_error", "internal error", nil)
	}
	return newAPIError(status, string(code), err.Error(), nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return string(engine.CodeUnauthenticated)
	case http.StatusNotFound:
		return string(engine.CodeNotFound)
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return string(engine.CodeValidation)
	case http.StatusForbidden:
		return string(engine.CodePermissionDenied)
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

func registerDocs(r chi.Router) {
	r.Get(path.Join(apiBase, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(apiBase, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			describeOperations(oas)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

// unauthenticated routes carry an empty security requirement.
var unauthenticated = map[string]bool{
	path.Join(apiBase, "health"):         true,
	path.Join(apiBase, "auth/dev/login"): true,
	path.Join(apiBase, "users"):          true,
}

// describeOperations adds the bearer scheme and the shared error body to every operation.
func describeOperations(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = bearer
	errBody := &huma.Response{
		Description: "Error",
		Content:     map[string]*huma.MediaType{"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}}},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errBody
			op.Security = bearer
			if unauthenticated[route] {
				op.Security = []map[string][]string{}
			}
		}
	}
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Playbooks API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, path.Join(apiBase, "openapi.json"))
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
