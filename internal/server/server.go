// Package server implements the mediaoffload HTTP server: lifecycle hooks,
// the settings API and retrieval of media missing from local storage.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediaoffload/mediaoffload/internal/auth"
	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/objectstore"
	"github.com/mediaoffload/mediaoffload/internal/offload"
)

// Server is the mediaoffload HTTP server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router chi.Router
	api    huma.API

	runtime atomic.Pointer[Runtime]
	// settingsMu serializes settings updates so runtimes are swapped in the
	// order their settings were written.
	settingsMu sync.Mutex

	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status    string `json:"status" example:"ok" doc:"Health status"`
	Connected bool   `json:"connected" doc:"Whether the object store is connected"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// UploadInput is the body of the upload hook.
type UploadInput struct {
	Body offload.UploadDescriptor
}

// UploadOutput echoes the descriptor back to the host.
type UploadOutput struct {
	Body offload.UploadDescriptor
}

// DeleteInput is the body of the delete hook. File takes precedence over
// AttachmentID; one of them is required.
type DeleteInput struct {
	Body struct {
		File         string `json:"file,omitempty" required:"false" doc:"Absolute local path of the deleted file"`
		AttachmentID int64  `json:"attachment_id,omitempty" required:"false" minimum:"1" doc:"ID of the deleted attachment"`
	}
}

// SchemaOutput lists the settings form fields in display order.
type SchemaOutput struct {
	Body struct {
		Fields []config.SettingField `json:"fields"`
	}
}

// SettingValue is one setting with its display value.
type SettingValue struct {
	config.SettingField
	Value string `json:"value"`
}

// SettingsOutput is the current settings with sensitive values masked.
type SettingsOutput struct {
	Body struct {
		Settings  []SettingValue `json:"settings"`
		Connected bool           `json:"connected" doc:"Whether the configured bucket is reachable"`
	}
}

// UpdateSettingsInput carries new setting values keyed by name.
type UpdateSettingsInput struct {
	Body map[string]string
}

// UpdateSettingsOutput reports the outcome of re-validating the bucket.
type UpdateSettingsOutput struct {
	Body struct {
		Connected bool     `json:"connected"`
		Missing   []string `json:"missing,omitempty"`
	}
}

// New creates a Server serving initial, and rebuilds the runtime from deps
// whenever the settings change.
func New(cfg *config.Config, deps Deps, initial *Runtime) (*Server, error) {
	if initial == nil {
		return nil, errors.New("server: initial runtime is nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("mediaoffload API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: router,
		api:    api,
	}
	s.runtime.Store(initial)
	s.registerRoutes()
	return s, nil
}

// Runtime returns the active runtime.
func (s *Server) Runtime() *Runtime {
	return s.runtime.Load()
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> auth -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = auth.Middleware(s.cfg.Server.HookToken, "/hooks/", "/settings")(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes. The retrieval catch-all is
// registered last; chi matches the specific routes first.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok", Connected: s.Runtime().Connected}}, nil
	})

	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "hook-upload",
		Method:      http.MethodPost,
		Path:        "/hooks/upload",
		Summary:     "Mirror an uploaded file to the object store",
		Tags:        []string{"Hooks"},
	}, s.handleUpload)

	huma.Register(s.api, huma.Operation{
		OperationID:   "hook-delete",
		Method:        http.MethodPost,
		Path:          "/hooks/delete",
		Summary:       "Remove a deleted file from the object store",
		Tags:          []string{"Hooks"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDelete)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-settings-schema",
		Method:      http.MethodGet,
		Path:        "/settings/schema",
		Summary:     "Settings form fields",
		Tags:        []string{"Settings"},
	}, func(ctx context.Context, input *struct{}) (*SchemaOutput, error) {
		out := &SchemaOutput{}
		out.Body.Fields = config.SettingsSchema
		return out, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Current bucket settings",
		Tags:        []string{"Settings"},
	}, s.handleGetSettings)

	huma.Register(s.api, huma.Operation{
		OperationID: "put-settings",
		Method:      http.MethodPut,
		Path:        "/settings",
		Summary:     "Update bucket settings and reconnect",
		Tags:        []string{"Settings"},
	}, s.handlePutSettings)

	retrieve := func(w http.ResponseWriter, r *http.Request) {
		s.Runtime().Retrieval.Handler().ServeHTTP(w, r)
	}
	s.router.Get("/*", retrieve)
	s.router.Head("/*", retrieve)
}

func (s *Server) handleUpload(ctx context.Context, input *UploadInput) (*UploadOutput, error) {
	return &UploadOutput{Body: s.Runtime().Engine.OnUpload(ctx, input.Body)}, nil
}

func (s *Server) handleDelete(ctx context.Context, input *DeleteInput) (*struct{}, error) {
	engine := s.Runtime().Engine
	switch {
	case input.Body.File != "":
		engine.OnDeletePath(ctx, input.Body.File)
	case input.Body.AttachmentID > 0:
		engine.OnDelete(ctx, input.Body.AttachmentID)
	default:
		return nil, huma.Error422UnprocessableEntity("file or attachment_id is required")
	}
	return nil, nil
}

func (s *Server) handleGetSettings(ctx context.Context, input *struct{}) (*SettingsOutput, error) {
	out := &SettingsOutput{}
	for _, f := range config.SettingsSchema {
		v, err := s.deps.Options.GetOption(ctx, f.Name)
		if err != nil {
			s.deps.Logger.Error("reading settings", "error", err)
			return nil, huma.Error500InternalServerError("reading settings failed")
		}
		out.Body.Settings = append(out.Body.Settings, SettingValue{SettingField: f, Value: config.MaskValue(f, v)})
	}
	out.Body.Connected = s.Runtime().Connected
	return out, nil
}

func (s *Server) handlePutSettings(ctx context.Context, input *UpdateSettingsInput) (*UpdateSettingsOutput, error) {
	values := make(map[string]string, len(input.Body))
	for name, v := range input.Body {
		f, ok := config.LookupField(name)
		if !ok {
			return nil, huma.Error422UnprocessableEntity("unknown setting " + name)
		}
		// A masked value sent back unchanged keeps the stored secret.
		if f.Sensitive && v != "" && v == config.MaskValue(f, v) {
			continue
		}
		values[name] = v
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	// Probe the candidate settings first; nothing is saved when the
	// store faults.
	current, err := config.ReadBucketConfig(ctx, s.deps.Options, s.deps.Storage)
	if err != nil {
		s.deps.Logger.Error("reading settings", "error", err)
		return nil, huma.Error500InternalServerError("reading settings failed")
	}
	rt, err := NewRuntime(ctx, s.deps, current.With(values))
	if err != nil {
		s.deps.Logger.Error("validating bucket", "error", err)
		if errors.Is(err, objectstore.ErrServerFault) {
			return nil, huma.Error502BadGateway("object store failed to answer the bucket probe")
		}
		return nil, huma.Error500InternalServerError("validating settings failed")
	}

	if err := config.WriteBucketSettings(ctx, s.deps.Options, values); err != nil {
		s.deps.Logger.Error("writing settings", "error", err)
		return nil, huma.Error500InternalServerError("writing settings failed")
	}
	s.runtime.Store(rt)

	out := &UpdateSettingsOutput{}
	out.Body.Connected = rt.Connected
	out.Body.Missing = rt.Missing
	return out, nil
}
