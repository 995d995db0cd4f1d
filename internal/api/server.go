package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/detectnode/internal/api/models"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/logging"
	"github.com/smazurov/detectnode/internal/pipeline"
	"github.com/smazurov/detectnode/internal/process"
	"github.com/smazurov/detectnode/internal/relay"
	"github.com/smazurov/detectnode/internal/version"
)

const authRealm = `Basic realm="detectnode API"`

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger

	registry     *process.Registry
	eventBus     *events.Bus
	orchestrator *pipeline.Orchestrator
	planner      *pipeline.Planner
	camera       relay.Slot
	ipCamera     relay.Slot
}

// credentials extracts user:password from the Authorization header or, for
// EventSource and WebSocket clients that cannot set headers, the auth query
// parameter.
func credentials(header, query string) (string, string, error) {
	var encoded string
	switch {
	case header != "":
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "", errors.New("invalid authentication type")
		}
		encoded = header[len(prefix):]
	case query != "":
		encoded = query
	default:
		return "", "", errors.New("authentication required")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", errors.New("invalid credentials format")
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", errors.New("invalid credentials format")
	}
	return user, pass, nil
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		user, pass, err := credentials(ctx.Header("Authorization"), ctx.Query("auth"))
		if err == nil && (user != username || pass != password) {
			err = errors.New("invalid credentials")
		}
		if err != nil {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, err.Error())
			return
		}
		next(ctx)
	}
}

// requireAuth guards plain mux handlers such as the camera socket.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.options.AuthUsername == "" || s.options.AuthPassword == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, err := credentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"))
		if err != nil || user != s.options.AuthUsername || pass != s.options.AuthPassword {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Registry *process.Registry
	EventBus *events.Bus
	// Workers returns the current worker definitions.
	Workers func() config.Workers

	// PrometheusHandler serves GET /metrics when set.
	PrometheusHandler http.Handler

	// Shutdown is called after an admin stop so the supervisor restarts the
	// service. Nil keeps the process running.
	Shutdown func()
	// ShutdownDelay lets the admin stop response reach the client first.
	ShutdownDelay time.Duration
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	if opts.Workers == nil {
		opts.Workers = config.DefaultWorkers
	}
	if opts.Registry == nil {
		opts.Registry = process.NewRegistry(nil)
	}
	if opts.EventBus == nil {
		opts.EventBus = events.New()
	}
	if opts.ShutdownDelay <= 0 {
		opts.ShutdownDelay = time.Second
	}

	mux := http.NewServeMux()

	// Configure CORS
	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	humaConfig := huma.DefaultConfig("detectnode API", version.String())
	humaConfig.Info.Description = "Supervises analysis workers and streams their events"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	humaConfig.Servers = []*huma.Server{}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, humaConfig)

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		logger:   logging.GetLogger("api"),
		registry: opts.Registry,
		eventBus: opts.EventBus,
		orchestrator: pipeline.New(pipeline.Options{
			Registry: opts.Registry,
			Bus:      opts.EventBus,
		}),
		planner: pipeline.NewPlanner(opts.Workers),
	}

	// CORS first, then request logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Prometheus scrapes without auth
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Listen binds addr. Serve must be called with the returned listener, which
// lets the caller signal readiness once the port is open.
func (s *Server) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Serve serves HTTP on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting detectnode API server", "addr", ln.Addr().String())
	s.logger.Info("OpenAPI documentation available", "url", "http://"+ln.Addr().String()+"/docs")

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.Serve(ln)
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Stop shuts the server down. Streaming responses are cut off once ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	s.camera.Stop()
	s.ipCamera.Stop()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	// Health check endpoint - no auth required
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		status, msg := "ok", "API is healthy"
		if s.registry.Stopping() {
			status, msg = "stopping", "Workers are refused until reset"
		}
		return &models.HealthResponse{
			Body: models.HealthData{Status: status, Message: msg},
		}, nil
	})

	// Version endpoint - no auth required
	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				BuildID:   v.BuildID,
				GoVersion: v.GoVersion,
				Compiler:  v.Compiler,
				Platform:  v.Platform,
			},
		}, nil
	})

	s.registerAnalyzeRoutes()
	s.registerCameraRoutes()
	s.registerAdminRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerMetricsRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
