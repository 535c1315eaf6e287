package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marqueehq/marquee-core/internal/audit"
	"github.com/marqueehq/marquee-core/internal/device"
	"github.com/marqueehq/marquee-core/internal/fleet"
	"github.com/marqueehq/marquee-core/internal/infrastructure/config"
	"github.com/marqueehq/marquee-core/internal/infrastructure/logging"
	"github.com/marqueehq/marquee-core/internal/protocol"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Channel    config.ChannelConfig
	RateLimit  config.RateLimitConfig
	Logger     *logging.Logger
	Devices    *device.Store
	Pairing    *device.PairingService
	Groups     device.GroupRepository
	Resolver   *device.SettingsResolver
	Registry   *fleet.Registry
	Dispatcher *fleet.Dispatcher
	Queue      *fleet.Queue
	Heartbeat  *fleet.HeartbeatHandler
	Limiter    *protocol.RateLimiter
	Audit      audit.Repository // optional: fleet operation trail
	Version    string
}

// Server is the HTTP API server for Marquee Core.
//
// It manages the HTTP listener, routes, middleware, and the device channel.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	chanCfg    config.ChannelConfig
	rlCfg      config.RateLimitConfig
	logger     *logging.Logger
	devices    *device.Store
	pairing    *device.PairingService
	groups     device.GroupRepository
	resolver   *device.SettingsResolver
	registry   *fleet.Registry
	dispatcher *fleet.Dispatcher
	queue      *fleet.Queue
	heartbeat  *fleet.HeartbeatHandler
	limiter    *protocol.RateLimiter
	auditRepo  audit.Repository
	auditCh    chan *audit.Entry
	version    string
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Heartbeat == nil {
		return nil, fmt.Errorf("heartbeat handler is required")
	}

	return &Server{
		cfg:        deps.Config,
		chanCfg:    deps.Channel,
		rlCfg:      deps.RateLimit,
		logger:     deps.Logger,
		devices:    deps.Devices,
		pairing:    deps.Pairing,
		groups:     deps.Groups,
		resolver:   deps.Resolver,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		queue:      deps.Queue,
		heartbeat:  deps.Heartbeat,
		limiter:    deps.Limiter,
		auditRepo:  deps.Audit,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
		go s.drainAuditLog(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
