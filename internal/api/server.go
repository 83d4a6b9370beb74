package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/auth"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/plcwatch-core/internal/plc"
)

const shutdownGrace = 10 * time.Second

// Deps is everything the server is built from. Health, MQTT, DB,
// Gatherer and Audit may be nil.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Catalogue *plc.Service
	Registry  *modbus.Registry
	Monitor   *modbus.Monitor
	Bus       *modbus.UpdateBus
	Users     auth.UserRepository

	Health   *modbus.HealthReporter
	MQTT     *mqtt.Client
	DB       *database.DB
	Gatherer prometheus.Gatherer
	Audit    *audit.Recorder

	Version string
}

func (d Deps) check() error {
	var missing []error
	need := func(ok bool, what string) {
		if !ok {
			missing = append(missing, errors.New(what+" is required"))
		}
	}
	need(d.Logger != nil, "logger")
	need(d.Catalogue != nil, "plc catalogue")
	need(d.Registry != nil, "modbus registry")
	need(d.Monitor != nil, "modbus monitor")
	need(d.Bus != nil, "update bus")
	need(d.Users != nil, "user repository")
	need(d.Security.JWT.Secret != "", "jwt secret")
	return errors.Join(missing...)
}

// Server serves the REST API, the /ws stream and /metrics.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	catalogue *plc.Service
	registry  *modbus.Registry
	monitor   *modbus.Monitor
	bus       *modbus.UpdateBus
	users     auth.UserRepository
	health    *modbus.HealthReporter
	mqtt      *mqtt.Client
	db        *database.DB
	gatherer  prometheus.Gatherer
	audit     *audit.Recorder
	version   string
	startTime time.Time

	hub     *Hub
	tickets *ticketStore

	server *http.Server
	cancel context.CancelFunc
}

// New checks deps and builds a Server. Nothing runs until Start.
func New(deps Deps) (*Server, error) {
	if err := deps.check(); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	return &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		catalogue: deps.Catalogue,
		registry:  deps.Registry,
		monitor:   deps.Monitor,
		bus:       deps.Bus,
		users:     deps.Users,
		health:    deps.Health,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		gatherer:  deps.Gatherer,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Start binds the listen address, so a port already in use is reported
// here, then serves in the background until Close.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", addr, err)
	}

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.startBackground(ctx)

	tls := s.cfg.TLS
	s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// startBackground runs the WebSocket hub, ticket expiry and the update
// bus relay until Close.
func (s *Server) startBackground(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(ctx)
	go s.tickets.cleanLoop(ctx)
	go s.relaySnapshots(ctx, s.bus.Subscribe())
}

// Close stops background work and drains in-flight requests for up to
// ten seconds.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
