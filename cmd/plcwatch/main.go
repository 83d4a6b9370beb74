// Command plcwatch polls Modbus TCP controllers (or simulated stand-ins),
// decodes their holding registers into engineering values and streams the
// results to WebSocket clients, MQTT and InfluxDB.
//
// Configuration is read from configs/config.yaml unless PLCWATCH_CONFIG
// names another file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/plcwatch-core/migrations"

	"github.com/nerrad567/plcwatch-core/internal/api"
	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/auth"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/plcwatch-core/internal/plc"
)

// Stamped by the release build with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "PLCWATCH_CONFIG"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "plcwatch:", err)
		os.Exit(1)
	}
}

// ─── Teardown ──────────────────────────────────────────────────────

type teardownStep struct {
	what string
	fn   func() error
}

// teardown collects shutdown steps as components come up and runs them
// in reverse order, so whatever started last stops first.
type teardown struct {
	log   *logging.Logger
	steps []teardownStep
}

func (t *teardown) add(what string, fn func() error) {
	t.steps = append(t.steps, teardownStep{what: what, fn: fn})
}

// addFunc registers a step that cannot fail.
func (t *teardown) addFunc(what string, fn func()) {
	t.add(what, func() error { fn(); return nil })
}

func (t *teardown) run() {
	for i := len(t.steps) - 1; i >= 0; i-- {
		s := t.steps[i]
		t.log.Debug("shutdown step", "component", s.what)
		if err := s.fn(); err != nil {
			t.log.Error("shutdown step failed", "component", s.what, "error", err)
		}
	}
	t.steps = nil
}

// ─── Startup ───────────────────────────────────────────────────────

// run loads configuration, brings every component up, blocks until ctx
// is cancelled and then tears everything down. A nil return means a
// clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("plcwatch starting", "version", version, "commit", commit, "built", date)

	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("config loaded", "path", path, "log_level", cfg.Logging.Level, "log_format", cfg.Logging.Format)

	down := &teardown{log: log}
	defer func() {
		down.run()
		log.Info("plcwatch stopped")
	}()

	st, err := openStorage(ctx, cfg, log, down)
	if err != nil {
		return err
	}

	mqttClient, influxClient, err := openIntegrations(cfg, log, down)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, log, st, mqttClient, influxClient, down)
	if err != nil {
		return err
	}

	if mqttClient != nil {
		if err := startMQTTBridge(ctx, cfg.Modbus, mqttClient, eng.registry, st.catalogue, eng.bus, eng.health, st.audit, log.Component("modbus"), down); err != nil {
			return err
		}
	}

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.Component("api"),
		Catalogue: st.catalogue,
		Registry:  eng.registry,
		Monitor:   eng.monitor,
		Bus:       eng.bus,
		Users:     st.users,
		Health:    eng.health,
		MQTT:      mqttClient,
		DB:        st.db,
		Gatherer:  eng.prom,
		Audit:     st.audit,
		Version:   version,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	down.add("api", srv.Close)
	log.Info("api listening", "addr", net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)))

	if cfg.Modbus.AutoStart {
		autoStart(ctx, st.catalogue, eng.monitor, log)
	}

	if err := healthCheck(ctx, st.db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("startup health: %w", err)
	}

	log.Info("ready")
	<-ctx.Done()
	log.Info("shutting down", "cause", context.Cause(ctx))
	return nil
}

// getConfigPath honours PLCWATCH_CONFIG and falls back to the bundled
// config file.
func getConfigPath() string {
	if p, ok := os.LookupEnv(configEnvVar); ok && p != "" {
		return p
	}
	return defaultConfigPath
}

// storage is everything backed by the SQLite file.
type storage struct {
	db        *database.DB
	users     *auth.SQLiteUserRepository
	audit     *audit.Recorder
	catalogue *plc.Service
	devices   *plc.SQLiteControllerRepository
}

func openStorage(ctx context.Context, cfg *config.Config, log *logging.Logger, down *teardown) (*storage, error) {
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	down.add("database", db.Close)

	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("database migrate: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	st := &storage{db: db, users: auth.NewUserRepository(db.DB)}
	if _, err := auth.SeedOwner(ctx, st.users, log.Component("auth")); err != nil {
		return nil, fmt.Errorf("owner seed: %w", err)
	}

	st.audit = audit.NewRecorder(audit.NewRepository(db), log.Component("audit"))
	if keep := cfg.GetAuditRetention(); keep > 0 {
		switch n, err := st.audit.Prune(ctx, keep); {
		case err != nil:
			log.Warn("audit prune failed", "error", err)
		case n > 0:
			log.Info("audit entries expired", "count", n, "retention_days", cfg.Audit.RetentionDays)
		}
	}

	st.devices = plc.NewControllerRepository(db)
	st.catalogue = plc.NewService(st.devices, plc.NewRegisterRepository(db))
	st.catalogue.SetLogger(log.Component("plc"))
	st.catalogue.SetForceSimulation(cfg.Modbus.ForceSimulation)
	if cfg.Modbus.ForceSimulation {
		log.Warn("simulation forced for every controller")
	}
	return st, nil
}

// openIntegrations connects the optional MQTT and InfluxDB clients. A
// disabled integration comes back nil.
func openIntegrations(cfg *config.Config, log *logging.Logger, down *teardown) (*mqtt.Client, *influxdb.Client, error) {
	var (
		mc  *mqtt.Client
		ic  *influxdb.Client
		err error
	)

	if cfg.MQTT.Enabled {
		if mc, err = connectMQTT(cfg.MQTT, log); err != nil {
			return nil, nil, err
		}
		down.add("mqtt", mc.Close)
	} else {
		log.Info("mqtt off")
	}

	if cfg.InfluxDB.Enabled {
		if ic, err = influxdb.Connect(cfg.InfluxDB); err != nil {
			return nil, nil, fmt.Errorf("influxdb: %w", err)
		}
		down.add("influxdb", ic.Close)
		ic.SetOnError(func(err error) {
			log.Error("influxdb write failed", "error", err)
		})
		log.Info("influxdb ready", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("influxdb off")
	}
	return mc, ic, nil
}

func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	c, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	mlog := log.Component("mqtt")
	c.SetLogger(mlog)
	c.SetOnConnect(func() { mlog.Info("broker session restored") })
	c.SetOnDisconnect(func(err error) { mlog.Warn("broker session lost", "error", err) })

	mlog.Info("broker connected",
		"broker", net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port)),
		"client_id", cfg.Broker.ClientID)
	return c, nil
}

// engine is the polling side of the service.
type engine struct {
	registry *modbus.Registry
	monitor  *modbus.Monitor
	bus      *modbus.UpdateBus
	health   *modbus.HealthReporter
	prom     *prometheus.Registry
}

func buildEngine(cfg *config.Config, log *logging.Logger, st *storage, mc *mqtt.Client, ic *influxdb.Client, down *teardown) (*engine, error) {
	mb := cfg.Modbus
	elog := log.Component("modbus")
	e := &engine{}

	e.registry = modbus.NewRegistry(modbus.RegistryConfig{
		ConnectTimeout: mb.ConnectTimeout,
		RequestTimeout: mb.RequestTimeout,
		IdleTimeout:    mb.IdleTimeout,
		SimulationTick: mb.SimulationTick,
	})
	e.registry.SetLogger(elog)
	down.addFunc("controller links", e.registry.Close)

	e.bus = modbus.NewUpdateBus(mb.BusQueueSize)
	down.addFunc("update bus", e.bus.Close)

	e.monitor = modbus.NewMonitor(modbus.MonitorConfig{
		Interval:       mb.PollInterval,
		Backoff:        mb.BackoffInterval,
		ConnectTimeout: mb.ConnectTimeout,
	}, e.registry, st.catalogue, e.bus)
	e.monitor.SetLogger(elog)
	down.addFunc("poll loops", e.monitor.Close)

	e.prom = prometheus.NewRegistry()
	e.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := modbus.NewMetrics(e.prom)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	e.monitor.SetMetrics(metrics)
	e.bus.SetDropHook(metrics.SnapshotDropped)
	e.registry.OnRemove(metrics.Forget)

	hc := modbus.HealthReporterConfig{
		Version:  version,
		Interval: mb.HealthInterval,
		Registry: e.registry,
		Monitor:  e.monitor,
	}
	if mc != nil {
		hc.Publisher = mc
	}
	e.health = modbus.NewHealthReporter(hc)
	e.health.SetLogger(elog)

	tracker := plc.NewConnectionTracker(st.devices, 0)
	tracker.SetLogger(log.Component("plc"))
	e.registry.OnRemove(tracker.Forget)

	e.monitor.SetObserver(modbus.Observers{e.health, tracker, influxdb.NewPollRecorder(ic)})
	st.catalogue.SetEngine(e.registry, e.monitor)
	return e, nil
}

// startMQTTBridge mirrors snapshots and health to the broker and accepts
// register writes from it. Everything it starts is registered on down.
func startMQTTBridge(
	ctx context.Context,
	cfg config.ModbusConfig,
	client *mqtt.Client,
	registry *modbus.Registry,
	catalogue *plc.Service,
	bus *modbus.UpdateBus,
	health *modbus.HealthReporter,
	auditLog *audit.Recorder,
	log *logging.Logger,
	down *teardown,
) error {
	if err := health.PublishStarting(); err != nil {
		log.Warn("starting status not published", "error", err)
	}
	health.Start(ctx)
	down.addFunc("health reporter", health.Stop)

	if cfg.PublishSnapshots {
		pub := modbus.NewSnapshotPublisher(bus, client)
		pub.SetLogger(log)
		pub.Start(ctx)
		down.addFunc("snapshot publisher", pub.Stop)
	}

	commands := modbus.NewCommandHandler(registry, catalogue, client, cfg.RequestTimeout)
	commands.SetLogger(log)
	commands.OnWrite(func(controllerID, registerID string, value float64) {
		auditLog.Record(ctx, audit.Entry{
			Action:     audit.ActionWrite,
			EntityType: audit.EntityRegister,
			EntityID:   registerID,
			Source:     audit.SourceMQTT,
			Details:    map[string]any{"controller_id": controllerID, "value": value},
		})
	})

	topic := modbus.CommandSubscribeTopic()
	if err := client.Subscribe(topic, 1, commands.Handle); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	down.add("command subscription", func() error { return client.Unsubscribe(topic) })

	log.Info("mqtt bridge up", "commands", topic, "publish_snapshots", cfg.PublishSnapshots)
	return nil
}

// autoStart begins polling every stored controller. A controller that
// fails to start is logged and skipped.
func autoStart(ctx context.Context, catalogue *plc.Service, monitor *modbus.Monitor, log *logging.Logger) {
	controllers, err := catalogue.ListControllers(ctx)
	if err != nil {
		log.Error("auto-start skipped", "error", err)
		return
	}

	var running int
	for _, c := range controllers {
		err := monitor.Start(ctx, c.ID)
		if err != nil && !errors.Is(err, modbus.ErrAlreadyMonitoring) {
			log.Warn("auto-start failed", "controller_id", c.ID, "error", err)
			continue
		}
		running++
	}
	log.Info("auto-start done", "stored", len(controllers), "monitoring", running)
}

// healthCheck pings the database and whichever optional clients are
// connected. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	type check struct {
		name  string
		check func(context.Context) error
	}
	checks := []check{{"database", db.HealthCheck}}
	if mqttClient != nil {
		checks = append(checks, check{"mqtt", mqttClient.HealthCheck})
	}
	if influxClient != nil {
		checks = append(checks, check{"influxdb", influxClient.HealthCheck})
	}

	for _, p := range checks {
		if err := p.check(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}
