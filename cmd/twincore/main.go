// Twincore - Device Twin Synchronisation Engine
//
// This is the main entry point for the Twincore daemon. Twincore keeps
// in-memory twins of microcontroller boards (pins, buses, sensors,
// actuators) consistent with the real hardware over a slow, lossy,
// line-oriented serial/REPL channel, under a strict physical-first rule:
//   - The hardware is the authority; a twin only holds confirmed state
//   - Virtual writes round-trip through the device before committing
//   - Simulated twins behave identically, minus the hardware
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/twincore/migrations"

	"github.com/nerrad567/twincore/internal/api"
	"github.com/nerrad567/twincore/internal/board"
	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/gateway"
	"github.com/nerrad567/twincore/internal/infrastructure/config"
	"github.com/nerrad567/twincore/internal/infrastructure/database"
	"github.com/nerrad567/twincore/internal/infrastructure/influxdb"
	"github.com/nerrad567/twincore/internal/infrastructure/logging"
	"github.com/nerrad567/twincore/internal/infrastructure/mqtt"
	"github.com/nerrad567/twincore/internal/probe"
	"github.com/nerrad567/twincore/internal/process"
	"github.com/nerrad567/twincore/internal/reconcile"
	"github.com/nerrad567/twincore/internal/repl"
	"github.com/nerrad567/twincore/internal/simulate"
	"github.com/nerrad567/twincore/internal/timeline"
	"github.com/nerrad567/twincore/internal/twin"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Channel proxy readiness probing. A managed proxy needs a moment to
// open the serial port and bind its endpoint before the channel client
// can dial it.
const (
	proxyReadyTimeout      = 30 * time.Second
	proxyReadyPollInterval = 100 * time.Millisecond
	proxyDialTimeout       = 1 * time.Second
)

func main() {
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("twincore %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Twincore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Board templates: the built-in generic fallback, plus any template
	// documents distributed alongside the deployment
	templates := board.NewStore()
	templates.SetLogger(log)
	if _, err := templates.Register(board.GenericTemplate()); err != nil {
		return fmt.Errorf("registering generic template: %w", err)
	}
	if cfg.Templates.Dir != "" {
		if _, err := board.LoadDirectory(cfg.Templates.Dir, templates, log); err != nil {
			return fmt.Errorf("loading template directory: %w", err)
		}
	}
	log.Info("template store initialised", "templates", templates.Count())

	// Generated templates persist across restarts
	cache := board.NewSQLiteCache(db.DB)

	// Core twin state: registry, event bus, timeline recorder
	registry := twin.NewRegistry()
	registry.SetLogger(log)

	eventBus := bus.New()
	eventBus.SetLogger(log)

	recorder := timeline.NewRecorder()

	// Reconciliation: channel attachments, merge engine, write validator
	attachments := reconcile.NewAttachments()

	engine, err := reconcile.NewEngine(reconcile.Options{
		Registry:       registry,
		Bus:            eventBus,
		Timeline:       recorder,
		ThrottleWindow: cfg.GetThrottleWindow(),
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating sync engine: %w", err)
	}

	validator, err := reconcile.NewValidator(reconcile.ValidatorOptions{
		Registry:    registry,
		Bus:         eventBus,
		Attachments: attachments,
		Timeline:    recorder,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating write validator: %w", err)
	}

	// Simulation driver for twins with no hardware behind them
	simulator, err := simulate.New(simulate.Options{
		Registry: registry,
		Writer:   validator,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating simulation driver: %w", err)
	}
	defer func() {
		log.Info("stopping simulation driver")
		simulator.Close()
	}()

	// Start the channel proxy (if managed)
	var proxy *process.Manager
	if cfg.Channel.Proxy.Enabled {
		proxy, err = startChannelProxy(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("starting channel proxy: %w", err)
		}
		defer func() {
			log.Info("stopping channel proxy")
			if stopErr := proxy.Stop(); stopErr != nil {
				log.Error("error stopping channel proxy", "error", stopErr)
			}
		}()
	}

	// Connect the device channel (if configured). Without one, Twincore
	// runs simulation-only: physical twins can be created but stay
	// disconnected, and virtual writes to them fail validation.
	var channel *repl.Client
	var prober *probe.Prober
	var poller *reconcile.Poller
	var generator *probe.Generator
	if cfg.Channel.Connection != "" {
		channel, prober, err = connectChannel(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing channel")
			prober.Close()
			if closeErr := channel.Close(); closeErr != nil {
				log.Error("error closing channel", "error", closeErr)
			}
		}()
		log.Info("channel connected", "endpoint", cfg.Channel.Connection)

		// Templates for unknown boards are introspected over the live channel
		generator = probe.NewGenerator(prober, probe.GeneratorConfig{
			Store:    templates,
			Cache:    cache,
			CacheTTL: cfg.GetTemplateCacheTTL(),
			Logger:   log,
		})

		poller, err = reconcile.NewPoller(reconcile.PollerOptions{
			Attachments: attachments,
			Registry:    registry,
			Engine:      engine,
			Interval:    cfg.GetPollInterval(),
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("creating poller: %w", err)
		}
		if err := poller.Start(); err != nil {
			return fmt.Errorf("starting poller: %w", err)
		}
		defer func() {
			log.Info("stopping poller")
			poller.Stop()
		}()
	} else {
		log.Info("channel disabled, running simulation-only")
	}

	// Connect to MQTT broker (if enabled)
	var mqttClient *mqtt.Client
	var gw *gateway.Gateway
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		// Set up MQTT logging callbacks
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		gw, err = gateway.New(gateway.Options{
			MQTT:    &mqttGatewayAdapter{client: mqttClient},
			Writer:  validator,
			Twins:   registry,
			Bus:     eventBus,
			QoS:     byte(cfg.MQTT.QoS),
			Version: version,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT gateway: %w", err)
		}
		if err := gw.Start(); err != nil {
			return fmt.Errorf("starting MQTT gateway: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT gateway")
			gw.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Telemetry taps: every applied change, and every poll round-trip
		unsubscribe := eventBus.Subscribe("influx-telemetry", func(ev bus.Event) {
			recordTwinEvent(influxClient, ev)
		})
		defer unsubscribe()

		if poller != nil {
			poller.SetOnPoll(func(deviceID string, duration time.Duration, err error) {
				influxClient.WritePollResult(deviceID, duration, err == nil)
			})
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Twin lifecycle fan-out: retained board summaries on the broker and
	// channel attachment for physical twins
	lifecycle := &twinLifecycle{
		boards:      gw,
		attachments: attachments,
		prober:      prober,
		twins:       registry,
		log:         log,
	}

	// API server
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Twins:     registry,
		Templates: templates,
		Cache:     cache,
		Engine:    engine,
		Writer:    validator,
		Poller:    poller,
		Timeline:  recorder,
		Bus:       eventBus,
		Simulator: simulator,
		Boards:    lifecycle,
		Version:   version,
	}
	if generator != nil {
		// Twin creation for unknown boards falls through to introspection
		deps.Source = generator
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, proxy, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// API server, telemetry, gateway/MQTT, poller and channel, proxy,
	// simulation driver, database.

	log.Info("Twincore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TWINCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TWINCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - proxy: Channel proxy manager to check (may be nil if not managed)
//   - server: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, proxy *process.Manager, server *api.Server) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Check channel proxy (if managed)
	if proxy != nil {
		if err := proxy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("channel proxy: %w", err)
		}
	}

	// Check API server
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// Channel health is verified during connectChannel - it dials the
	// endpoint and switches the device REPL to raw mode before returning.

	return nil
}

// startChannelProxy launches the managed serial-to-TCP proxy subprocess
// and waits for its endpoint to accept connections.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *process.Manager: Running proxy manager
//   - error: If the proxy fails to start or never becomes ready
func startChannelProxy(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Manager, error) {
	proxyCfg := process.Config{
		Name:               "channel-proxy",
		Binary:             cfg.Channel.Proxy.Binary,
		Args:               cfg.Channel.Proxy.Args,
		RestartOnFailure:   cfg.Channel.Proxy.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.Channel.Proxy.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.Channel.Proxy.MaxRestartAttempts,
		GracefulTimeout:    time.Duration(cfg.Channel.Proxy.GracefulTimeoutSeconds) * time.Second,
	}

	manager := process.NewManager(proxyCfg)
	manager.SetLogger(log)

	log.Info("starting channel proxy",
		"binary", proxyCfg.Binary,
		"args", strings.Join(proxyCfg.Args, " "),
	)

	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting proxy process: %w", err)
	}

	// Wait for the proxy's endpoint, when the channel actually dials it;
	// proxies can also serve endpoints Twincore does not consume itself.
	if cfg.Channel.Connection != "" {
		if err := waitForProxyReady(ctx, manager, cfg.Channel.Connection, log); err != nil {
			if stopErr := manager.Stop(); stopErr != nil {
				log.Error("error stopping channel proxy", "error", stopErr)
			}
			return nil, err
		}
	}

	log.Info("channel proxy ready", "pid", manager.PID())

	return manager, nil
}

// waitForProxyReady polls the channel endpoint until the proxy accepts
// connections, the proxy process dies, or the timeout expires.
func waitForProxyReady(ctx context.Context, proxy *process.Manager, connection string, log *logging.Logger) error {
	network, address, err := parseEndpoint(connection)
	if err != nil {
		return fmt.Errorf("parsing channel endpoint: %w", err)
	}

	deadline := time.Now().Add(proxyReadyTimeout)

	log.Debug("waiting for channel proxy to accept connections", "address", address)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for channel proxy: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for channel proxy on %s after %v", address, proxyReadyTimeout)
		}

		// Check if the process is still running
		if !proxy.IsRunning() {
			if lastErr := proxy.LastError(); lastErr != nil {
				return fmt.Errorf("channel proxy exited: %w", lastErr)
			}
			return errors.New("channel proxy exited unexpectedly")
		}

		// Try to connect
		conn, err := net.DialTimeout(network, address, proxyDialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(proxyReadyPollInterval)
	}
}

// parseEndpoint splits a channel connection URL into a dialable
// network/address pair.
func parseEndpoint(connection string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(connection, "tcp://"):
		return "tcp", strings.TrimPrefix(connection, "tcp://"), nil
	case strings.HasPrefix(connection, "unix://"):
		return "unix", strings.TrimPrefix(connection, "unix://"), nil
	default:
		return "", "", fmt.Errorf("unsupported channel endpoint: %s", connection)
	}
}

// connectChannel dials the channel endpoint and builds the sentinel
// prober over it.
//
// Parameters:
//   - ctx: Context for connection/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *repl.Client: Connected channel client
//   - *probe.Prober: Sentinel prober installed as the channel's line handler
//   - error: If the connection fails
func connectChannel(ctx context.Context, cfg *config.Config, log *logging.Logger) (*repl.Client, *probe.Prober, error) {
	channel, err := repl.Connect(ctx, repl.Config{
		Connection:     cfg.Channel.Connection,
		ConnectTimeout: time.Duration(cfg.Channel.ConnectTimeout) * time.Second,
		ReadTimeout:    time.Duration(cfg.Channel.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Channel.WriteTimeout) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting channel: %w", err)
	}
	channel.SetLogger(log)

	prober := probe.NewProber(channel, probe.Config{
		PollTimeout:  cfg.GetPollTimeout(),
		ProbeTimeout: cfg.GetIntrospectionTimeout(),
	})
	prober.SetLogger(log)

	return channel, prober, nil
}

// recordTwinEvent writes one twin change to the telemetry sink.
// Configuration edits (display name, simulation settings) are not
// telemetry and are skipped.
func recordTwinEvent(client *influxdb.Client, ev bus.Event) {
	switch ev.Kind {
	case bus.KindPinChanged:
		client.WritePinChange(ev.DeviceID, ev.Payload.Pin.Pin, ev.Payload.Pin.Field, ev.Payload.Pin.Current)
	case bus.KindSensorChanged:
		client.WriteSensorReading(ev.DeviceID, ev.Payload.Sensor.SensorID, ev.Payload.Sensor.Current)
	case bus.KindActuatorChanged:
		client.WriteActuatorChange(ev.DeviceID, ev.Payload.Actuator.ActuatorID, ev.Payload.Actuator.Field, ev.Payload.Actuator.Current)
	case bus.KindConfigChanged:
		// Not telemetry
	}
}

// twinLifecycle fans twin creation and removal out to the collaborators
// that track them: the MQTT gateway's retained board summaries, and the
// channel attachment table that puts physical twins into the poll
// rotation. The API server sees a single BoardNotifier.
type twinLifecycle struct {
	boards      *gateway.Gateway // nil when MQTT is disabled
	attachments *reconcile.Attachments
	prober      *probe.Prober // nil when no channel is configured
	twins       *twin.Registry
	log         *logging.Logger
}

// PublishBoard implements api.BoardNotifier. A freshly created physical
// twin is bound to the channel prober here, entering the poll rotation.
func (l *twinLifecycle) PublishBoard(deviceID string) error {
	l.attachPhysical(deviceID)
	if l.boards == nil {
		return nil
	}
	return l.boards.PublishBoard(deviceID)
}

// RetireTwin implements api.BoardNotifier.
func (l *twinLifecycle) RetireTwin(deviceID string) error {
	l.attachments.Detach(deviceID)
	if l.boards == nil {
		return nil
	}
	return l.boards.RetireTwin(deviceID)
}

// attachPhysical binds a non-simulated twin to the shared channel prober
// and marks it connected. Without a channel, physical twins stay
// disconnected; writes to them fail validation until one is configured.
func (l *twinLifecycle) attachPhysical(deviceID string) {
	if l.prober == nil {
		return
	}

	t, err := l.twins.Get(deviceID)
	if err != nil {
		return
	}
	if t.Simulation.Simulated {
		// A simulated re-creation of a previously physical device must
		// not stay in the poll rotation.
		l.attachments.Detach(deviceID)
		return
	}

	l.attachments.Attach(deviceID, l.prober)
	if err := l.twins.SetConnected(deviceID, true); err != nil {
		l.log.Warn("failed to mark twin connected", "device_id", deviceID, "error", err)
	}

	// Pre-pay the device-side helper deployment so the first poll spends
	// its budget polling. Best effort: the prober redeploys on demand.
	if err := l.prober.Setup(context.Background()); err != nil {
		l.log.Warn("helper deployment deferred to first poll", "device_id", deviceID, "error", err)
	}
}

// mqttGatewayAdapter adapts the infrastructure MQTT client to the
// gateway's MQTTClient interface. The difference is the Subscribe
// handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Gateway expects: func(topic, payload []byte)
type mqttGatewayAdapter struct {
	client *mqtt.Client
}

// Publish implements gateway.MQTTClient.
func (a *mqttGatewayAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements gateway.MQTTClient.
func (a *mqttGatewayAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (gateway handlers publish
	// their own acks rather than returning errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements gateway.MQTTClient.
func (a *mqttGatewayAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
