package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/twincore/internal/bus"
	"github.com/nerrad567/twincore/internal/reconcile"
	"github.com/nerrad567/twincore/internal/twin"
)

// Gateway operation constants.
const (
	// commandTimeout bounds one inbound command's validation round-trip.
	commandTimeout = 5 * time.Second

	// eventQueueSize is the outbound event buffer. Bus handlers must not
	// block the emitter, so events queue here and a forwarding goroutine
	// drains them; a full queue drops the oldest-pending delivery.
	eventQueueSize = 256
)

// Logger interface for dependency injection.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// VirtualWriter applies inbound virtual-write requests. Writes round-trip
// through validation; an error means the twin is unchanged.
// *reconcile.Validator satisfies this interface.
type VirtualWriter interface {
	UpdateGPIOState(ctx context.Context, deviceID string, pin int, value any, mode string) error
	UpdateSensorValue(ctx context.Context, deviceID, sensorID string, value float64) error
}

// TwinSource supplies twin snapshots for board summaries.
// *twin.Registry satisfies this interface.
type TwinSource interface {
	Get(deviceID string) (*twin.Twin, error)
	List() []*twin.Twin
	Count() int
}

// Options holds configuration for creating a gateway.
type Options struct {
	// MQTT is the MQTT client implementation. Required.
	MQTT MQTTClient

	// Writer applies inbound virtual-write commands. Required.
	Writer VirtualWriter

	// Twins supplies snapshots for board summaries. Required.
	Twins TwinSource

	// Bus is the in-process event bus to forward from. Required.
	Bus *bus.Bus

	// QoS is the quality-of-service level for published messages.
	// Zero means QoS 1.
	QoS byte

	// Version is reported in status messages.
	Version string

	// StatusInterval is how often gateway status is published.
	// Zero means the 30 second default.
	StatusInterval time.Duration

	// Logger is an optional structured logger.
	Logger Logger
}

// Gateway bridges the in-process event bus to an MQTT broker: twin
// change events and retained board summaries flow out, virtual-write
// commands flow in and are acknowledged per command.
//
// Thread Safety: All methods are safe for concurrent use.
type Gateway struct {
	mqtt   MQTTClient
	writer VirtualWriter
	twins  TwinSource
	bus    *bus.Bus
	qos    byte

	status *StatusReporter

	// Outbound event queue; onBusEvent feeds, forwardLoop drains.
	events chan bus.Event

	mu          sync.Mutex
	started     bool
	unsubscribe func()

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	boards    atomic.Uint64
	commands  atomic.Uint64
	rejected  atomic.Uint64
}

// Stats holds gateway counters.
type Stats struct {
	// EventsForwarded is the number of twin events published.
	EventsForwarded uint64

	// EventsDropped is the number of events lost to a full queue or a
	// failed publish.
	EventsDropped uint64

	// BoardsPublished is the number of retained board summaries written.
	BoardsPublished uint64

	// CommandsHandled is the number of inbound commands committed.
	CommandsHandled uint64

	// CommandsRejected is the number of inbound commands refused.
	CommandsRejected uint64
}

// New creates a gateway. Call Start to begin forwarding.
func New(opts Options) (*Gateway, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("virtual writer is required")
	}
	if opts.Twins == nil {
		return nil, fmt.Errorf("twin source is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		mqtt:      opts.MQTT,
		writer:    opts.Writer,
		twins:     opts.Twins,
		bus:       opts.Bus,
		qos:       qos,
		events:    make(chan bus.Event, eventQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    logger,
	}

	g.status = NewStatusReporter(StatusReporterConfig{
		Version:   opts.Version,
		Interval:  opts.StatusInterval,
		Publisher: opts.MQTT,
		Source:    g,
	})
	g.status.SetLogger(logger)

	return g, nil
}

// SetLogger sets the logger for gateway operations.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	defer g.loggerMu.Unlock()
	if logger != nil {
		g.logger = logger
		g.status.SetLogger(logger)
	}
}

func (g *Gateway) log() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// Start subscribes to command topics, begins forwarding bus events,
// publishes retained board summaries for every registered twin, and
// starts status reporting. Returns an error if already started.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return fmt.Errorf("gateway already started")
	}

	commandTopic := CommandSubscribeTopic()
	if err := g.mqtt.Subscribe(commandTopic, g.qos, g.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	g.started = true

	g.unsubscribe = g.bus.Subscribe("mqtt-gateway", g.onBusEvent)

	g.wg.Add(1)
	go g.forwardLoop()

	g.publishBoards()

	g.status.Start(g.ctx)

	g.log().Info("gateway started",
		"commands", commandTopic,
		"twins", g.twins.Count())

	return nil
}

// Stop detaches from the event bus, stops the forwarding loop and
// status reporting, and waits for in-flight work. Idempotent.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		unsubscribe := g.unsubscribe
		g.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}

		close(g.done)

		// Cancel gateway context to abort in-flight commands
		g.ctxCancel()

		// Stop status reporting (publishes "stopping" status)
		g.status.Stop()

		g.wg.Wait()

		g.log().Info("gateway stopped")
	})
}

// TwinCount returns the number of registered twins. Part of the
// StatusSource contract.
func (g *Gateway) TwinCount() int {
	return g.twins.Count()
}

// Statistics returns current counters. Part of the StatusSource contract.
func (g *Gateway) Statistics() GatewayStatistics {
	return GatewayStatistics{
		EventsForwarded:  g.forwarded.Load(),
		EventsDropped:    g.dropped.Load(),
		BoardsPublished:  g.boards.Load(),
		CommandsHandled:  g.commands.Load(),
		CommandsRejected: g.rejected.Load(),
	}
}

// Stats returns current gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		EventsForwarded:  g.forwarded.Load(),
		EventsDropped:    g.dropped.Load(),
		BoardsPublished:  g.boards.Load(),
		CommandsHandled:  g.commands.Load(),
		CommandsRejected: g.rejected.Load(),
	}
}

// onBusEvent queues one event for forwarding. Bus delivery is
// synchronous on the emitter's goroutine, so this never blocks: when the
// queue is full the event is dropped and counted.
func (g *Gateway) onBusEvent(ev bus.Event) {
	select {
	case g.events <- ev:
	default:
		g.dropped.Add(1)
		g.log().Warn("event queue full, dropping event",
			"device_id", ev.DeviceID,
			"kind", ev.Kind)
	}
}

// forwardLoop drains the event queue onto the broker.
func (g *Gateway) forwardLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done:
			return
		case ev := <-g.events:
			g.forward(ev)
		}
	}
}

// forward publishes one event, and refreshes the retained board summary
// when the event changed twin configuration.
func (g *Gateway) forward(ev bus.Event) {
	if !topicSafeID(ev.DeviceID) {
		g.dropped.Add(1)
		g.log().Warn("event for topic-unsafe device id dropped", "device_id", ev.DeviceID)
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		g.dropped.Add(1)
		g.log().Error("failed to marshal event", "device_id", ev.DeviceID, "error", err)
		return
	}

	if err := g.mqtt.Publish(EventTopic(ev.DeviceID), payload, g.qos, false); err != nil {
		g.dropped.Add(1)
		g.log().Debug("event publish failed", "device_id", ev.DeviceID, "error", err)
		return
	}
	g.forwarded.Add(1)

	// Display name and simulation settings appear in the retained
	// summary, so configuration changes refresh it.
	if ev.Kind == bus.KindConfigChanged {
		if err := g.PublishBoard(ev.DeviceID); err != nil {
			g.log().Debug("board refresh failed", "device_id", ev.DeviceID, "error", err)
		}
	}
}

// PublishBoard publishes the retained board summary for one twin.
func (g *Gateway) PublishBoard(deviceID string) error {
	if !topicSafeID(deviceID) {
		return ErrUnsafeDeviceID
	}

	t, err := g.twins.Get(deviceID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(NewBoardSummary(t))
	if err != nil {
		return fmt.Errorf("marshal board summary: %w", err)
	}

	if err := g.mqtt.Publish(BoardTopic(deviceID), payload, g.qos, true); err != nil {
		return err
	}
	g.boards.Add(1)
	return nil
}

// RetireTwin clears the retained board summary for a removed twin. New
// subscribers no longer see the stale layout.
func (g *Gateway) RetireTwin(deviceID string) error {
	if !topicSafeID(deviceID) {
		return ErrUnsafeDeviceID
	}
	// An empty retained payload deletes the broker's stored message.
	return g.mqtt.Publish(BoardTopic(deviceID), nil, g.qos, true)
}

// publishBoards publishes retained summaries for every registered twin.
// Failures are logged and skipped; a twin with no summary simply stays
// invisible to late subscribers until its next config change.
func (g *Gateway) publishBoards() {
	for _, t := range g.twins.List() {
		if !topicSafeID(t.DeviceID) {
			g.log().Warn("twin with topic-unsafe device id not announced", "device_id", t.DeviceID)
			continue
		}
		payload, err := json.Marshal(NewBoardSummary(t))
		if err != nil {
			g.log().Error("failed to marshal board summary", "device_id", t.DeviceID, "error", err)
			continue
		}
		if err := g.mqtt.Publish(BoardTopic(t.DeviceID), payload, g.qos, true); err != nil {
			g.log().Debug("board publish failed", "device_id", t.DeviceID, "error", err)
			continue
		}
		g.boards.Add(1)
	}
}

// handleCommand routes one inbound command message by topic.
func (g *Gateway) handleCommand(topic string, payload []byte) {
	deviceID, kind, ok := splitCommandTopic(topic)
	if !ok {
		g.log().Warn("command on unroutable topic", "topic", topic)
		return
	}

	switch kind {
	case commandKindGPIO:
		g.handleGPIO(deviceID, payload)
	case commandKindSensor:
		g.handleSensor(deviceID, payload)
	default:
		g.log().Warn("unknown command kind", "topic", topic, "kind", kind)
	}
}

// handleGPIO decodes and applies one virtual GPIO write.
func (g *Gateway) handleGPIO(deviceID string, payload []byte) {
	var cmd GPIOCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		g.rejected.Add(1)
		g.publishAck(deviceID, NewAckError("", deviceID, commandKindGPIO,
			ErrCodeInvalidPayload, fmt.Sprintf("malformed gpio command: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, commandTimeout)
	defer cancel()

	if err := g.writer.UpdateGPIOState(ctx, deviceID, cmd.Pin, cmd.Value, cmd.Mode); err != nil {
		g.rejected.Add(1)
		code, msg := commandError(err)
		g.publishAck(deviceID, NewAckError(cmd.ID, deviceID, commandKindGPIO, code, msg))
		g.log().Debug("gpio command rejected",
			"device_id", deviceID,
			"pin", cmd.Pin,
			"error", err)
		return
	}

	g.commands.Add(1)
	g.publishAck(deviceID, NewAckAccepted(cmd.ID, deviceID, commandKindGPIO))
}

// handleSensor decodes and applies one sensor override.
func (g *Gateway) handleSensor(deviceID string, payload []byte) {
	var cmd SensorCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		g.rejected.Add(1)
		g.publishAck(deviceID, NewAckError("", deviceID, commandKindSensor,
			ErrCodeInvalidPayload, fmt.Sprintf("malformed sensor command: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, commandTimeout)
	defer cancel()

	if err := g.writer.UpdateSensorValue(ctx, deviceID, cmd.SensorID, cmd.Value); err != nil {
		g.rejected.Add(1)
		code, msg := commandError(err)
		g.publishAck(deviceID, NewAckError(cmd.ID, deviceID, commandKindSensor, code, msg))
		g.log().Debug("sensor command rejected",
			"device_id", deviceID,
			"sensor_id", cmd.SensorID,
			"error", err)
		return
	}

	g.commands.Add(1)
	g.publishAck(deviceID, NewAckAccepted(cmd.ID, deviceID, commandKindSensor))
}

// publishAck publishes a command acknowledgement. Best-effort: a failed
// ack is logged but the command's outcome stands.
func (g *Gateway) publishAck(deviceID string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		g.log().Error("failed to marshal ack", "device_id", deviceID, "error", err)
		return
	}
	if err := g.mqtt.Publish(AckTopic(deviceID), payload, g.qos, false); err != nil {
		g.log().Debug("ack publish failed", "device_id", deviceID, "error", err)
	}
}

// commandError maps a write rejection to its ack error code.
func commandError(err error) (code, message string) {
	switch {
	case errors.Is(err, twin.ErrTwinNotFound):
		return ErrCodeUnknownTwin, err.Error()
	case errors.Is(err, reconcile.ErrInvalidValue):
		return ErrCodeInvalidValue, err.Error()
	case errors.Is(err, reconcile.ErrValidationFailed):
		return ErrCodeValidationFailed, err.Error()
	default:
		return ErrCodeGatewayError, err.Error()
	}
}
