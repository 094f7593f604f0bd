package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// StatusReporter manages periodic gateway status reporting.
// It publishes retained status messages to MQTT at regular intervals.
type StatusReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher StatusPublisher
	source    StatusSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// StatusPublisher is the interface for publishing status messages.
// This is typically implemented by an MQTT client.
type StatusPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// StatusSource supplies the live figures that go into a status message.
// The gateway itself satisfies this interface.
type StatusSource interface {
	// TwinCount returns the number of registered twins.
	TwinCount() int

	// Statistics returns current gateway counters.
	Statistics() GatewayStatistics
}

// StatusReporterConfig holds configuration for the status reporter.
type StatusReporterConfig struct {
	// Version is the engine software version.
	Version string

	// Interval is how often to publish status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher StatusPublisher

	// Source supplies twin counts and counters.
	Source StatusSource
}

// NewStatusReporter creates a new status reporter.
//
// Parameters:
//   - cfg: Configuration for the status reporter
//
// Returns:
//   - *StatusReporter: Ready to start (call Start to begin reporting)
func NewStatusReporter(cfg StatusReporterConfig) *StatusReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &StatusReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Start begins periodic status reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (s *StatusReporter) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.reportLoop(ctx)
}

// Stop gracefully stops status reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (s *StatusReporter) Stop() {
	s.stopOnce.Do(func() {
		// Signal shutdown
		close(s.done)

		// Wait for report loop to finish
		s.wg.Wait()

		// Publish final stopping status (best-effort, ignore errors)
		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		s.publishStatus(StatusStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (s *StatusReporter) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// PublishNow publishes the current status immediately.
// Useful for forcing an update after a significant event.
func (s *StatusReporter) PublishNow() error {
	status, reason := s.determineStatus()
	return s.publishStatus(status, reason)
}

// reportLoop runs the periodic status reporting.
func (s *StatusReporter) reportLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := s.PublishNow(); err != nil {
		s.logError("failed to publish initial status", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.PublishNow(); err != nil {
				s.logError("failed to publish status", err)
			}
		}
	}
}

// determineStatus evaluates the current gateway status.
func (s *StatusReporter) determineStatus() (GatewayStatus, string) {
	// Check MQTT connection
	if s.publisher == nil || !s.publisher.IsConnected() {
		return StatusDegraded, "MQTT disconnected"
	}

	return StatusHealthy, ""
}

// publishStatus publishes a status message.
func (s *StatusReporter) publishStatus(status GatewayStatus, reason string) error {
	if s.publisher == nil {
		return nil // No publisher configured
	}

	msg := StatusMessage{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Reason:        reason,
	}
	if s.source != nil {
		msg.TwinsManaged = s.source.TwinCount()
		stats := s.source.Statistics()
		msg.Statistics = &stats
	}

	// Serialise to JSON
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return s.publisher.Publish(StatusTopic(), payload, 1, true)
}

// logError logs an error if logger is set.
func (s *StatusReporter) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
