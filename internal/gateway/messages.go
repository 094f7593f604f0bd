package gateway

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/twincore/internal/twin"
)

// MQTT message types for the TwinCore gateway. Outbound payloads (events,
// board summaries, status) are published by the gateway; inbound commands
// are parsed from the twincore/command hierarchy.

// Command kinds, matching the last topic segment of an inbound command.
const (
	commandKindGPIO   = "gpio"
	commandKindSensor = "sensor"
)

// GPIOCommand requests a virtual GPIO write.
// Topic: twincore/command/{device_id}/gpio
//
// Value carries what JSON gives us: bool for a digital level, number for
// an analog count or PWM duty cycle. Mode, when set, must be "input" or
// "output". The write validator applies the full capability and range
// checks; the gateway only decodes.
type GPIOCommand struct {
	// ID correlates this command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	// Pin is the physical pin number.
	Pin int `json:"pin"`

	// Value is the requested level, count or duty cycle.
	Value any `json:"value,omitempty"`

	// Mode optionally reconfigures a digital pin's direction.
	Mode string `json:"mode,omitempty"`
}

// SensorCommand requests a sensor override.
// Topic: twincore/command/{device_id}/sensor
//
// Overrides are only honoured for simulated twins; hardware-backed
// sensors reject them.
type SensorCommand struct {
	// ID correlates this command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	// SensorID names the sensor to override.
	SensorID string `json:"sensor_id"`

	// Value is the reading to force.
	Value float64 `json:"value"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the write was validated and committed.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the write was rejected; Error carries why.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeUnknownTwin      = "UNKNOWN_TWIN"
	ErrCodeInvalidPayload   = "INVALID_PAYLOAD"
	ErrCodeInvalidValue     = "INVALID_VALUE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeGatewayError     = "GATEWAY_ERROR"
)

// AckMessage acknowledges one inbound command.
// Topic: twincore/ack/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command, if it carried one.
	CommandID string `json:"command_id,omitempty"`

	// Timestamp is when the acknowledgement was sent (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID names the twin the command addressed.
	DeviceID string `json:"device_id"`

	// Kind is the command kind ("gpio" or "sensor").
	Kind string `json:"kind"`

	// Status indicates the outcome.
	Status AckStatus `json:"status"`

	// Error carries details when Status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for rejected commands.
type AckError struct {
	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// NewAckAccepted creates an acknowledgement for a committed command.
func NewAckAccepted(commandID, deviceID, kind string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Kind:      kind,
		Status:    AckAccepted,
	}
}

// NewAckError creates an acknowledgement for a rejected command.
func NewAckError(commandID, deviceID, kind, code, message string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Kind:      kind,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// BoardSummary describes a twin's layout for consumers that join late.
// Topic: twincore/twin/{device_id}/board
// QoS: configured default, Retained: yes
type BoardSummary struct {
	// DeviceID identifies the twin.
	DeviceID string `json:"device_id"`

	// BoardID names the template the twin was built from.
	BoardID string `json:"board_id"`

	// DisplayName is the human-readable device name.
	DisplayName string `json:"display_name,omitempty"`

	// Simulated reports whether the twin runs without hardware.
	Simulated bool `json:"simulated"`

	// Connected reports whether the physical channel is attached.
	Connected bool `json:"connected"`

	// Timestamp is when the summary was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Pins lists the twin's pins in ascending pin order.
	Pins []BoardPin `json:"pins"`

	// Sensors lists built-in sensors sorted by id.
	Sensors []BoardSensor `json:"sensors,omitempty"`

	// Actuators lists built-in actuators sorted by id.
	Actuators []BoardActuator `json:"actuators,omitempty"`
}

// BoardPin is one pin's layout entry.
type BoardPin struct {
	Pin          int      `json:"pin"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Reserved     bool     `json:"reserved,omitempty"`
}

// BoardSensor is one sensor's layout entry.
type BoardSensor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

// BoardActuator is one actuator's layout entry.
type BoardActuator struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Pin  int    `json:"pin"`
}

// NewBoardSummary builds a summary from a twin snapshot.
func NewBoardSummary(t *twin.Twin) BoardSummary {
	summary := BoardSummary{
		DeviceID:    t.DeviceID,
		BoardID:     t.BoardID,
		DisplayName: t.DisplayName,
		Simulated:   t.Simulation.Simulated,
		Connected:   t.Connected,
		Timestamp:   time.Now().UTC(),
		Pins:        make([]BoardPin, 0, len(t.Pins)),
	}

	for _, p := range t.Pins {
		caps := make([]string, 0, len(p.Capabilities))
		for _, c := range p.Capabilities {
			caps = append(caps, string(c))
		}
		summary.Pins = append(summary.Pins, BoardPin{
			Pin:          p.Pin,
			Name:         p.Name,
			Type:         string(p.Type),
			Capabilities: caps,
			Reserved:     p.Reserved,
		})
	}
	sort.Slice(summary.Pins, func(i, j int) bool { return summary.Pins[i].Pin < summary.Pins[j].Pin })

	for _, s := range t.Sensors {
		summary.Sensors = append(summary.Sensors, BoardSensor{
			ID:   s.ID,
			Type: string(s.Type),
			Unit: s.Unit,
		})
	}
	sort.Slice(summary.Sensors, func(i, j int) bool { return summary.Sensors[i].ID < summary.Sensors[j].ID })

	for _, a := range t.Actuators {
		summary.Actuators = append(summary.Actuators, BoardActuator{
			ID:   a.ID,
			Type: string(a.Type),
			Pin:  a.Pin,
		})
	}
	sort.Slice(summary.Actuators, func(i, j int) bool { return summary.Actuators[i].ID < summary.Actuators[j].ID })

	return summary
}

// GatewayStatus represents the operational status of the gateway.
type GatewayStatus string

const (
	// StatusHealthy indicates the gateway is operating normally.
	StatusHealthy GatewayStatus = "healthy"

	// StatusDegraded indicates the gateway is operating with issues.
	StatusDegraded GatewayStatus = "degraded"

	// StatusStopping indicates the gateway is shutting down.
	StatusStopping GatewayStatus = "stopping"
)

// StatusMessage reports the gateway's operational status.
// Topic: twincore/system/gateway
// QoS: 1, Retained: yes
type StatusMessage struct {
	// Status indicates the current operational status.
	Status GatewayStatus `json:"status"`

	// Timestamp is when the status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Version is the engine version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is how long the gateway has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// TwinsManaged is the number of registered twins.
	TwinsManaged int `json:"twins_managed"`

	// Statistics contains operational counters.
	Statistics *GatewayStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// GatewayStatistics contains operational counters.
type GatewayStatistics struct {
	// EventsForwarded is the number of twin events published.
	EventsForwarded uint64 `json:"events_forwarded"`

	// EventsDropped is the number of events lost to a full queue or a
	// failed publish.
	EventsDropped uint64 `json:"events_dropped"`

	// BoardsPublished is the number of retained board summaries written.
	BoardsPublished uint64 `json:"boards_published"`

	// CommandsHandled is the number of inbound commands committed.
	CommandsHandled uint64 `json:"commands_handled"`

	// CommandsRejected is the number of inbound commands refused.
	CommandsRejected uint64 `json:"commands_rejected"`
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all TwinCore messages.
	TopicPrefix = "twincore"
)

// EventTopic returns the topic for a twin's state-change events.
// Example: twincore/twin/esp32-garage/event
func EventTopic(deviceID string) string {
	return fmt.Sprintf("%s/twin/%s/event", TopicPrefix, deviceID)
}

// BoardTopic returns the retained board-summary topic for a twin.
// Example: twincore/twin/esp32-garage/board
func BoardTopic(deviceID string) string {
	return fmt.Sprintf("%s/twin/%s/board", TopicPrefix, deviceID)
}

// AckTopic returns the topic for a twin's command acknowledgements.
// Example: twincore/ack/esp32-garage
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// StatusTopic returns the gateway status topic.
// Example: twincore/system/gateway
func StatusTopic() string {
	return fmt.Sprintf("%s/system/gateway", TopicPrefix)
}

// CommandSubscribeTopic returns the subscription pattern for all inbound
// commands.
// Pattern: twincore/command/+/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// splitCommandTopic extracts the device id and command kind from an
// inbound command topic. Returns ok=false for anything that does not
// match twincore/command/{device_id}/{kind}.
func splitCommandTopic(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// topicSafeID reports whether a device id can be embedded in an MQTT
// topic without breaking the hierarchy or matching as a wildcard.
func topicSafeID(deviceID string) bool {
	if deviceID == "" {
		return false
	}
	return !strings.ContainsAny(deviceID, "/+#")
}
