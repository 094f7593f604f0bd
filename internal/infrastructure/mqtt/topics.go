package mqtt

import "fmt"

// Topic prefixes per the TwinCore MQTT scheme.
//
// All twin topics use the flat scheme: twincore/{category}/{device_id}/{detail}
// This matches the gateway's messages.go and all runtime subscribers.
const (
	// TopicPrefix is the base for all TwinCore topics.
	TopicPrefix = "twincore"

	// TopicPrefixTwin is the base for per-twin outbound topics.
	TopicPrefixTwin = "twincore/twin"

	// TopicPrefixCommand is the base for inbound virtual-write commands.
	TopicPrefixCommand = "twincore/command"

	// TopicPrefixAck is the base for command acknowledgements.
	TopicPrefixAck = "twincore/ack"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "twincore/system"
)

// Topics provides builders for TwinCore MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.TwinEvent("esp32-garage")
//	// Returns: "twincore/twin/esp32-garage/event"
type Topics struct{}

// =============================================================================
// Twin Topics
// =============================================================================

// TwinEvent returns the topic for state-change events from a twin.
// Every merged physical delta and every confirmed virtual write is
// published here.
//
// Example: twincore/twin/esp32-garage/event
func (Topics) TwinEvent(deviceID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixTwin, deviceID)
}

// TwinBoard returns the retained board-summary topic for a twin.
// New subscribers immediately learn the twin's board layout.
//
// Example: twincore/twin/esp32-garage/board
func (Topics) TwinBoard(deviceID string) string {
	return fmt.Sprintf("%s/%s/board", TopicPrefixTwin, deviceID)
}

// =============================================================================
// Command Topics
// =============================================================================

// CommandGPIO returns the topic for virtual GPIO write requests to a twin.
//
// Example: twincore/command/esp32-garage/gpio
func (Topics) CommandGPIO(deviceID string) string {
	return fmt.Sprintf("%s/%s/gpio", TopicPrefixCommand, deviceID)
}

// CommandSensor returns the topic for sensor override requests to a twin.
// Overrides are only honoured for simulated twins.
//
// Example: twincore/command/esp32-garage/sensor
func (Topics) CommandSensor(deviceID string) string {
	return fmt.Sprintf("%s/%s/sensor", TopicPrefixCommand, deviceID)
}

// Ack returns the topic for command acknowledgements for a twin.
//
// Example: twincore/ack/esp32-garage
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAck, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the engine status topic. The Last Will and
// Testament is registered here so consumers see an offline status even
// after a crash.
//
// Example: twincore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemGateway returns the periodic gateway status topic.
//
// Example: twincore/system/gateway
func (Topics) SystemGateway() string {
	return fmt.Sprintf("%s/gateway", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllTwinEvents returns a pattern matching event streams of every twin.
//
// Pattern: twincore/twin/+/event
func (Topics) AllTwinEvents() string {
	return fmt.Sprintf("%s/+/event", TopicPrefixTwin)
}

// AllTwinBoards returns a pattern matching board summaries of every twin.
//
// Pattern: twincore/twin/+/board
func (Topics) AllTwinBoards() string {
	return fmt.Sprintf("%s/+/board", TopicPrefixTwin)
}

// AllCommands returns a pattern matching all inbound command topics.
//
// Pattern: twincore/command/+/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixCommand)
}

// AllAcks returns a pattern matching all command acknowledgements.
//
// Pattern: twincore/ack/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/+", TopicPrefixAck)
}

// AllTopics returns a pattern matching all TwinCore topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: twincore/#
func (Topics) AllTopics() string {
	return "twincore/#"
}
