package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// millisecondsPerNanosecond converts a duration to fractional milliseconds.
const millisecondsPerNanosecond = float64(time.Millisecond)

// WriteSensorReading writes one sensor value to InfluxDB.
//
// This is the primary method for recording sensor telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Twin identifier (e.g., "esp32-garage")
//   - sensorID: Sensor component id (e.g., "temp0")
//   - value: The reading in the sensor's unit
//
// Example:
//
//	client.WriteSensorReading("esp32-garage", "temp0", 21.5)
func (c *Client) WriteSensorReading(deviceID, sensorID string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"device_id": deviceID,
			"sensor_id": sensorID,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePinChange writes one applied pin mutation.
//
// Field names which part of the pin state changed ("value", "mode",
// "duty_cycle"); value carries that field's new value (bool for a digital
// level, number for analog counts or duty cycle, string for mode).
//
// Parameters:
//   - deviceID: Twin identifier
//   - pin: Physical pin number
//   - field: Which pin field changed
//   - value: The field's committed value
func (c *Client) WritePinChange(deviceID string, pin int, field string, value interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pin_changes",
		map[string]string{
			"device_id": deviceID,
			"pin":       strconv.Itoa(pin),
			"field":     field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteActuatorChange writes one applied actuator mutation.
//
// Parameters:
//   - deviceID: Twin identifier
//   - actuatorID: Actuator component id (e.g., "led0")
//   - field: Which actuator field changed ("on", "level")
//   - value: The field's committed value
func (c *Client) WriteActuatorChange(deviceID, actuatorID, field string, value interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"actuator_changes",
		map[string]string{
			"device_id":   deviceID,
			"actuator_id": actuatorID,
			"field":       field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePollResult records the outcome of one hardware poll.
//
// Used to track poll latency and miss rate per device over time.
//
// Parameters:
//   - deviceID: Twin identifier
//   - duration: How long the probe round-trip took
//   - success: Whether the poll produced a usable snapshot
func (c *Client) WritePollResult(deviceID string, duration time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll_cycles",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"duration_ms": float64(duration) / millisecondsPerNanosecond,
			"success":     success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("engine_stats",
//	    map[string]string{"host": "twincore-01"},
//	    map[string]interface{}{"events_applied": 120, "twins": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
