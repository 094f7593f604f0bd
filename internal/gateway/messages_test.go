package gateway

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/twincore/internal/board"
	"github.com/nerrad567/twincore/internal/twin"
)

func TestGPIOCommandJSON(t *testing.T) {
	// Wire format as consumers send it
	payload := []byte(`{"id":"cmd-1","pin":13,"value":true,"mode":"output"}`)

	var cmd GPIOCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cmd.ID != "cmd-1" || cmd.Pin != 13 || cmd.Value != true || cmd.Mode != "output" {
		t.Errorf("decoded = %+v, want cmd-1/13/true/output", cmd)
	}

	// Numbers decode as float64; the write validator handles coercion
	var analog GPIOCommand
	if err := json.Unmarshal([]byte(`{"pin":26,"value":32768}`), &analog); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if v, ok := analog.Value.(float64); !ok || v != 32768 {
		t.Errorf("Value = %v (%T), want float64 32768", analog.Value, analog.Value)
	}
}

func TestSensorCommandJSON(t *testing.T) {
	payload := []byte(`{"id":"cmd-2","sensor_id":"temp0","value":21.5}`)

	var cmd SensorCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cmd.ID != "cmd-2" || cmd.SensorID != "temp0" || cmd.Value != 21.5 {
		t.Errorf("decoded = %+v, want cmd-2/temp0/21.5", cmd)
	}
}

func TestNewAckAccepted(t *testing.T) {
	ack := NewAckAccepted("cmd-456", "esp32-garage", "gpio")

	if ack.CommandID != "cmd-456" {
		t.Errorf("CommandID = %q, want cmd-456", ack.CommandID)
	}
	if ack.DeviceID != "esp32-garage" {
		t.Errorf("DeviceID = %q, want esp32-garage", ack.DeviceID)
	}
	if ack.Kind != "gpio" {
		t.Errorf("Kind = %q, want gpio", ack.Kind)
	}
	if ack.Status != AckAccepted {
		t.Errorf("Status = %q, want %q", ack.Status, AckAccepted)
	}
	if ack.Error != nil {
		t.Error("Error should be nil for accepted status")
	}
	if ack.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewAckErrorMessage(t *testing.T) {
	ack := NewAckError("cmd-789", "esp32-garage", "sensor", ErrCodeInvalidValue, "value 900 above maximum 85")

	if ack.Status != AckFailed {
		t.Errorf("Status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if ack.Error.Code != ErrCodeInvalidValue {
		t.Errorf("Error.Code = %q, want %q", ack.Error.Code, ErrCodeInvalidValue)
	}
	if ack.Error.Message != "value 900 above maximum 85" {
		t.Errorf("Error.Message = %q", ack.Error.Message)
	}
	if ack.Kind != "sensor" {
		t.Errorf("Kind = %q, want sensor", ack.Kind)
	}
}

func TestAckMessageJSON(t *testing.T) {
	// Accepted acks omit the error object entirely
	data, err := json.Marshal(NewAckAccepted("cmd-1", "dev-01", "gpio"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map failed: %v", err)
	}
	if _, present := raw["error"]; present {
		t.Error("accepted ack should omit error field")
	}
	if raw["status"] != "accepted" {
		t.Errorf("status = %v, want accepted", raw["status"])
	}

	// Acks for unparseable payloads have no command id to echo
	data, err = json.Marshal(NewAckError("", "dev-01", "gpio", ErrCodeInvalidPayload, "malformed"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	raw = map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map failed: %v", err)
	}
	if _, present := raw["command_id"]; present {
		t.Error("ack without command id should omit the field")
	}
	if _, present := raw["error"]; !present {
		t.Error("failed ack should carry error field")
	}
}

func TestNewBoardSummarySortsComponents(t *testing.T) {
	// Map iteration order is random; summaries must come out stable.
	tw := &twin.Twin{
		DeviceID:    "esp32-garage",
		BoardID:     "esp32-devkit-v1",
		DisplayName: "Garage Controller",
		Connected:   true,
		Pins: map[int]*twin.PinState{
			26: {Pin: 26, Name: "A0", Type: twin.PinAnalog,
				Capabilities: []board.PinCapability{board.CapAnalogRead}},
			2: {Pin: 2, Name: "D2", Type: twin.PinDigital,
				Capabilities: []board.PinCapability{board.CapDigitalRead, board.CapDigitalWrite}},
			16: {Pin: 16, Name: "FLASH_CS", Type: twin.PinDigital, Reserved: true,
				Capabilities: []board.PinCapability{board.CapDigitalRead}},
		},
		Sensors: map[string]*twin.SensorState{
			"temp0": {ID: "temp0", Type: board.SensorTemperature, Unit: "celsius"},
			"hum0":  {ID: "hum0", Type: board.SensorHumidity, Unit: "percent"},
		},
		Actuators: map[string]*twin.ActuatorState{
			"led0": {ID: "led0", Type: board.ActuatorLED, Pin: 2},
		},
		Simulation: twin.SimulationSettings{Simulated: true},
	}

	summary := NewBoardSummary(tw)

	if summary.DeviceID != "esp32-garage" || summary.BoardID != "esp32-devkit-v1" {
		t.Errorf("identity = %s/%s", summary.DeviceID, summary.BoardID)
	}
	if summary.DisplayName != "Garage Controller" {
		t.Errorf("DisplayName = %q", summary.DisplayName)
	}
	if !summary.Simulated || !summary.Connected {
		t.Errorf("Simulated/Connected = %v/%v, want true/true", summary.Simulated, summary.Connected)
	}
	if summary.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	if len(summary.Pins) != 3 {
		t.Fatalf("pins = %d, want 3", len(summary.Pins))
	}
	for i, want := range []int{2, 16, 26} {
		if summary.Pins[i].Pin != want {
			t.Errorf("pins[%d] = %d, want %d", i, summary.Pins[i].Pin, want)
		}
	}
	if summary.Pins[0].Type != "digital" {
		t.Errorf("pins[0].Type = %q, want digital", summary.Pins[0].Type)
	}
	wantCaps := []string{"digital_read", "digital_write"}
	if len(summary.Pins[0].Capabilities) != 2 {
		t.Fatalf("pins[0] capabilities = %v, want %v", summary.Pins[0].Capabilities, wantCaps)
	}
	for i, c := range wantCaps {
		if summary.Pins[0].Capabilities[i] != c {
			t.Errorf("pins[0] capabilities[%d] = %q, want %q", i, summary.Pins[0].Capabilities[i], c)
		}
	}
	if !summary.Pins[1].Reserved {
		t.Error("pin 16 should stay reserved in the summary")
	}

	if len(summary.Sensors) != 2 {
		t.Fatalf("sensors = %d, want 2", len(summary.Sensors))
	}
	if summary.Sensors[0].ID != "hum0" || summary.Sensors[1].ID != "temp0" {
		t.Errorf("sensor order = %s, %s; want hum0, temp0", summary.Sensors[0].ID, summary.Sensors[1].ID)
	}
	if summary.Sensors[1].Type != "temperature" || summary.Sensors[1].Unit != "celsius" {
		t.Errorf("temp0 = %+v", summary.Sensors[1])
	}

	if len(summary.Actuators) != 1 || summary.Actuators[0].ID != "led0" || summary.Actuators[0].Pin != 2 {
		t.Errorf("actuators = %+v, want led0 on pin 2", summary.Actuators)
	}
}

func TestTopicHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"event", EventTopic("esp32-garage"), "twincore/twin/esp32-garage/event"},
		{"board", BoardTopic("esp32-garage"), "twincore/twin/esp32-garage/board"},
		{"ack", AckTopic("esp32-garage"), "twincore/ack/esp32-garage"},
		{"status", StatusTopic(), "twincore/system/gateway"},
		{"command subscription", CommandSubscribeTopic(), "twincore/command/+/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestSplitCommandTopic(t *testing.T) {
	tests := []struct {
		topic      string
		wantDevice string
		wantKind   string
		wantOK     bool
	}{
		{"twincore/command/esp32-garage/gpio", "esp32-garage", "gpio", true},
		{"twincore/command/esp32-garage/sensor", "esp32-garage", "sensor", true},
		{"twincore/command/dev/gpio/extra", "", "", false},
		{"twincore/command/dev", "", "", false},
		{"other/command/dev/gpio", "", "", false},
		{"twincore/twin/dev/gpio", "", "", false},
		{"twincore/command//gpio", "", "", false},
		{"twincore/command/dev/", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, kind, ok := splitCommandTopic(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if device != tt.wantDevice || kind != tt.wantKind {
				t.Errorf("got %q/%q, want %q/%q", device, kind, tt.wantDevice, tt.wantKind)
			}
		})
	}
}

func TestTopicSafeID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"esp32-garage", true},
		{"dev_01.local", true},
		{"", false},
		{"with/slash", false},
		{"with+plus", false},
		{"with#hash", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := topicSafeID(tt.id); got != tt.want {
				t.Errorf("topicSafeID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
