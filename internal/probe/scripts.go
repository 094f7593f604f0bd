package probe

import (
	"encoding/json"
	"fmt"
)

// Device-side probe scripts.
//
// Each script prints at most one sentinel-prefixed line; everything else
// the device emits (echo, tracebacks) is ignored by the prober. The
// scripts defend every hardware touch with try/except so a missing module
// degrades into an empty payload instead of a traceback.

// setupScript is executed once when a device is attached. It defines the
// helpers the recurring probes call, so the 50 ms poll only has to send a
// single function call instead of a full script.
const setupScript = `import json, time, board, digitalio
_tw_pins = {}
_tw_t0 = time.monotonic()
def _tw_pinno(pin):
    return int("".join(ch for ch in str(pin) if ch.isdigit()) or -1)
def _tw_pin(n):
    p = _tw_pins.get(n)
    if p is None:
        p = digitalio.DigitalInOut(getattr(board, "D%d" % n))
        _tw_pins[n] = p
    return p
def _tw_sensors():
    s = {}
    try:
        import microcontroller
        s["cpu_temp"] = microcontroller.cpu.temperature
    except Exception:
        pass
    return s
def _tw_state():
    pins = {}
    for n, p in _tw_pins.items():
        mode = "output" if p.direction == digitalio.Direction.OUTPUT else "input"
        pins[str(n)] = {"value": p.value, "mode": mode}
    ts = int((time.monotonic() - _tw_t0) * 1000)
    print("DEVICE_STATE:" + json.dumps({"pins": pins, "sensors": _tw_sensors(), "timestamp": ts}))
def _tw_write(n, value, mode):
    try:
        p = _tw_pin(n)
        if mode == "input":
            p.switch_to_input()
        else:
            p.switch_to_output(value=bool(value))
        print("GPIO_CONFIRM:" + json.dumps(p.value))
    except Exception as e:
        print("GPIO_ERROR:" + str(e))
`

// statePollScript is the recurring poll body. The heavy lifting lives in
// setupScript; polls stay cheap on a slow channel.
const statePollScript = `_tw_state()`

// boardAttrsScript dumps the board module's public attribute names.
const boardAttrsScript = `import json, board
print("BOARD_ATTRS:" + json.dumps([a for a in dir(board) if not a.startswith("_")]))
`

// pinCapabilitiesScript probes each board attribute for the operations it
// actually supports. Claiming and releasing a pin is the only reliable
// capability test on this class of firmware.
const pinCapabilitiesScript = `import json, board, digitalio
caps = {}
for a in dir(board):
    if a.startswith("_"):
        continue
    pin = getattr(board, a)
    n = _tw_pinno(pin)
    if n < 0:
        continue
    entry = {"pin": n, "caps": []}
    try:
        d = digitalio.DigitalInOut(pin)
        d.deinit()
        entry["caps"] += ["digital_read", "digital_write"]
    except Exception:
        pass
    try:
        import analogio
        an = analogio.AnalogIn(pin)
        an.deinit()
        entry["caps"].append("analog_read")
    except Exception:
        pass
    if entry["caps"]:
        caps[a] = entry
print("PIN_CAPABILITIES:" + json.dumps(caps))
`

// busDetectionScript constructs each bus kind and reports the ones that
// worked. The I2C scan also lists acknowledging device addresses.
const busDetectionScript = `import json, board
buses = {}
try:
    import busio
    i2c = busio.I2C(board.SCL, board.SDA)
    while not i2c.try_lock():
        pass
    devs = list(i2c.scan())
    i2c.unlock()
    i2c.deinit()
    buses["i2c"] = {"scl": _tw_pinno(board.SCL), "sda": _tw_pinno(board.SDA), "devices": devs}
except Exception:
    pass
try:
    import busio
    spi = busio.SPI(board.SCK, board.MOSI, board.MISO)
    spi.deinit()
    buses["spi"] = {"sck": _tw_pinno(board.SCK), "mosi": _tw_pinno(board.MOSI), "miso": _tw_pinno(board.MISO)}
except Exception:
    pass
try:
    import busio
    uart = busio.UART(board.TX, board.RX)
    uart.deinit()
    buses["uart"] = {"tx": _tw_pinno(board.TX), "rx": _tw_pinno(board.RX)}
except Exception:
    pass
print("BUS_DETECTION:" + json.dumps(buses))
`

// componentDetectionScript recognises built-in components by the name
// patterns this class of board uses.
const componentDetectionScript = `import json, board
found = {"sensors": [], "actuators": []}
try:
    import microcontroller
    t = microcontroller.cpu.temperature
    found["sensors"].append({"id": "cpu_temp", "name": "CPU temperature", "type": "temperature", "unit": "C", "min": -40, "max": 85, "accuracy": 0.5})
except Exception:
    pass
if hasattr(board, "LED"):
    found["actuators"].append({"id": "led0", "name": "Onboard LED", "type": "led", "pin": _tw_pinno(board.LED)})
if hasattr(board, "NEOPIXEL"):
    found["actuators"].append({"id": "neopixel0", "name": "Onboard NeoPixel", "type": "neopixel", "pin": _tw_pinno(board.NEOPIXEL)})
print("COMPONENT_DETECTION:" + json.dumps(found))
`

// BuildGPIOWriteScript builds the one-shot write-and-read-back probe for
// a virtual GPIO write. The device answers GPIO_CONFIRM with the value it
// actually reads back, or GPIO_ERROR with the failure reason.
func BuildGPIOWriteScript(pin int, value any, mode string) string {
	return fmt.Sprintf("_tw_write(%d, %s, %s)", pin, pythonLiteral(value), pythonLiteral(mode))
}

// pythonLiteral renders a Go value as a Python literal for script
// interpolation.
func pythonLiteral(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "True"
		}
		return "False"
	case nil:
		return "None"
	case string:
		// JSON string quoting is valid Python for the values we send.
		b, _ := json.Marshal(x) //nolint:errcheck // strings always marshal
		return string(b)
	default:
		return fmt.Sprintf("%v", x)
	}
}
