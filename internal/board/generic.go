package board

import "fmt"

// GenericBoardID is the board id of the built-in fallback template, used
// when a device's real board cannot be identified or introspected.
const GenericBoardID = "generic"

// Pin assignments on the generic board. Analog inputs sit above the
// digital range so every physical pin has a distinct number, the way
// common ADC-capable boards lay out their GPIO map.
const (
	genericLEDPin      = 13
	genericSDAPin      = 4
	genericSCLPin      = 5
	genericFirstADC    = 26
	genericDigitalPins = 20
	genericAnalogPins  = 6
)

// GenericTemplate returns the built-in fallback template: 20 digital pins,
// 6 analog pins, one I2C bus (SCL=5, SDA=4) and an LED on pin 13. It models
// the lowest common denominator of hobbyist development boards so a twin
// can always be materialised, even for unknown hardware.
func GenericTemplate() *Template {
	t := &Template{
		BoardID:          GenericBoardID,
		DisplayName:      "Generic Board",
		SupportedModules: []string{"digitalio", "analogio", "busio", "pwmio"},
	}

	for i := 0; i < genericDigitalPins; i++ {
		pin := PinDefinition{
			Number:       i,
			Name:         digitalPinName(i),
			Role:         RoleDigital,
			Capabilities: []PinCapability{CapDigitalRead, CapDigitalWrite, CapPWM},
			Voltage:      3.3,
		}
		switch i {
		case genericLEDPin:
			pin.Aliases = []string{"LED"}
		case genericSDAPin:
			pin.Aliases = []string{"SDA"}
			pin.Capabilities = append(pin.Capabilities, CapI2C)
		case genericSCLPin:
			pin.Aliases = []string{"SCL"}
			pin.Capabilities = append(pin.Capabilities, CapI2C)
		}
		t.Pins = append(t.Pins, pin)
	}

	for i := 0; i < genericAnalogPins; i++ {
		t.Pins = append(t.Pins, PinDefinition{
			Number:       genericFirstADC + i,
			Name:         analogPinName(i),
			Role:         RoleAnalog,
			Capabilities: []PinCapability{CapAnalogRead},
			Voltage:      3.3,
		})
	}

	t.Buses.I2C = []I2CBusDefinition{{
		ID:           "i2c0",
		SCLPin:       genericSCLPin,
		SDAPin:       genericSDAPin,
		MinFrequency: 100_000,
		MaxFrequency: 400_000,
	}}

	t.Actuators = []ActuatorDefinition{{
		ID:   "led0",
		Name: "Onboard LED",
		Type: ActuatorLED,
		Pin:  genericLEDPin,
	}}

	return t
}

func digitalPinName(n int) string {
	return fmt.Sprintf("D%d", n)
}

func analogPinName(n int) string {
	return fmt.Sprintf("A%d", n)
}
