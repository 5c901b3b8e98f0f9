// Package units provides shared constants and conversions for speeds and
// angles. Everything inside the planner works in SI units (m/s, radians);
// degrees only appear at the steering-wheel boundary.
package units

import "math"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Speed conversion factors.
const (
	MPHToMS = 0.44704
	KPHToMS = 1 / 3.6
	MSToMPH = 1 / MPHToMS
	MSToKPH = 3.6
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units fall back to m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * MSToMPH
	case KMPH, KPH:
		return speedMPS * MSToKPH
	default:
		return speedMPS
	}
}

// ToMPS converts a speed expressed in the given units to meters per second.
func ToMPS(speed float64, fromUnits string) float64 {
	switch fromUnits {
	case MPH:
		return speed * MPHToMS
	case KMPH, KPH:
		return speed * KPHToMS
	default:
		return speed
	}
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
