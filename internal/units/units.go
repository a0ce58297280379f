// Package units provides shared constants and validation for length units
// used when reporting incidence positions.
package units

// Unit constants. The pipeline computes in native physical units (whatever
// units the pixel pitch is calibrated in); display conversion happens at the
// reporting edge.
const (
	Pixels     = "px"
	Native     = "native"
	Millipitch = "mpx" // thousandths of a pixel pitch
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{Pixels, Native, Millipitch}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages.
func GetValidUnitsString() string {
	return "px, native, mpx"
}

// ConvertLength converts a length from native physical units to the target
// units given the pixel pitch (native units per pixel).
func ConvertLength(native float64, pitch float64, targetUnits string) float64 {
	switch targetUnits {
	case Pixels:
		return native / pitch
	case Millipitch:
		return native / pitch * 1000
	case Native:
		return native
	default:
		return native
	}
}

// PixelsToNative converts a pixel-space length to native physical units.
func PixelsToNative(pixels float64, pitch float64) float64 {
	return pixels * pitch
}
