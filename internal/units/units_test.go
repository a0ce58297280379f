package units

import (
	"math"
	"testing"
)

func TestConvertLength(t *testing.T) {
	tests := []struct {
		name     string
		native   float64
		pitch    float64
		units    string
		expected float64
	}{
		{"25 native to px at pitch 10", 25.0, 10.0, Pixels, 2.5},
		{"25 native to mpx at pitch 10", 25.0, 10.0, Millipitch, 2500.0},
		{"native passthrough", 25.0, 10.0, Native, 25.0},
		{"unknown units default to native", 25.0, 10.0, "unknown", 25.0},
		{"zero length", 0.0, 10.0, Pixels, 0.0},
		{"negative offset", -15.0, 10.0, Pixels, -1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertLength(tt.native, tt.pitch, tt.units)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ConvertLength(%v, %v, %q) = %v, want %v",
					tt.native, tt.pitch, tt.units, got, tt.expected)
			}
		})
	}
}

func TestPixelsToNative(t *testing.T) {
	if got := PixelsToNative(3, 10); got != 30 {
		t.Errorf("PixelsToNative(3, 10) = %v, want 30", got)
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false, want true", u)
		}
	}
	if IsValid("furlongs") {
		t.Error("IsValid(\"furlongs\") = true, want false")
	}
}
