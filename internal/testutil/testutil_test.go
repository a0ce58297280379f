package testutil

import "testing"

func TestAssertInDelta(t *testing.T) {
	AssertInDelta(t, 1.0001, 1.0, 0.001)
	AssertFloatsEqual(t, []float64{1, 2, 3}, []float64{1, 2, 3}, 0)
}
