package utils

import (
	"math"
	"time"
)

// Round rounds a float64 value to 2 decimal places, away from zero on ties
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}

// Seconds returns d in seconds rounded to 2 decimal places, for reports
func Seconds(d time.Duration) float64 {
	return Round(d.Seconds())
}
