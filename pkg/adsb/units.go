package adsb

import "math"

// Unit conversion factors. OpenSky reports SI units; the display layer
// uses aviation units.
const (
	// MetersToFeet converts meters to feet
	MetersToFeet = 3.28084

	// MpsToKnots converts meters per second to knots
	MpsToKnots = 1.943844

	// MpsToFeetPerMinute converts meters per second to feet per minute
	MpsToFeetPerMinute = 196.850394
)

// AltitudeFeet returns the altitude rounded to whole feet.
func (s AircraftState) AltitudeFeet() (int, bool) {
	if s.Altitude == nil {
		return 0, false
	}
	return int(math.Round(*s.Altitude * MetersToFeet)), true
}

// SpeedKnots returns the ground speed rounded to whole knots.
func (s AircraftState) SpeedKnots() (int, bool) {
	if s.Velocity == nil {
		return 0, false
	}
	return int(math.Round(*s.Velocity * MpsToKnots)), true
}

// VerticalRateFPM returns the vertical rate rounded to whole feet per minute.
func (s AircraftState) VerticalRateFPM() (int, bool) {
	if s.VerticalRate == nil {
		return 0, false
	}
	return int(math.Round(*s.VerticalRate * MpsToFeetPerMinute)), true
}
