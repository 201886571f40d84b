package mapview

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

// AircraftRow is one line of the active aircraft list.
type AircraftRow struct {
	ICAO24   string
	Callsign string
	Altitude string
	Speed    string
	Heading  string
	Status   string
	Phase    Phase
}

// FlightRow is one line of the flight list.
type FlightRow struct {
	ICAO24        string
	Registration  string
	Callsign      string
	Departure     string
	Arrival       string
	DepartureTime string
	ArrivalTime   string
	Duration      string
}

// Route is the departure and arrival airports joined by an arrow.
func (r FlightRow) Route() string {
	return r.Departure + " → " + r.Arrival
}

// AircraftRows returns the active aircraft list in view order.
func (m *Map) AircraftRows() []AircraftRow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]AircraftRow, 0, len(m.view.ActiveAircraft))
	for _, s := range m.view.ActiveAircraft {
		rows = append(rows, aircraftRow(s))
	}
	return rows
}

func aircraftRow(s adsb.AircraftState) AircraftRow {
	row := AircraftRow{
		ICAO24:   s.ICAO24,
		Callsign: s.DisplayCallsign(),
		Altitude: "N/A",
		Speed:    "N/A",
		Heading:  formatHeading(s.Heading),
		Status:   statusText(s),
		Phase:    PhaseOf(s),
	}
	if ft, ok := s.AltitudeFeet(); ok {
		row.Altitude = fmt.Sprintf("%d ft", ft)
	}
	if kt, ok := s.SpeedKnots(); ok {
		row.Speed = fmt.Sprintf("%d kt", kt)
	}
	return row
}

// FlightRows returns the reconciled flight list, most recent first.
func (m *Map) FlightRows() []FlightRow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]FlightRow, 0, len(m.view.Flights))
	for _, f := range m.view.Flights {
		rows = append(rows, flightRow(f, m.loc))
	}
	return rows
}

func flightRow(f reconcile.TaggedFlight, loc *time.Location) FlightRow {
	return FlightRow{
		ICAO24:        f.ICAO24,
		Registration:  f.Registration,
		Callsign:      f.DisplayCallsign(),
		Departure:     airportOr(f.DepartureAirport),
		Arrival:       airportOr(f.ArrivalAirport),
		DepartureTime: FormatTime(f.FirstSeen, loc),
		ArrivalTime:   FormatTime(f.LastSeen, loc),
		Duration:      FormatDuration(f.FirstSeen, f.LastSeen),
	}
}

func airportOr(code *string) string {
	if code == nil || strings.TrimSpace(*code) == "" {
		return "Unknown"
	}
	return *code
}

// FormatTime renders an epoch second as "Jan 2 15:04", or "N/A".
func FormatTime(epoch *int64, loc *time.Location) string {
	if epoch == nil {
		return "N/A"
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(*epoch, 0).In(loc).Format("Jan 2 15:04")
}

// FormatDuration renders the time between first and last seen as "Xh Ym"
// or "Ym", rounded to the minute. It is "N/A" when either bound is missing.
func FormatDuration(first, last *int64) string {
	if first == nil || last == nil {
		return "N/A"
	}
	minutes := int(math.Round(float64(*last-*first) / 60))
	if h := minutes / 60; h > 0 {
		return fmt.Sprintf("%dh %dm", h, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}
