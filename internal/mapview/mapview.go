// Package mapview holds the presentation state of the fleet map: markers,
// viewport, selection and the formatted aircraft and flight lists.
// Terminal clients render from it; it does no drawing itself.
package mapview

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/coordinates"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

const (
	// DefaultZoom is the zoom of a map that has not fitted any markers
	DefaultZoom = 10

	// FocusZoom is the zoom used when one aircraft is focused
	FocusZoom = 13

	// BoundsPadding is added on every side when fitting markers
	BoundsPadding = 0.1
)

// Phase is the flight phase a marker represents.
type Phase int

const (
	Cruising Phase = iota
	Climbing
	Descending
	OnGround
)

func (p Phase) String() string {
	switch p {
	case Climbing:
		return "climbing"
	case Descending:
		return "descending"
	case OnGround:
		return "on ground"
	default:
		return "cruising"
	}
}

// Glyph is the single-cell symbol used for the phase.
func (p Phase) Glyph() rune {
	switch p {
	case Climbing:
		return '▲'
	case Descending:
		return '▼'
	case OnGround:
		return '■'
	default:
		return '✈'
	}
}

// PhaseOf classifies a state: on ground first, then the sign of the
// vertical rate.
func PhaseOf(s adsb.AircraftState) Phase {
	switch {
	case s.OnGround:
		return OnGround
	case s.VerticalRate != nil && *s.VerticalRate > 0:
		return Climbing
	case s.VerticalRate != nil && *s.VerticalRate < 0:
		return Descending
	default:
		return Cruising
	}
}

// Marker is one aircraft drawn on the map.
type Marker struct {
	ICAO24   string
	Position coordinates.Geographic
	Phase    Phase
	Rotation float64 // heading in degrees, 0 when unknown
	Popup    []string
}

// Stats are the counters shown above the lists.
type Stats struct {
	ActiveCount  int
	TotalTracked int
	Flights24h   int
}

// Map is the map view state. It is safe for concurrent use; when two
// refreshes overlap the last Apply wins.
type Map struct {
	mu sync.RWMutex

	home     coordinates.Geographic
	homeZoom int

	center coordinates.Geographic
	zoom   int
	fit    *coordinates.Bounds
	focus  string

	view       reconcile.View
	markers    []Marker
	lastUpdate time.Time
	loc        *time.Location
	now        func() time.Time
}

// New returns a map centered on center at the given zoom.
func New(center coordinates.Geographic, zoom int) *Map {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	return &Map{
		home:     center,
		homeZoom: zoom,
		center:   center,
		zoom:     zoom,
		view:     reconcile.View{ActiveAircraft: []adsb.AircraftState{}, Flights: []reconcile.TaggedFlight{}},
		loc:      time.Local,
		now:      time.Now,
	}
}

// SetLocation sets the time zone used for departure and arrival times.
func (m *Map) SetLocation(loc *time.Location) {
	m.mu.Lock()
	m.loc = loc
	m.mu.Unlock()
}

// Apply replaces the markers with the view's active aircraft and fits the
// viewport to them. Aircraft without a position get no marker. When there
// are no markers the viewport is left where it was.
func (m *Map) Apply(v reconcile.View) {
	markers := make([]Marker, 0, len(v.ActiveAircraft))
	points := make([]coordinates.Geographic, 0, len(v.ActiveAircraft))
	for _, s := range v.ActiveAircraft {
		if !s.HasPosition() {
			continue
		}
		pos := coordinates.Geographic{Latitude: *s.Latitude, Longitude: *s.Longitude}
		rotation := 0.0
		if s.Heading != nil {
			rotation = *s.Heading
		}
		markers = append(markers, Marker{
			ICAO24:   s.ICAO24,
			Position: pos,
			Phase:    PhaseOf(s),
			Rotation: rotation,
			Popup:    PopupLines(s, m.home),
		})
		points = append(points, pos)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.view = v
	m.markers = markers
	m.lastUpdate = m.now()

	if b, ok := fitBounds(points); ok {
		m.fit = &b
		m.center = b.Center()
		m.focus = ""
	}
}

func fitBounds(points []coordinates.Geographic) (coordinates.Bounds, bool) {
	b, ok := coordinates.BoundsOf(points)
	if !ok {
		return b, false
	}
	if b.North == b.South && b.East == b.West {
		span := SpanForZoom(FocusZoom)
		return coordinates.Around(b.Center(), span, span), true
	}
	return b.Pad(BoundsPadding), true
}

// SpanForZoom is the longitude extent, in degrees, shown at a zoom level
// on a two-tile-wide display.
func SpanForZoom(zoom int) float64 {
	return 720 / math.Pow(2, float64(zoom))
}

// Focus centers the map on one aircraft at FocusZoom. It returns false
// when the aircraft has no marker.
func (m *Map) Focus(icao24 string) (Marker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mk := range m.markers {
		if mk.ICAO24 == icao24 {
			m.focus = icao24
			m.center = mk.Position
			m.zoom = FocusZoom
			m.fit = nil
			return mk, true
		}
	}
	return Marker{}, false
}

// Reset returns to the initial center and zoom.
func (m *Map) Reset() {
	m.mu.Lock()
	m.center = m.home
	m.zoom = m.homeZoom
	m.fit = nil
	m.focus = ""
	m.mu.Unlock()
}

// Focused returns the focused aircraft, if any.
func (m *Map) Focused() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.focus, m.focus != ""
}

// Viewport returns the area the map currently shows.
func (m *Map) Viewport() coordinates.Bounds {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fit != nil {
		return *m.fit
	}
	span := SpanForZoom(m.zoom)
	return coordinates.Around(m.center, span/2, span)
}

// Zoom returns the zoom of a non-fitted viewport.
func (m *Map) Zoom() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

// Markers returns a copy of the current markers.
func (m *Map) Markers() []Marker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Marker(nil), m.markers...)
}

// View returns the last applied view.
func (m *Map) View() reconcile.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// Stats returns the counters of the last applied view.
func (m *Map) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		ActiveCount:  m.view.ActiveCount,
		TotalTracked: m.view.TotalTracked,
		Flights24h:   m.view.Flights24h,
	}
}

// LastUpdate returns when Apply last ran, zero before the first.
func (m *Map) LastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate
}

// Project maps p onto a width x height character grid covering b, with
// north at row 0. ok is false when p lies outside b.
func Project(b coordinates.Bounds, p coordinates.Geographic, width, height int) (x, y int, ok bool) {
	if width <= 0 || height <= 0 || !b.Contains(p) {
		return 0, 0, false
	}
	lonSpan := b.East - b.West
	latSpan := b.North - b.South
	if lonSpan <= 0 || latSpan <= 0 {
		return width / 2, height / 2, true
	}

	x = int((p.Longitude - b.West) / lonSpan * float64(width-1))
	y = int((b.North - p.Latitude) / latSpan * float64(height-1))
	return x, y, true
}

// PopupLines are the detail lines shown for a selected marker. The last
// line gives range and bearing from home when the state has a position.
func PopupLines(s adsb.AircraftState, home coordinates.Geographic) []string {
	row := aircraftRow(s)
	lines := []string{
		row.Callsign,
		"Altitude: " + row.Altitude,
		"Speed: " + row.Speed,
		"Heading: " + row.Heading,
		"Climb: " + formatClimb(s),
		"Status: " + row.Status,
	}
	if s.HasPosition() {
		pos := coordinates.Geographic{Latitude: *s.Latitude, Longitude: *s.Longitude}
		lines = append(lines, fmt.Sprintf("From home: %.1f nm %03d°",
			coordinates.DistanceNauticalMiles(home, pos),
			int(math.Round(coordinates.Bearing(home, pos)))%360))
	}
	return lines
}

func formatClimb(s adsb.AircraftState) string {
	fpm, ok := s.VerticalRateFPM()
	if !ok {
		return "N/A"
	}
	if fpm == 0 {
		return "level"
	}
	return fmt.Sprintf("%+d fpm", fpm)
}

func statusText(s adsb.AircraftState) string {
	if s.OnGround {
		return "On Ground"
	}
	return "In Flight"
}

func formatHeading(h *float64) string {
	if h == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d°", int(math.Round(*h)))
}
