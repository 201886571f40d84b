package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rivo/tview"

	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
)

var (
	styleGrid   = tcell.StyleDefault.Foreground(tcell.ColorDarkGray)
	styleLabel  = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleGround = tcell.StyleDefault.Foreground(tcell.ColorGray)

	// altitude gradient endpoints, pattern altitude to cruise altitude
	lowColor  = colorful.Color{R: 0.18, G: 0.80, B: 0.44}
	highColor = colorful.Color{R: 0.20, G: 0.45, B: 0.95}
)

// altitudeCeilingFt is where the marker gradient reaches highColor.
const altitudeCeilingFt = 12000

// MapWidget is a tview primitive that draws the fleet markers projected
// onto the current map viewport.
type MapWidget struct {
	*tview.Box
	m *mapview.Map
}

// NewMapWidget creates the map panel for m.
func NewMapWidget(m *mapview.Map) *MapWidget {
	w := &MapWidget{Box: tview.NewBox(), m: m}
	w.SetBorder(true).SetTitle(" Map ")
	return w
}

// Draw renders the viewport corners, markers, and the popup of the focused
// aircraft.
func (w *MapWidget) Draw(screen tcell.Screen) {
	w.Box.DrawForSubclass(screen, w)
	x, y, width, height := w.GetInnerRect()
	if width < 4 || height < 2 {
		return
	}

	vp := w.m.Viewport()
	tview.Print(screen, fmt.Sprintf("%.3f,%.3f", vp.North, vp.West), x, y, width, tview.AlignLeft, tcell.ColorDarkGray)
	tview.Print(screen, fmt.Sprintf("%.3f,%.3f", vp.South, vp.East), x, y+height-1, width, tview.AlignRight, tcell.ColorDarkGray)
	c := vp.Center()
	if cx, cy, ok := mapview.Project(vp, c, width, height); ok {
		screen.SetContent(x+cx, y+cy, '+', nil, styleGrid)
	}

	markers := w.m.Markers()
	if len(markers) == 0 {
		tview.Print(screen, "No aircraft with a position", x, y+height/2, width, tview.AlignCenter, tcell.ColorGray)
		return
	}

	states := make(map[string]adsb.AircraftState)
	for _, s := range w.m.View().ActiveAircraft {
		states[s.ICAO24] = s
	}
	focused, _ := w.m.Focused()

	for _, mk := range markers {
		px, py, ok := mapview.Project(vp, mk.Position, width, height)
		if !ok {
			continue
		}
		style := markerStyle(states[mk.ICAO24])
		if mk.ICAO24 == focused {
			style = style.Reverse(true).Bold(true)
		}
		screen.SetContent(x+px, y+py, mk.Phase.Glyph(), nil, style)

		label := mk.ICAO24
		if len(mk.Popup) > 0 {
			label = mk.Popup[0]
		}
		if mk.ICAO24 == focused {
			drawPopup(screen, x+px+2, y+py, x+width, y+height, mk.Popup)
			continue
		}
		if px+2 < width {
			tview.Print(screen, tview.Escape(label), x+px+2, y+py, width-px-2, tview.AlignLeft, tcell.ColorWhite)
		}
	}
}

// drawPopup prints lines to the right of a marker, clipped to the panel.
func drawPopup(screen tcell.Screen, left, top, right, bottom int, lines []string) {
	for i, line := range lines {
		row := top + i
		if row >= bottom || left >= right {
			return
		}
		tview.Print(screen, tview.Escape(line), left, row, right-left, tview.AlignLeft, styleLabelColor(i))
	}
}

func styleLabelColor(line int) tcell.Color {
	if line == 0 {
		return tcell.ColorYellow
	}
	return tcell.ColorWhite
}

// markerStyle colors airborne markers by altitude and grounded ones gray.
func markerStyle(s adsb.AircraftState) tcell.Style {
	if s.OnGround {
		return styleGround
	}
	ft, ok := s.AltitudeFeet()
	if !ok {
		return styleLabel
	}
	return tcell.StyleDefault.Foreground(altitudeColor(ft)).Bold(true)
}

// altitudeColor blends from lowColor at the ground to highColor at
// altitudeCeilingFt and above.
func altitudeColor(ft int) tcell.Color {
	t := float64(ft) / altitudeCeilingFt
	switch {
	case t < 0:
		t = 0
	case t > 1:
		t = 1
	}
	r, g, b := lowColor.BlendLab(highColor, t).Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}
