package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/coordinates"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

func ptr[T any](v T) *T { return &v }

func flight(icao, reg, callsign string, first, last int64) reconcile.TaggedFlight {
	return reconcile.TaggedFlight{
		FlightRecord: adsb.FlightRecord{
			Callsign:         ptr(callsign),
			DepartureAirport: ptr("KDPA"),
			FirstSeen:        ptr(first),
			LastSeen:         ptr(last),
		},
		ICAO24:       icao,
		Registration: reg,
	}
}

func testView() reconcile.View {
	return reconcile.View{
		ActiveAircraft: []adsb.AircraftState{{
			ICAO24:    "a3581f",
			Callsign:  ptr("FFC1"),
			Latitude:  ptr(41.92),
			Longitude: ptr(-88.24),
			Altitude:  ptr(914.4),
		}},
		Flights: []reconcile.TaggedFlight{
			flight("a3581f", "N31401", "FFC1", 1718000000, 1718003600),
			flight("aa75ca", "N773SP", "FFC7", 1717990000, 1717995400),
			flight("a4ea67", "N416NB", "FFC4", 1717980000, 1717981800),
		},
		ActiveCount:  1,
		TotalTracked: 4,
		Flights24h:   3,
	}
}

func newTestModel() model {
	mv := mapview.New(coordinates.Geographic{}, 0)
	mv.SetLocation(time.UTC)
	return newModel(apiclient.New("http://127.0.0.1:1"), mv, time.Minute)
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewMsgPopulatesBoard(t *testing.T) {
	m := update(t, newTestModel(), viewMsg{view: testView()})

	require.Len(t, m.rows, 3)
	assert.False(t, m.loading)
	assert.Equal(t, "N31401", m.rows[0].Registration)

	out := m.View()
	assert.Contains(t, out, "FFC FLIGHT BOARD")
	assert.Contains(t, out, "Active 1/4")
	assert.Contains(t, out, "KDPA → Unknown")
	assert.Contains(t, out, "In Flight")
	assert.Contains(t, out, "Landed")
	assert.Contains(t, out, "1h 30m")
	assert.Contains(t, out, "1-3 of 3")
}

func TestSelectionFollowsFlight(t *testing.T) {
	m := update(t, newTestModel(), viewMsg{view: testView()})
	m = update(t, m, key("down"))
	assert.Equal(t, 1, m.selected)

	// a newer flight pushes the selected one down a row
	v := testView()
	v.Flights = append([]reconcile.TaggedFlight{flight("a956d4", "N8541D", "FFC9", 1718005000, 1718006000)}, v.Flights...)
	m = update(t, m, viewMsg{view: v})

	assert.Equal(t, 2, m.selected)
	assert.Equal(t, "N773SP", m.rows[m.selected].Registration)
}

func TestMoveClamps(t *testing.T) {
	m := update(t, newTestModel(), viewMsg{view: testView()})

	m = update(t, m, key("up"))
	assert.Equal(t, 0, m.selected)

	for range 10 {
		m = update(t, m, key("j"))
	}
	assert.Equal(t, 2, m.selected)

	m = update(t, m, key("g"))
	assert.Equal(t, 0, m.selected)
}

func TestScrollKeepsSelectionVisible(t *testing.T) {
	m := newTestModel()
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 10})

	v := testView()
	for i := range 20 {
		v.Flights = append(v.Flights, flight("a4ea67", "N416NB", "FFC4", int64(1717900000-i*3600), int64(1717901800-i*3600)))
	}
	m = update(t, m, viewMsg{view: v})

	page := m.pageSize()
	require.Equal(t, 2, page)
	m = update(t, m, key("G"))
	assert.Equal(t, len(m.rows)-1, m.selected)
	assert.Equal(t, len(m.rows)-page, m.offset)
}

func TestDetailToggle(t *testing.T) {
	m := update(t, newTestModel(), viewMsg{view: testView()})

	m = update(t, m, key("enter"))
	assert.True(t, m.detail)
	assert.Contains(t, m.View(), "Now:      In Flight  3000 ft")

	m = update(t, m, key("down"))
	assert.Contains(t, m.View(), "not transmitting")

	m = update(t, m, key("enter"))
	assert.False(t, m.detail)
}

func TestFetchErrorKeepsRows(t *testing.T) {
	m := update(t, newTestModel(), viewMsg{view: testView()})
	m = update(t, m, viewMsg{err: errors.New("connection refused")})

	assert.Len(t, m.rows, 3)
	assert.Contains(t, m.View(), "Error: connection refused")

	m = update(t, m, viewMsg{view: testView()})
	assert.Nil(t, m.err)
}

func TestQuit(t *testing.T) {
	_, cmd := newTestModel().Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestFetchCallsServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/view", r.URL.Path)
		_ = json.NewEncoder(w).Encode(testView())
	}))
	defer srv.Close()

	m := newModel(apiclient.New(srv.URL), mapview.New(coordinates.Geographic{}, 0), time.Minute)
	msg := m.fetch()()

	vm, ok := msg.(viewMsg)
	require.True(t, ok)
	require.NoError(t, vm.err)
	assert.Len(t, vm.view.Flights, 3)
}

func TestCell(t *testing.T) {
	assert.Equal(t, "KDPA → KRFD ", cell("KDPA → KRFD", 12))
	assert.Equal(t, "N31401", cell("N31401", 6))
	assert.Equal(t, "FFC12…", cell("FFC1234567", 6))
}
