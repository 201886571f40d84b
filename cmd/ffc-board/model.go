package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

const fetchTimeout = 20 * time.Second

type model struct {
	client   *apiclient.Client
	mv       *mapview.Map
	interval time.Duration

	rows     []mapview.FlightRow
	aircraft []mapview.AircraftRow
	selected int
	offset   int
	detail   bool
	loading  bool
	err      error

	width  int
	height int
}

type tickMsg time.Time

// viewMsg carries the result of one fetch.
type viewMsg struct {
	view reconcile.View
	err  error
}

func newModel(client *apiclient.Client, mv *mapview.Map, interval time.Duration) model {
	return model{
		client:   client,
		mv:       mv,
		interval: interval,
		loading:  true,
		width:    100,
		height:   30,
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetch asks the server for its reconciled view.
func (m model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		view, err := client.View(ctx)
		return viewMsg{view: view, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.clampOffset()
		return m, nil

	case tickMsg:
		m.loading = true
		return m, tea.Batch(m.fetch(), m.tick())

	case viewMsg:
		m.loading = false
		if msg.err != nil {
			log.Error().Err(msg.err).Msg("Fetching view failed")
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.apply(msg.view)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.move(-1)
		case "down", "j":
			m.move(1)
		case "pgup":
			m.move(-m.pageSize())
		case "pgdown":
			m.move(m.pageSize())
		case "home", "g":
			m.move(-len(m.rows))
		case "end", "G":
			m.move(len(m.rows))
		case "enter", " ":
			m.detail = !m.detail
			m.clampOffset()
		case "r":
			m.loading = true
			return m, m.fetch()
		}
		return m, nil
	}
	return m, nil
}

// apply keeps the selection on the same flight when it is still listed.
func (m *model) apply(view reconcile.View) {
	var current mapview.FlightRow
	hadSelection := m.selected < len(m.rows)
	if hadSelection {
		current = m.rows[m.selected]
	}

	m.mv.Apply(view)
	m.rows = m.mv.FlightRows()
	m.aircraft = m.mv.AircraftRows()

	m.selected = 0
	if hadSelection {
		for i, r := range m.rows {
			if r == current {
				m.selected = i
				break
			}
		}
	}
	m.clampOffset()
}

func (m *model) move(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.selected += delta
	if m.selected < 0 {
		m.selected = 0
	}
	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}
	m.clampOffset()
}

// pageSize is how many flight rows fit under the chrome.
func (m model) pageSize() int {
	chrome := 8
	if m.detail {
		chrome += detailLines + 1
	}
	if n := m.height - chrome; n > 1 {
		return n
	}
	return 1
}

// clampOffset scrolls so the selected row is visible.
func (m *model) clampOffset() {
	page := m.pageSize()
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+page {
		m.offset = m.selected - page + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// activeFor returns the live row of the aircraft flying a flight, if the
// aircraft is transmitting.
func (m model) activeFor(icao24 string) (mapview.AircraftRow, bool) {
	for _, a := range m.aircraft {
		if a.ICAO24 == icao24 {
			return a, true
		}
	}
	return mapview.AircraftRow{}, false
}
