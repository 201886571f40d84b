package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/internal/refresh"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

// AppConfig holds the dashboard configuration
type AppConfig struct {
	Client      *apiclient.Client
	Map         *mapview.Map
	Interval    time.Duration
	AutoRefresh bool
	Watch       bool
	Logs        *LogManager
	Logger      zerolog.Logger
}

// App is the dashboard: a map panel, the active aircraft and flight
// lists, the counters and a log panel.
type App struct {
	client   *apiclient.Client
	mapv     *mapview.Map
	interval time.Duration
	autoRun  bool
	watch    bool
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ctrl   *refresh.Controller

	tviewApp  *tview.Application
	mapWidget *MapWidget
	aircraft  *tview.Table
	flights   *tview.Table
	stats     *tview.TextView
	controls  *tview.TextView
	logs      *LogManager

	// queueDraw runs f on the UI goroutine and redraws
	queueDraw func(f func())

	// controls that wait on the refresh task run here, in key order
	commands chan func()
}

// NewApp creates a new dashboard instance
func NewApp(cfg *AppConfig) *App {
	ctx, cancel := context.WithCancel(cfg.Logger.WithContext(context.Background()))

	a := &App{
		client:   cfg.Client,
		mapv:     cfg.Map,
		interval: cfg.Interval,
		autoRun:  cfg.AutoRefresh,
		watch:    cfg.Watch,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		logs:     cfg.Logs,
		commands: make(chan func(), 8),
	}
	if a.logs == nil {
		a.logs = NewLogManager(200)
	}
	a.ctrl = refresh.NewController(ctx, a.load)

	a.setupUI()
	a.queueDraw = func(f func()) { a.tviewApp.QueueUpdateDraw(f) }
	go a.commandLoop()
	return a
}

func (a *App) commandLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case cmd := <-a.commands:
			cmd()
			a.queueDraw(a.render)
		}
	}
}

// enqueue hands cmd to the command loop without blocking the UI goroutine.
func (a *App) enqueue(name string, cmd func()) {
	select {
	case a.commands <- cmd:
	default:
		a.logs.Warn("Busy, ignoring %s", name)
	}
}

func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()
	a.logs.GetView().SetChangedFunc(func() { a.tviewApp.Draw() })

	a.mapWidget = NewMapWidget(a.mapv)

	a.aircraft = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.aircraft.SetBorder(true).SetTitle(" Active Aircraft ")
	a.aircraft.SetSelectedFunc(func(row, _ int) { a.focusRow(row) })

	a.flights = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.flights.SetBorder(true).SetTitle(" Flights ")

	a.stats = tview.NewTextView().SetDynamicColors(true)
	a.stats.SetBorder(true).SetTitle(" Stats ")

	a.controls = tview.NewTextView().SetDynamicColors(true)
	a.controls.SetBorder(true).SetTitle(" Controls ")
	a.controls.SetText(`[yellow]r[-] refresh  [yellow]a[-] auto-refresh  [yellow]s[-] stop
[yellow]ENTER[-] focus  [yellow]0[-] reset map  [yellow]TAB[-] switch list
[yellow]q[-] quit`)

	a.render()

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.stats, 5, 0, false).
		AddItem(a.aircraft, 0, 3, true).
		AddItem(a.flights, 0, 4, false).
		AddItem(a.controls, 5, 0, false)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.mapWidget, 0, 3, false).
		AddItem(a.logs.GetView(), 0, 1, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 6, false).
		AddItem(sidebar, 0, 4, true)

	a.tviewApp.SetRoot(root, true).SetFocus(a.aircraft)
	a.tviewApp.SetInputCapture(a.handleKeyboard)
}

// load fetches the comprehensive snapshot, reconciles it locally and
// applies it to the map. It is the refresh controller's task; a failed
// fetch leaves the current view in place.
func (a *App) load(ctx context.Context) error {
	snap, err := a.client.Comprehensive(ctx)
	if err != nil {
		return fmt.Errorf("loading comprehensive data: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.apply(reconcile.Reconcile(snap))
	return nil
}

func (a *App) apply(view reconcile.View) {
	a.mapv.Apply(view)
	a.logger.Info().
		Int("active", view.ActiveCount).
		Int("tracked", view.TotalTracked).
		Int("flights", len(view.Flights)).
		Msg("Map updated")
	a.queueDraw(a.render)
}

// render copies the map state into the widgets. UI goroutine only.
func (a *App) render() {
	stats := a.mapv.Stats()
	last := "never"
	if t := a.mapv.LastUpdate(); !t.IsZero() {
		last = t.Format("15:04:05")
	}
	auto := "[gray]off[-]"
	if running, interval := a.ctrl.Running(); running {
		auto = "[green]every " + interval.String() + "[-]"
	}
	a.stats.SetText(fmt.Sprintf(
		"[yellow]Active:[-] %d/%d   [yellow]Flights 24h:[-] %d\n[yellow]Updated:[-] %s   [yellow]Auto:[-] %s",
		stats.ActiveCount, stats.TotalTracked, stats.Flights24h, last, auto))

	a.aircraft.Clear()
	setHeader(a.aircraft, "", "Callsign", "ICAO24", "Altitude", "Speed", "Heading", "Status")
	rows := a.mapv.AircraftRows()
	if len(rows) == 0 {
		a.aircraft.SetCell(1, 1, tview.NewTableCell("No aircraft currently transmitting").
			SetTextColor(tcell.ColorGray).SetSelectable(false))
	}
	for i, r := range rows {
		row := i + 1
		glyph := tview.NewTableCell(string(r.Phase.Glyph()))
		a.aircraft.SetCell(row, 0, glyph)
		a.aircraft.SetCell(row, 1, tview.NewTableCell(tview.Escape(r.Callsign)).SetTextColor(tcell.ColorYellow))
		a.aircraft.SetCell(row, 2, tview.NewTableCell(r.ICAO24).SetReference(r.ICAO24))
		a.aircraft.SetCell(row, 3, tview.NewTableCell(r.Altitude))
		a.aircraft.SetCell(row, 4, tview.NewTableCell(r.Speed))
		a.aircraft.SetCell(row, 5, tview.NewTableCell(r.Heading))
		a.aircraft.SetCell(row, 6, tview.NewTableCell(r.Status))
	}

	a.flights.Clear()
	setHeader(a.flights, "Aircraft", "Callsign", "Route", "Departure", "Arrival", "Duration")
	flights := a.mapv.FlightRows()
	if len(flights) == 0 {
		a.flights.SetCell(1, 0, tview.NewTableCell("No flights in the last 24 hours").
			SetTextColor(tcell.ColorGray).SetSelectable(false))
	}
	for i, f := range flights {
		row := i + 1
		a.flights.SetCell(row, 0, tview.NewTableCell(f.Registration))
		a.flights.SetCell(row, 1, tview.NewTableCell(tview.Escape(f.Callsign)).SetTextColor(tcell.ColorYellow))
		a.flights.SetCell(row, 2, tview.NewTableCell(tview.Escape(f.Route())))
		a.flights.SetCell(row, 3, tview.NewTableCell(f.DepartureTime))
		a.flights.SetCell(row, 4, tview.NewTableCell(f.ArrivalTime))
		a.flights.SetCell(row, 5, tview.NewTableCell(f.Duration))
	}

	title := " Map "
	if icao, ok := a.mapv.Focused(); ok {
		title = " Map - " + strings.ToUpper(icao) + " "
	}
	a.mapWidget.SetTitle(title)
}

func setHeader(t *tview.Table, names ...string) {
	for col, name := range names {
		t.SetCell(0, col, tview.NewTableCell(name).
			SetTextColor(tcell.ColorAqua).
			SetSelectable(false))
	}
}

// focusRow zooms the map onto the aircraft in the given table row.
func (a *App) focusRow(row int) {
	cell := a.aircraft.GetCell(row, 2)
	icao, ok := cell.GetReference().(string)
	if !ok {
		return
	}
	if _, ok := a.mapv.Focus(icao); !ok {
		a.logs.Warn("%s has no position", strings.ToUpper(icao))
		return
	}
	a.logs.Info("Focused %s", strings.ToUpper(icao))
	a.render()
}

// handleKeyboard handles the dashboard shortcuts and passes everything
// else to the focused table.
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape || event.Rune() == 'q':
		a.Stop()
		return nil

	case event.Key() == tcell.KeyTab:
		if a.aircraft.HasFocus() {
			a.tviewApp.SetFocus(a.flights)
		} else {
			a.tviewApp.SetFocus(a.aircraft)
		}
		return nil

	case event.Rune() == 'r':
		a.logs.Info("Refreshing")
		if a.ctrl.Trigger() {
			return nil
		}
		go a.refreshOnce()
		return nil

	case event.Rune() == 'a':
		a.enqueue("auto-refresh", a.startAutoRefresh)
		return nil

	case event.Rune() == 's':
		a.enqueue("stop", func() {
			if a.ctrl.Stop() {
				a.logs.Info("Auto-refresh stopped")
			}
		})
		return nil

	case event.Rune() == '0':
		a.mapv.Reset()
		a.render()
		return nil
	}
	return event
}

func (a *App) refreshOnce() {
	if err := a.ctrl.Refresh(a.ctx); err != nil && a.ctx.Err() == nil {
		a.logs.Error("Refresh failed: %v", err)
	}
}

func (a *App) startAutoRefresh() {
	if err := a.ctrl.Start(a.interval); err != nil {
		a.logs.Error("Auto-refresh: %v", err)
		return
	}
	a.logs.Info("Auto-refresh every %s", a.interval)
}

// watchLoop applies views pushed by the server, reconnecting after a
// dropped connection.
func (a *App) watchLoop() {
	for {
		err := a.client.Watch(a.ctx, a.apply)
		if a.ctx.Err() != nil {
			return
		}
		a.logger.Warn().Err(err).Msg("Live updates disconnected, retrying in 5s")

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Run starts the application
func (a *App) Run() error {
	a.logs.Info("Dashboard connected to %s", a.client.BaseURL())

	if a.autoRun {
		a.startAutoRefresh()
	} else {
		go a.refreshOnce()
	}
	if a.watch {
		go a.watchLoop()
	}

	defer a.ctrl.Close()
	return a.tviewApp.Run()
}

// Stop stops the application. The refresh task sees the cancelled
// context and is reaped by Run once the UI has exited.
func (a *App) Stop() {
	a.logs.Info("Shutting down...")
	a.cancel()
	a.tviewApp.Stop()
}
