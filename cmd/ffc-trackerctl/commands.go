package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/auth"
	"github.com/unklstewy/ffc-tracker/internal/collector"
	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
	"github.com/unklstewy/ffc-tracker/pkg/coordinates"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

// endpointCheck is one endpoint exercised by the check command.
type endpointCheck struct {
	Name string
	Run  func(ctx context.Context, c *apiclient.Client) (string, error)
}

func newCheckCommand() *cobra.Command {
	var registration string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Smoke test the tracker API endpoints",
		Long: `Check calls the read-only API endpoints and reports which of them answer.

Empty aircraft data is normal when no aircraft are flying.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			checks := []endpointCheck{
				{"Index", func(ctx context.Context, c *apiclient.Client) (string, error) {
					idx, err := c.Index(ctx)
					return idx.Message + " (" + idx.Status + ")", err
				}},
				{"Live Aircraft Data", func(ctx context.Context, c *apiclient.Client) (string, error) {
					live, err := c.Live(ctx)
					return fmt.Sprintf("%d aircraft", live.AircraftCount), err
				}},
				{"Comprehensive Data", func(ctx context.Context, c *apiclient.Client) (string, error) {
					snap, err := c.Comprehensive(ctx)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("%d aircraft tracked", snap.Len()), nil
				}},
				{"Aircraft History - " + registration, func(ctx context.Context, c *apiclient.Client) (string, error) {
					h, err := c.History(ctx, registration)
					return fmt.Sprintf("%d flights", h.FlightCount), err
				}},
			}

			passed := 0
			table := tableData{Headers: []string{"Endpoint", "Result", "Detail"}}
			for _, check := range checks {
				ctx, cancel := commandContext(cmd)
				detail, err := check.Run(ctx, c)
				cancel()

				result := "OK"
				if err != nil {
					result, detail = "FAILED", err.Error()
				} else {
					passed++
				}
				table.Rows = append(table.Rows, []string{check.Name, result, detail})
			}

			if err := writeTable(cmd.OutOrStdout(), table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nAPI Endpoints Passed: %d/%d\n", passed, len(checks))
			if passed != len(checks) {
				return errors.New("some API checks failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&registration, "registration", "N31401", "Registration used for the history check")
	return cmd
}

func newLiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "List the fleet's current state vectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			live, err := newClient().Live(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), live, func() tableData {
				return stateTable(live.Aircraft)
			})
		},
	}
}

func stateTable(states []adsb.AircraftState) tableData {
	t := tableData{Headers: []string{"ICAO24", "Callsign", "Position", "Altitude", "Speed", "Heading", "Status"}}
	m := mapview.New(coordinates.Geographic{}, 0)
	m.Apply(reconcile.View{ActiveAircraft: states})
	rows := m.AircraftRows()
	for i, r := range rows {
		pos := "N/A"
		if s := states[i]; s.HasPosition() {
			pos = fmt.Sprintf("%.4f, %.4f", *s.Latitude, *s.Longitude)
		}
		t.Rows = append(t.Rows, []string{r.ICAO24, r.Callsign, pos, r.Altitude, r.Speed, r.Heading, r.Status})
	}
	return t
}

func newViewCommand() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the reconciled aircraft and flight view",
		Long: `View prints the active aircraft and the de-duplicated flight list.

By default the server reconciles; with --local the raw snapshot is fetched
and reconciled here.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c := newClient()
			var view reconcile.View
			if local {
				snap, err := c.Comprehensive(ctx)
				if err != nil {
					return err
				}
				view = reconcile.Reconcile(snap)
			} else {
				var err error
				if view, err = c.View(ctx); err != nil {
					return err
				}
			}

			return render(cmd.OutOrStdout(), view, func() tableData {
				return flightTable(view)
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Reconcile the raw snapshot locally")
	return cmd
}

func flightTable(view reconcile.View) tableData {
	m := mapview.New(coordinates.Geographic{}, 0)
	m.Apply(view)

	t := tableData{Headers: []string{"Registration", "Callsign", "Route", "Departure", "Arrival", "Duration"}}
	for _, r := range m.FlightRows() {
		t.Rows = append(t.Rows, []string{r.Registration, r.Callsign, r.Route(), r.DepartureTime, r.ArrivalTime, r.Duration})
	}
	stats := m.Stats()
	t.Rows = append(t.Rows, []string{
		"", "", "",
		fmt.Sprintf("active %d/%d", stats.ActiveCount, stats.TotalTracked),
		fmt.Sprintf("flights %d", stats.Flights24h),
		"",
	})
	return t
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <registration>",
		Short: "List an aircraft's recent flights from OpenSky",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			h, err := newClient().History(ctx, args[0])
			if apiclient.StatusCode(err) == http.StatusNotFound {
				return fmt.Errorf("%s is not in the tracking list", strings.ToUpper(args[0]))
			}
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), h, func() tableData {
				t := tableData{Headers: []string{"Callsign", "From", "To", "Departure", "Arrival", "Duration"}}
				for _, f := range h.FlightHistory {
					t.Rows = append(t.Rows, []string{
						f.DisplayCallsign(),
						orNA(f.DepartureAirport),
						orNA(f.ArrivalAirport),
						mapview.FormatTime(f.FirstSeen, time.Local),
						mapview.FormatTime(f.LastSeen, time.Local),
						mapview.FormatDuration(f.FirstSeen, f.LastSeen),
					})
				}
				return t
			})
		},
	}
}

func newFlightsCommand() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "flights",
		Short: "List stored flight sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			recent, err := newClient().RecentFlights(ctx, hours)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), recent, func() tableData {
				t := tableData{Headers: []string{"Registration", "Callsign", "From", "To", "Departure", "Minutes", "Max Alt", "Max Speed", "Distance"}}
				for _, s := range recent.Flights {
					t.Rows = append(t.Rows, []string{
						s.Registration,
						orNA(s.Callsign),
						orNA(s.DepartureAirport),
						orNA(s.ArrivalAirport),
						timeOrNA(s.DepartureTime),
						intOrNA(s.DurationMinutes, ""),
						intOrNA(s.MaxAltitudeFt, " ft"),
						intOrNA(s.MaxSpeedKts, " kt"),
						kmOrNA(s.DistanceKm),
					})
				}
				return t
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Look back this many hours (server default when 0)")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats <registration>",
		Short: "Show stored flight statistics for an aircraft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			stats, err := newClient().Stats(ctx, args[0], days)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), stats, func() tableData {
				return tableData{
					Headers: []string{"Registration", "Days", "Flights", "Minutes", "Hours"},
					Rows: [][]string{{
						stats.Registration,
						strconv.Itoa(stats.Days),
						strconv.Itoa(stats.TotalFlights),
						strconv.Itoa(stats.TotalMinutes),
						strconv.FormatFloat(stats.TotalHours, 'f', 1, 64),
					}},
				}
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Statistics window in days")
	return cmd
}

func newLoginCommand() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an admin token",
		Long: `Login prompts for the admin password and prints a bearer token.

Export it as FFC_TRACKER_TOKEN for the refresh and autorefresh commands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			token, err := newClient().Login(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "Admin username")
	return cmd
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Ask the server to refresh its snapshot now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			view, err := newClient().Refresh(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), view, func() tableData {
				return flightTable(view)
			})
		},
	}
}

func newAutoRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autorefresh",
		Short: "Show or control the server's auto-refresh loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			status, err := newClient().AutoRefresh(ctx)
			if err != nil {
				return err
			}
			return renderAutoRefresh(cmd, status)
		},
	}

	var interval time.Duration
	start := &cobra.Command{
		Use:   "start",
		Short: "Start auto-refresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval < 0 {
				return errors.New("interval must be positive")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			status, err := newClient().StartAutoRefresh(ctx, interval)
			if err != nil {
				return err
			}
			return renderAutoRefresh(cmd, status)
		},
	}
	start.Flags().DurationVar(&interval, "interval", 0, "Refresh interval (server default when 0)")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop auto-refresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			status, err := newClient().StopAutoRefresh(ctx)
			if err != nil {
				return err
			}
			return renderAutoRefresh(cmd, status)
		},
	}

	cmd.AddCommand(start, stop)
	return cmd
}

func renderAutoRefresh(cmd *cobra.Command, status apiclient.AutoRefresh) error {
	return render(cmd.OutOrStdout(), status, func() tableData {
		state := "stopped"
		if status.Running {
			state = "running every " + status.Interval().String()
		}
		return tableData{Headers: []string{"Auto-refresh"}, Rows: [][]string{{state}}}
	})
}

func newReportCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a fleet report straight from OpenSky",
		Long: `Report loads a tracker config file, queries OpenSky for the current state
and recent flights of every fleet aircraft, and prints a plain-text report.
No running tracker is needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			client := adsb.NewOpenSkyClient(cfg.OpenSky.ClientConfig())
			defer client.Close()

			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
				Level(zerolog.WarnLevel).With().Timestamp().Logger()
			ctx := logger.WithContext(cmd.Context())

			return collector.NewFromConfig(client, cfg, nil).Report(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "tracker-config", "configs/config.json", "Tracker config file")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for server.admin_password_hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			hash, err := auth.NewService(auth.Config{}).HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readPassword reads a password without echo from a terminal, or one line
// from a pipe.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return line, nil
}

func timeOrNA(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Local().Format("Jan 2 15:04")
}

func intOrNA(v *int, unit string) string {
	if v == nil {
		return "N/A"
	}
	return strconv.Itoa(*v) + unit
}

func kmOrNA(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + " km"
}
