package collector

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

const reportFlights = 5

// Report fetches a comprehensive snapshot and writes a plain-text fleet
// report to w.
func (c *Collector) Report(ctx context.Context, w io.Writer) error {
	snap, err := c.Comprehensive(ctx)
	if err != nil {
		return err
	}
	return WriteReport(w, snap, c.opts.LiveHistory)
}

// WriteReport writes the per-aircraft status and recent flights of snap,
// followed by a summary.
func WriteReport(w io.Writer, snap *reconcile.Snapshot, window time.Duration) error {
	rule := strings.Repeat("=", 80)
	sub := strings.Repeat("-", 50)
	hours := int(window.Hours())

	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "FFC AIRCRAFT REPORT - CURRENT STATE + %dH HISTORY\n", hours)
	fmt.Fprintln(&b, rule)

	transmitting, totalFlights := 0, 0
	snap.Range(func(icao string, e reconcile.Entry) bool {
		registration := e.Registration
		if registration == "" {
			registration = "Unknown"
		}

		fmt.Fprintf(&b, "\nAIRCRAFT: %s (%s)\n", registration, icao)
		fmt.Fprintln(&b, sub)

		if s := e.Current; s != nil {
			transmitting++
			writeState(&b, *s)
		} else {
			fmt.Fprintln(&b, "CURRENT STATUS: NOT TRANSMITTING")
		}

		totalFlights += len(e.History)
		fmt.Fprintf(&b, "\nFLIGHT HISTORY (Last %d hours): %d flights\n", hours, len(e.History))
		if len(e.History) == 0 {
			fmt.Fprintf(&b, "     No flight history found in the last %d hours\n", hours)
		}
		for i, f := range e.History {
			if i == reportFlights {
				fmt.Fprintf(&b, "     ... and %d more flights\n", len(e.History)-reportFlights)
				break
			}
			writeFlight(&b, i+1, f)
		}
		fmt.Fprintln(&b, sub)
		return true
	})

	fmt.Fprintln(&b, "\nSUMMARY:")
	fmt.Fprintln(&b, strings.Repeat("=", 50))
	fmt.Fprintf(&b, "Aircraft currently transmitting: %d/%d\n", transmitting, snap.Len())
	fmt.Fprintf(&b, "Total flights in last %d hours: %d\n", hours, totalFlights)
	snap.Range(func(icao string, e reconcile.Entry) bool {
		name := e.Registration
		if name == "" {
			name = icao
		}
		fmt.Fprintf(&b, "   %s: %d flights\n", name, len(e.History))
		return true
	})
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeState(b *strings.Builder, s adsb.AircraftState) {
	status := "IN FLIGHT"
	if s.OnGround {
		status = "ON GROUND"
	}
	fmt.Fprintf(b, "CURRENT STATUS: %s\n", status)
	fmt.Fprintf(b, "   Callsign: %s\n", s.DisplayCallsign())
	if s.HasPosition() {
		fmt.Fprintf(b, "   Position: %.4f, %.4f\n", *s.Latitude, *s.Longitude)
	}
	if ft, ok := s.AltitudeFeet(); ok {
		fmt.Fprintf(b, "   Altitude: %d ft\n", ft)
	}
	if kt, ok := s.SpeedKnots(); ok {
		fmt.Fprintf(b, "   Speed: %d kts\n", kt)
	}
	if s.Heading != nil {
		fmt.Fprintf(b, "   Heading: %.0f°\n", *s.Heading)
	}
	if s.LastContact != nil {
		fmt.Fprintf(b, "   Last Contact: %s\n", time.Unix(*s.LastContact, 0).Format("2006-01-02 15:04:05"))
	}
}

func writeFlight(b *strings.Builder, n int, f adsb.FlightRecord) {
	fmt.Fprintf(b, "   Flight #%d:\n", n)
	fmt.Fprintf(b, "     Callsign: %s\n", f.DisplayCallsign())
	if f.FirstSeen != nil {
		fmt.Fprintf(b, "     Departure: %s\n", time.Unix(*f.FirstSeen, 0).Format("2006-01-02 15:04"))
	}
	if f.LastSeen != nil {
		fmt.Fprintf(b, "     Arrival: %s\n", time.Unix(*f.LastSeen, 0).Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(b, "     From: %s\n", orNA(f.DepartureAirport))
	fmt.Fprintf(b, "     To: %s\n", orNA(f.ArrivalAirport))
	if d, ok := f.Duration(); ok {
		fmt.Fprintf(b, "     Duration: %d min\n", int(d.Minutes()))
	}
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}
