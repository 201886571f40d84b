// Command ffc-board shows the reconciled flight list of the FFC tracker
// as a departures-style board.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/logging"
	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/pkg/coordinates"
)

func main() {
	serverURL := flag.String("server", apiclient.DefaultBaseURL, "Tracker API base URL")
	interval := flag.Duration("interval", 30*time.Second, "Refresh interval")
	utc := flag.Bool("utc", false, "Show times in UTC")
	logFile := flag.String("log", "discard", "Log output (file path, stderr or discard)")
	flag.Parse()

	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "interval must be positive")
		os.Exit(2)
	}

	// stderr belongs to the TUI; log elsewhere unless asked
	cfg := logging.DefaultConfig()
	cfg.Output = *logFile
	cfg.Format = "json"
	_, closer := logging.Configure(cfg)
	defer closer.Close()

	mv := mapview.New(coordinates.Geographic{}, 0)
	if *utc {
		mv.SetLocation(time.UTC)
	}

	m := newModel(apiclient.New(*serverURL), mv, *interval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
