// Command ffc-dashboard is a terminal map dashboard for the FFC tracker.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/logging"
	"github.com/unklstewy/ffc-tracker/internal/mapview"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
	"github.com/unklstewy/ffc-tracker/pkg/coordinates"
)

func main() {
	serverURL := flag.String("server", apiclient.DefaultBaseURL, "Tracker API base URL")
	configPath := flag.String("config", "configs/config.json", "Tracker config file (map center and refresh interval)")
	interval := flag.Duration("interval", 0, "Auto-refresh interval (config refresh interval when 0)")
	autoRefresh := flag.Bool("auto", true, "Start auto-refresh immediately")
	watch := flag.Bool("watch", false, "Also apply views pushed over the WebSocket feed")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *interval <= 0 {
		*interval = cfg.Refresh.Interval()
	}
	if *interval <= 0 {
		*interval = 30 * time.Second
	}

	// the log panel owns log output while the UI runs
	logs := NewLogManager(200)
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        logs,
		NoColor:    true,
		PartsOrder: []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
	}).Level(logging.ParseLevel(*logLevel))
	logging.SetDefault(logger)

	m := mapview.New(coordinates.Geographic{
		Latitude:  cfg.Map.CenterLatitude,
		Longitude: cfg.Map.CenterLongitude,
	}, cfg.Map.Zoom)

	app := NewApp(&AppConfig{
		Client:      apiclient.New(*serverURL, apiclient.WithRetry(quickRetry())),
		Map:         m,
		Interval:    *interval,
		AutoRefresh: *autoRefresh,
		Watch:       *watch,
		Logs:        logs,
		Logger:      logger,
	})

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

// quickRetry keeps the UI responsive: one retry, short backoff.
func quickRetry() adsb.RetryConfig {
	return adsb.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}
