package main

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unklstewy/ffc-tracker/internal/apiclient"
	"github.com/unklstewy/ffc-tracker/internal/logging"
)

// settings holds the resolved global options. Precedence is flags, then
// FFC_TRACKER_* environment variables (a .env file is loaded first), then
// ~/.ffc-trackerctl.yaml, then defaults.
type settings struct {
	ServerURL string
	Token     string
	Output    string
	Timeout   time.Duration
	LogLevel  string
}

func loadSettings() settings {
	return settings{
		ServerURL: viper.GetString("server-url"),
		Token:     viper.GetString("token"),
		Output:    viper.GetString("output"),
		Timeout:   viper.GetDuration("timeout"),
		LogLevel:  viper.GetString("log-level"),
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ffc-trackerctl",
		Short: "Query and control the FFC aircraft tracker",
		Long: `ffc-trackerctl talks to a running ffc-tracker over its HTTP API.

It lists live aircraft, the reconciled flight view, per-aircraft history
and stored statistics, and drives the server's refresh loop. The report
command queries OpenSky directly using a tracker config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			initConfig(cmd)
			cfg := logging.DefaultConfig()
			cfg.Level = loadSettings().LogLevel
			cfg.Format = "console"
			logging.Configure(cfg)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "CLI config file (default ~/.ffc-trackerctl.yaml)")
	flags.String("server-url", apiclient.DefaultBaseURL, "Tracker API base URL")
	flags.String("token", "", "Admin bearer token for control commands")
	flags.StringP("output", "o", "table", "Output format: table or json")
	flags.Duration("timeout", 30*time.Second, "Request timeout")
	flags.String("log-level", "warn", "Log level")
	_ = viper.BindPFlags(flags)

	cmd.AddCommand(
		newCheckCommand(),
		newLiveCommand(),
		newViewCommand(),
		newHistoryCommand(),
		newFlightsCommand(),
		newStatsCommand(),
		newLoginCommand(),
		newRefreshCommand(),
		newAutoRefreshCommand(),
		newReportCommand(),
		newHashPasswordCommand(),
	)
	return cmd
}

func initConfig(cmd *cobra.Command) {
	// .env first so viper sees its variables
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	viper.SetEnvPrefix("FFC_TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if file, _ := cmd.Flags().GetString("config"); file != "" {
		viper.SetConfigFile(file)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ffc-trackerctl")
	}
	_ = viper.ReadInConfig()
}

func newClient() *apiclient.Client {
	s := loadSettings()
	opts := []apiclient.Option{}
	if s.Token != "" {
		opts = append(opts, apiclient.WithToken(s.Token))
	}
	return apiclient.New(s.ServerURL, opts...)
}
