package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/config"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/httpclient"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

type globalFlags struct {
	url         string
	currentPath string
	valuesPath  string
	timeout     time.Duration
	retries     int
	logLevel    string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "meteo-check",
	Short:         "meteo-check scrapes the station once and shows what the exporter would see.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaults := config.Defaults()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.url, "url", defaults.Station.URL, "Station base URL. Overrides STATION_URL.")
	pf.StringVar(&flags.currentPath, "current-path", defaults.Station.CurrentPath, "Path of the current conditions page.")
	pf.StringVar(&flags.valuesPath, "values-path", defaults.Station.ValuesPath, "Path of the values page.")
	pf.DurationVar(&flags.timeout, "timeout", defaults.Scrape.Timeout.Duration(), "Per request timeout. Overrides SCRAPE_TIMEOUT.")
	pf.IntVar(&flags.retries, "retries", defaults.Scrape.RetryCount(), "Retries on transient upstream errors.")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level written to stderr.")
}

// ExecuteContext runs the CLI and exits non-zero on error
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// toolchain is what every subcommand needs to talk to the station
type toolchain struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	client  *httpclient.Client
}

// newToolchain starts from the exporter configuration and lets the flags
// the user actually set take precedence
func newToolchain(cmd *cobra.Command) (*toolchain, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	pf := cmd.Flags()
	if !pf.Changed("url") {
		flags.url = cfg.Station.URL
	}
	if !pf.Changed("current-path") {
		flags.currentPath = cfg.Station.CurrentPath
	}
	if !pf.Changed("values-path") {
		flags.valuesPath = cfg.Station.ValuesPath
	}
	if !pf.Changed("timeout") {
		flags.timeout = cfg.Scrape.Timeout.Duration()
	}
	if !pf.Changed("retries") {
		flags.retries = cfg.Scrape.RetryCount()
	}

	level, err := logging.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, err
	}

	logger := logging.NewStructuredLogger(logging.Options{
		Service: "meteo-check",
		Level:   level,
		Format:  logging.TextFormat,
		Output:  os.Stderr,
	})
	// Not registered anywhere
	collector := metrics.NewCollector(nil, "meteo_check")

	client := httpclient.New(httpclient.Options{
		BaseURL:    flags.url,
		Timeout:    flags.timeout,
		RetryCount: flags.retries,
	}, logger, collector)

	return &toolchain{logger: logger, metrics: collector, client: client}, nil
}
