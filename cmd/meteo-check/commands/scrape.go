package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/parser"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/services"
)

var scrapeJSON *bool

func init() {
	scrapeJSON = scrapeCmd.Flags().Bool("json", false, "Print the reading as JSON instead of a table.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--json]",
	Short: "Fetches both station pages once and prints the merged reading.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(cmd)
		if err != nil {
			return err
		}

		svc := services.NewScrapeService(
			tc.client,
			parser.New(tc.logger, tc.metrics),
			services.ScrapeConfig{
				Station:     "cli",
				CurrentPath: flags.currentPath,
				ValuesPath:  flags.valuesPath,
				CacheTTL:    time.Minute,
			},
			tc.logger,
			tc.metrics,
		)

		reading := svc.Scrape(cmd.Context(), true)
		if !reading.IsValid() {
			return errors.New("no valid reading could be scraped from " + flags.url)
		}

		if *scrapeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reading)
		}

		t := newTable()
		renderReading(t, reading)
		t.Render()
		fmt.Printf("scraped in %s\n", svc.LastScrapeDuration().Round(time.Millisecond))
		return nil
	},
}
