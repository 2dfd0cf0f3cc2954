package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/parser"
)

func init() {
	rootCmd.AddCommand(dumpCmd)
}

var dumpCmd = &cobra.Command{
	Use:       "dump <current|values>",
	Short:     "Prints the normalised text of a station page, as the extraction patterns see it.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{parser.PageCurrent, parser.PageValues},
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(cmd)
		if err != nil {
			return err
		}

		page := args[0]
		path := flags.currentPath
		if page == parser.PageValues {
			path = flags.valuesPath
		}

		body, err := tc.client.FetchPage(cmd.Context(), page, path)
		if err != nil {
			return err
		}

		text, err := parser.PageText(body)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}
